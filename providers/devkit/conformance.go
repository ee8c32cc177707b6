package devkit

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-bankauth/core"
)

// ValidateStrategyConformance checks the behaviour every strategy shares:
// a normalized provider id, a refresh callback per tenant and authentication
// routed through the Manager so a second call reuses the first token.
func ValidateStrategyConformance(ctx context.Context, strategy core.Strategy, tenantID string) error {
	if strategy == nil {
		return fmt.Errorf("devkit: strategy is required")
	}
	provider := strategy.Provider()
	if strings.TrimSpace(string(provider)) == "" {
		return fmt.Errorf("devkit: strategy provider is required")
	}
	if provider != provider.Normalize() {
		return fmt.Errorf("devkit: strategy provider %q is not normalized", provider)
	}
	if strategy.RefreshFunc(tenantID) == nil {
		return fmt.Errorf("devkit: strategy %q returned a nil refresh callback", provider)
	}

	first, err := strategy.Authenticate(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("devkit: first authenticate: %w", err)
	}
	if first.Provider != provider || first.TenantID != strings.TrimSpace(tenantID) {
		return fmt.Errorf("devkit: authenticate returned key %s/%s", first.Provider, first.TenantID)
	}
	if strings.TrimSpace(first.Token) == "" {
		return fmt.Errorf("devkit: authenticate returned an empty token")
	}

	second, err := strategy.Authenticate(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("devkit: second authenticate: %w", err)
	}
	if second.Token != first.Token {
		return fmt.Errorf("devkit: expected the second authenticate to reuse the cached token")
	}
	if second.SubjectID != first.SubjectID {
		return fmt.Errorf("devkit: subject changed between authentications: %q -> %q", first.SubjectID, second.SubjectID)
	}

	if _, err := strategy.Authenticate(ctx, " "); !core.IsErrorKind(err, core.ErrorBadInput) {
		return fmt.Errorf("devkit: expected a blank tenant to be rejected as bad input, got %v", err)
	}
	return nil
}
