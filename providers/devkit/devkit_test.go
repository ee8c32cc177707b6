package devkit

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/goliatone/go-bankauth/core"
)

func TestFakeBank_ScriptsAndCapturesRequests(t *testing.T) {
	bank := NewFakeBank()
	defer bank.Close()

	bank.Script(http.MethodPost, "/token",
		Reply{Status: http.StatusTooManyRequests},
		Reply{Body: map[string]any{"access_token": "abc"}},
	)

	statuses := []int{}
	for i := 0; i < 3; i++ {
		res, err := bank.Client().Post(bank.URL()+"/token", "application/x-www-form-urlencoded", strings.NewReader("grant_type=client_credentials"))
		if err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
		body, _ := io.ReadAll(res.Body)
		_ = res.Body.Close()
		statuses = append(statuses, res.StatusCode)
		if i > 0 && !strings.Contains(string(body), "abc") {
			t.Fatalf("expected scripted body, got %s", body)
		}
	}
	if statuses[0] != http.StatusTooManyRequests || statuses[1] != http.StatusOK || statuses[2] != http.StatusOK {
		t.Fatalf("expected 429 then repeated 200, got %v", statuses)
	}

	requests := bank.Requests(http.MethodPost, "/token")
	if len(requests) != 3 {
		t.Fatalf("expected three captured requests, got %d", len(requests))
	}
	if requests[0].Form.Get("grant_type") != "client_credentials" {
		t.Fatalf("expected form to be parsed, got %v", requests[0].Form)
	}

	res, err := bank.Client().Get(bank.URL() + "/missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected unscripted routes to 404, got %d", res.StatusCode)
	}
}

type fixedStrategy struct {
	manager core.TokenManager
}

func (fixedStrategy) Provider() core.Provider { return "fixedbank" }

func (fixedStrategy) RefreshFunc(string) core.RefreshFunc {
	return func(context.Context) (core.RefreshPayload, error) {
		return core.RefreshPayload{AccessToken: "fixed", ExpiresIn: 3600}, nil
	}
}

func (s fixedStrategy) Authenticate(ctx context.Context, tenantID string) (core.AuthResult, error) {
	key := core.NewTokenKey(s.Provider(), tenantID)
	if err := key.Validate(); err != nil {
		return core.AuthResult{}, core.NewBadInputError(err.Error())
	}
	token, err := s.manager.GetValidToken(ctx, key, s.RefreshFunc(tenantID))
	if err != nil {
		return core.AuthResult{}, err
	}
	return core.AuthResult{Provider: key.Provider, TenantID: key.TenantID, Token: token}, nil
}

func (fixedStrategy) GetAccounts(context.Context, string) ([]core.Account, error) { return nil, nil }
func (fixedStrategy) GetBalances(context.Context, string, string) ([]core.Balance, error) {
	return nil, nil
}
func (fixedStrategy) GetTransactions(context.Context, string, string, core.TransactionQuery) ([]core.Transaction, error) {
	return nil, nil
}
func (fixedStrategy) GetOAuthRedirectURL(context.Context, core.RedirectRequest) (core.OAuthRedirect, error) {
	return core.OAuthRedirect{}, nil
}

func TestValidateStrategyConformance(t *testing.T) {
	manager, err := core.NewManager(core.NewMemoryRecordStore(), nil, core.DefaultConfig())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := ValidateStrategyConformance(context.Background(), fixedStrategy{manager: manager}, "tenant-1"); err != nil {
		t.Fatalf("conformance: %v", err)
	}
	if err := ValidateStrategyConformance(context.Background(), nil, "tenant-1"); err == nil {
		t.Fatalf("expected nil strategy to fail conformance")
	}
}
