package providers

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-bankauth/auth"
	"github.com/goliatone/go-bankauth/core"
	"github.com/goliatone/go-bankauth/transport"
)

// Dependencies are the long-lived handles a strategy needs. Only Manager is
// required.
type Dependencies struct {
	Manager    core.TokenManager
	HTTPClient core.HTTPDoer
	StateStore core.AuthorizationStateStore
	Now        func() time.Time
}

func (d Dependencies) WithDefaults() (Dependencies, error) {
	if d.Manager == nil {
		return Dependencies{}, fmt.Errorf("providers: token manager is required")
	}
	if d.HTTPClient == nil {
		d.HTTPClient = transport.NewHTTPClient(0, 0)
	}
	if d.StateStore == nil {
		d.StateStore = core.NewMemoryAuthorizationStateStore(0)
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return d, nil
}

func (d Dependencies) Exchanger() *auth.TokenExchanger {
	return auth.NewTokenExchanger(d.HTTPClient, 0)
}

// DataClient returns a REST client whose requests for key carry a token
// resolved through the Manager.
func (d Dependencies) DataClient(key core.TokenKey, refresh core.RefreshFunc, shaper transport.HeaderShaper) (*transport.RESTClient, error) {
	injector, err := transport.NewTokenInjector(d.Manager, key, refresh,
		transport.WithBaseDoer(d.HTTPClient),
		transport.WithHeaderShaper(shaper),
	)
	if err != nil {
		return nil, err
	}
	return transport.NewRESTClient(injector), nil
}

// ExpiresAt converts a relative lifetime into an absolute UTC time. A zero
// lifetime yields nil.
func ExpiresAt(now time.Time, expiresIn int64) *time.Time {
	if expiresIn <= 0 {
		return nil
	}
	value := now.UTC().Add(time.Duration(expiresIn) * time.Second)
	return &value
}

// JoinURL appends escaped path segments to base.
func JoinURL(base string, segments ...string) string {
	out := strings.TrimRight(strings.TrimSpace(base), "/")
	for _, segment := range segments {
		segment = strings.Trim(strings.TrimSpace(segment), "/")
		if segment == "" {
			continue
		}
		out += "/" + url.PathEscape(segment)
	}
	return out
}

// WithQuery appends query values to raw, skipping empty ones.
func WithQuery(raw string, values map[string]string) string {
	query := url.Values{}
	for key, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		query.Set(key, value)
	}
	if len(query) == 0 {
		return raw
	}
	separator := "?"
	if strings.Contains(raw, "?") {
		separator = "&"
	}
	return raw + separator + query.Encode()
}

// RequireTenant reports BadInput for a blank tenant id.
func RequireTenant(tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", core.NewBadInputError("providers: tenant id is required")
	}
	return tenantID, nil
}

// FirstNonEmpty returns the first value that is not blank, trimmed.
func FirstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
