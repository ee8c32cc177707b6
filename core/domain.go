package core

import (
	"fmt"
	"strings"
	"time"
)

// Provider identifies an external banking data source.
type Provider string

const (
	ProviderOAuthBank   Provider = "oauthbank"
	ProviderConsentBank Provider = "consentbank"
	ProviderEndUserBank Provider = "enduserbank"
)

func (p Provider) String() string {
	return string(p)
}

func (p Provider) Normalize() Provider {
	return Provider(strings.TrimSpace(strings.ToLower(string(p))))
}

// Metadata keys are namespaced by the provider that owns them.
const (
	MetadataOAuthBankScope       = "oauthbank.scope"
	MetadataOAuthBankClientID    = "oauthbank.client_id"
	MetadataOAuthBankGrantType   = "oauthbank.grant_type"
	MetadataConsentBankScope     = "consentbank.scope"
	MetadataEndUserBankEndUserID = "enduserbank.end_user_id"
	MetadataEndUserBankReference = "enduserbank.external_reference"
)

// TokenKey scopes every credential to one provider and one tenant.
type TokenKey struct {
	Provider Provider
	TenantID string
}

func NewTokenKey(provider Provider, tenantID string) TokenKey {
	return TokenKey{
		Provider: provider.Normalize(),
		TenantID: strings.TrimSpace(tenantID),
	}
}

func (k TokenKey) Normalize() TokenKey {
	return NewTokenKey(k.Provider, k.TenantID)
}

func (k TokenKey) Validate() error {
	if strings.TrimSpace(string(k.Provider)) == "" {
		return fmt.Errorf("core: provider is required")
	}
	if strings.TrimSpace(k.TenantID) == "" {
		return fmt.Errorf("core: tenant id is required")
	}
	return nil
}

func (k TokenKey) String() string {
	return string(k.Provider) + ":" + k.TenantID
}

// TokenRecord is one issued credential as persisted by a RecordStore.
type TokenRecord struct {
	ID           string
	Provider     Provider
	TenantID     string
	Token        string
	RefreshToken string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	IsActive     bool
	SubjectID    string
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (r TokenRecord) Key() TokenKey {
	return NewTokenKey(r.Provider, r.TenantID)
}

// CacheEntry mirrors the active TokenRecord for a key. ExpiresAt is epoch
// milliseconds.
type CacheEntry struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
	SubjectID string `json:"subjectId,omitempty"`
}

func (e CacheEntry) ExpiresAtTime() time.Time {
	return time.UnixMilli(e.ExpiresAt).UTC()
}

type TokenInfo struct {
	HasToken  bool
	ExpiresAt *time.Time
	IsValid   bool
}

// RefreshPayload is what a refresh callback hands back to the Manager.
type RefreshPayload struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	SubjectID    string
	Metadata     map[string]any
}

type StoreTokenInput struct {
	Key          TokenKey
	Token        string
	RefreshToken string
	ExpiresIn    int64
	SubjectID    string
	Metadata     map[string]any
}

type AuthResult struct {
	Provider  Provider
	TenantID  string
	Token     string
	ExpiresAt *time.Time
	SubjectID string
}

type Account struct {
	ID       string
	Name     string
	IBAN     string
	Currency string
	Type     string
	Metadata map[string]any
}

type Balance struct {
	AccountID string
	Amount    string
	Currency  string
	Type      string
	AsOf      *time.Time
}

type Transaction struct {
	ID          string
	AccountID   string
	Amount      string
	Currency    string
	Description string
	BookedAt    *time.Time
	Status      string
}

type TransactionQuery struct {
	From *time.Time
	To   *time.Time
}

type RedirectRequest struct {
	TenantID    string
	RedirectURI string
	Metadata    map[string]any
}

// OAuthRedirect is a user-facing authorization link. SessionID is only set by
// providers that create a server-side auth session.
type OAuthRedirect struct {
	URL       string
	State     string
	SessionID string
	ExpiresAt *time.Time
}

type EndUser struct {
	ID        string
	Reference string
	Created   bool
}

func cloneAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func mergeAnyMap(base map[string]any, overlay map[string]any) map[string]any {
	out := cloneAnyMap(base)
	for key, value := range overlay {
		out[key] = value
	}
	return out
}

func cloneTokenRecord(record TokenRecord) TokenRecord {
	cloned := record
	cloned.Metadata = cloneAnyMap(record.Metadata)
	return cloned
}
