// Package enduserbank implements the external end-user provider variant.
// Server access is a plain client-credentials token; bank data is scoped to a
// remote end user whose id is kept in the token record metadata.
package enduserbank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/goliatone/go-bankauth/auth"
	"github.com/goliatone/go-bankauth/core"
	"github.com/goliatone/go-bankauth/providers"
	"github.com/goliatone/go-bankauth/transport"
)

var errMissingEndUserID = errors.New("enduserbank: end user response carried no id")

type Strategy struct {
	cfg       core.ProviderConfig
	deps      providers.Dependencies
	exchanger *auth.TokenExchanger
	tokenURL  string
}

func New(cfg core.ProviderConfig, deps providers.Dependencies) (*Strategy, error) {
	if err := cfg.RequireClient(core.ProviderEndUserBank); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, core.NewProviderNotConfiguredError(core.ProviderEndUserBank, "base_url is required")
	}
	resolved, err := deps.WithDefaults()
	if err != nil {
		return nil, err
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		tokenURL = providers.JoinURL(cfg.BaseURL, "oauth", "token")
	}
	return &Strategy{
		cfg:       cfg,
		deps:      resolved,
		exchanger: resolved.Exchanger(),
		tokenURL:  tokenURL,
	}, nil
}

func (*Strategy) Provider() core.Provider {
	return core.ProviderEndUserBank
}

// RefreshFunc returns no metadata so the end-user id recorded on the previous
// token carries forward.
func (s *Strategy) RefreshFunc(string) core.RefreshFunc {
	return func(ctx context.Context) (core.RefreshPayload, error) {
		res, err := s.exchanger.ClientCredentials(ctx, s.tokenURL, auth.ClientCredentials{
			ClientID:     s.cfg.ClientID,
			ClientSecret: s.cfg.ClientSecret,
		}, s.cfg.Scopes)
		if err != nil {
			return core.RefreshPayload{}, err
		}
		return res.Payload, nil
	}
}

func (s *Strategy) Authenticate(ctx context.Context, tenantID string) (core.AuthResult, error) {
	tenantID, err := providers.RequireTenant(tenantID)
	if err != nil {
		return core.AuthResult{}, err
	}
	key := core.NewTokenKey(s.Provider(), tenantID)
	token, err := s.deps.Manager.GetValidToken(ctx, key, s.RefreshFunc(tenantID))
	if err != nil {
		return core.AuthResult{}, err
	}
	result := core.AuthResult{Provider: key.Provider, TenantID: key.TenantID, Token: token}
	record, found, err := s.deps.Manager.GetActiveToken(ctx, key)
	if err != nil {
		return core.AuthResult{}, err
	}
	if found {
		expiresAt := record.ExpiresAt
		result.ExpiresAt = &expiresAt
		result.SubjectID = record.SubjectID
	}
	return result, nil
}

type createEndUserRequest struct {
	Reference string `json:"reference"`
}

type endUserResponse struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
}

// CreateEndUser returns the end user already recorded for the tenant, or
// creates one remotely and records its id.
func (s *Strategy) CreateEndUser(ctx context.Context, tenantID string, reference string) (core.EndUser, error) {
	tenantID, err := providers.RequireTenant(tenantID)
	if err != nil {
		return core.EndUser{}, err
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return core.EndUser{}, core.NewBadInputError("enduserbank: end user reference is required")
	}
	if _, err := s.Authenticate(ctx, tenantID); err != nil {
		return core.EndUser{}, err
	}
	key := core.NewTokenKey(s.Provider(), tenantID)
	if existing, ok, err := s.recordedEndUser(ctx, key); err != nil {
		return core.EndUser{}, err
	} else if ok {
		return existing, nil
	}

	client, err := s.dataClient(tenantID)
	if err != nil {
		return core.EndUser{}, err
	}
	var out endUserResponse
	if err := client.DoJSON(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    providers.JoinURL(s.cfg.BaseURL, "end-users"),
	}, createEndUserRequest{Reference: reference}, &out); err != nil {
		return core.EndUser{}, core.NewProviderOperationError(err, s.Provider(), "create_end_user")
	}
	endUserID := strings.TrimSpace(out.ID)
	if endUserID == "" {
		return core.EndUser{}, core.NewProviderOperationError(errMissingEndUserID, s.Provider(), "create_end_user")
	}

	if _, _, err := s.deps.Manager.UpdateMetadata(ctx, key, map[string]any{
		core.MetadataEndUserBankEndUserID: endUserID,
		core.MetadataEndUserBankReference: reference,
	}); err != nil {
		return core.EndUser{}, err
	}
	return core.EndUser{ID: endUserID, Reference: reference, Created: true}, nil
}

func (s *Strategy) recordedEndUser(ctx context.Context, key core.TokenKey) (core.EndUser, bool, error) {
	record, found, err := s.deps.Manager.GetActiveToken(ctx, key)
	if err != nil || !found {
		return core.EndUser{}, false, err
	}
	endUserID := core.ReadAnyString(record.Metadata[core.MetadataEndUserBankEndUserID])
	if endUserID == "" {
		return core.EndUser{}, false, nil
	}
	return core.EndUser{
		ID:        endUserID,
		Reference: core.ReadAnyString(record.Metadata[core.MetadataEndUserBankReference]),
	}, true, nil
}

// requireEndUser resolves the recorded end user or reports BadInput asking
// the caller to create one first.
func (s *Strategy) requireEndUser(ctx context.Context, tenantID string) (string, error) {
	if _, err := s.Authenticate(ctx, tenantID); err != nil {
		return "", err
	}
	endUser, ok, err := s.recordedEndUser(ctx, core.NewTokenKey(s.Provider(), tenantID))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", core.NewBadInputError("enduserbank: tenant has no end user; call CreateEndUser first")
	}
	return endUser.ID, nil
}

type authSessionRequest struct {
	EndUserID   string `json:"end_user_id"`
	RedirectURI string `json:"redirect_uri,omitempty"`
	State       string `json:"state"`
}

type authSessionResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at"`
}

// GetOAuthRedirectURL creates a hosted auth session for the tenant's end user.
// When none is recorded yet, one is created with the tenant id or the
// "reference" request metadata as its reference.
func (s *Strategy) GetOAuthRedirectURL(ctx context.Context, req core.RedirectRequest) (core.OAuthRedirect, error) {
	tenantID, err := providers.RequireTenant(req.TenantID)
	if err != nil {
		return core.OAuthRedirect{}, err
	}
	reference := providers.FirstNonEmpty(core.ReadAnyString(req.Metadata["reference"]), tenantID)
	endUser, err := s.CreateEndUser(ctx, tenantID, reference)
	if err != nil {
		return core.OAuthRedirect{}, err
	}
	state, err := core.GenerateState()
	if err != nil {
		return core.OAuthRedirect{}, err
	}

	client, err := s.dataClient(tenantID)
	if err != nil {
		return core.OAuthRedirect{}, err
	}
	var out authSessionResponse
	if err := client.DoJSON(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    providers.JoinURL(s.cfg.BaseURL, "auth-sessions"),
	}, authSessionRequest{
		EndUserID:   endUser.ID,
		RedirectURI: providers.FirstNonEmpty(req.RedirectURI, s.cfg.RedirectURI),
		State:       state,
	}, &out); err != nil {
		return core.OAuthRedirect{}, core.NewProviderOperationError(err, s.Provider(), "create_auth_session")
	}
	if strings.TrimSpace(out.URL) == "" {
		return core.OAuthRedirect{}, core.NewProviderOperationError(errors.New("enduserbank: auth session carried no url"), s.Provider(), "create_auth_session")
	}
	return core.OAuthRedirect{
		URL:       out.URL,
		State:     state,
		SessionID: out.ID,
		ExpiresAt: providers.ParseTime(out.ExpiresAt),
	}, nil
}

type dataEnvelope[T any] struct {
	Data []T `json:"data"`
}

type accountWire struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IBAN     string `json:"iban"`
	Currency string `json:"currency"`
	Kind     string `json:"kind"`
	Bank     string `json:"institution"`
}

type balanceWire struct {
	Amount   json.RawMessage `json:"amount"`
	Currency string          `json:"currency"`
	Kind     string          `json:"kind"`
	AsOf     string          `json:"as_of"`
}

type transactionWire struct {
	ID          string          `json:"id"`
	Amount      json.RawMessage `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	BookedAt    string          `json:"booked_at"`
	Status      string          `json:"status"`
}

func (s *Strategy) dataClient(tenantID string) (*transport.RESTClient, error) {
	return s.deps.DataClient(
		core.NewTokenKey(s.Provider(), tenantID),
		s.RefreshFunc(tenantID),
		transport.BearerHeaderShaper{VersionHeader: s.cfg.VersionHeader, Version: s.cfg.Version},
	)
}

func fetch[T any](ctx context.Context, s *Strategy, tenantID string, operation string, query map[string]string, segments ...string) ([]T, error) {
	tenantID, err := providers.RequireTenant(tenantID)
	if err != nil {
		return nil, err
	}
	endUserID, err := s.requireEndUser(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	client, err := s.dataClient(tenantID)
	if err != nil {
		return nil, err
	}
	path := append([]string{"end-users", endUserID}, segments...)
	var envelope dataEnvelope[T]
	if err := client.DoJSON(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    providers.JoinURL(s.cfg.BaseURL, path...),
		Query:  query,
	}, nil, &envelope); err != nil {
		return nil, core.NewProviderOperationError(err, s.Provider(), operation)
	}
	return envelope.Data, nil
}

func (s *Strategy) GetAccounts(ctx context.Context, tenantID string) ([]core.Account, error) {
	items, err := fetch[accountWire](ctx, s, tenantID, "get_accounts", nil, "accounts")
	if err != nil {
		return nil, err
	}
	accounts := make([]core.Account, 0, len(items))
	for _, item := range items {
		account := core.Account{ID: item.ID, Name: item.Name, IBAN: item.IBAN, Currency: item.Currency, Type: item.Kind}
		if item.Bank != "" {
			account.Metadata = map[string]any{"institution": item.Bank}
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (s *Strategy) GetBalances(ctx context.Context, tenantID string, accountID string) ([]core.Balance, error) {
	items, err := fetch[balanceWire](ctx, s, tenantID, "get_balances", nil, "accounts", accountID, "balances")
	if err != nil {
		return nil, err
	}
	balances := make([]core.Balance, 0, len(items))
	for _, item := range items {
		balances = append(balances, core.Balance{
			AccountID: accountID,
			Amount:    providers.Amount(item.Amount),
			Currency:  item.Currency,
			Type:      item.Kind,
			AsOf:      providers.ParseTime(item.AsOf),
		})
	}
	return balances, nil
}

func (s *Strategy) GetTransactions(ctx context.Context, tenantID string, accountID string, query core.TransactionQuery) ([]core.Transaction, error) {
	items, err := fetch[transactionWire](ctx, s, tenantID, "get_transactions", providers.TransactionQueryParams(query), "accounts", accountID, "transactions")
	if err != nil {
		return nil, err
	}
	transactions := make([]core.Transaction, 0, len(items))
	for _, item := range items {
		transactions = append(transactions, core.Transaction{
			ID:          item.ID,
			AccountID:   accountID,
			Amount:      providers.Amount(item.Amount),
			Currency:    item.Currency,
			Description: item.Description,
			BookedAt:    providers.ParseTime(item.BookedAt),
			Status:      item.Status,
		})
	}
	return transactions, nil
}

var (
	_ core.Strategy           = (*Strategy)(nil)
	_ core.EndUserProvisioner = (*Strategy)(nil)
)
