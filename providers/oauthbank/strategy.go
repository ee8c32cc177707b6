// Package oauthbank implements the client-credential provider variant: a
// direct client-credentials exchange for server access, and an
// authorization-code + PKCE flow for user consent.
package oauthbank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-bankauth/auth"
	"github.com/goliatone/go-bankauth/core"
	"github.com/goliatone/go-bankauth/providers"
	"github.com/goliatone/go-bankauth/transport"
)

const (
	grantClientCredentials = "client_credentials"
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"

	defaultStateTTL = 15 * time.Minute
)

var defaultScopes = []string{"accounts", "balance", "transactions"}

type Strategy struct {
	cfg       core.ProviderConfig
	deps      providers.Dependencies
	exchanger *auth.TokenExchanger
	scopes    []string
}

func New(cfg core.ProviderConfig, deps providers.Dependencies) (*Strategy, error) {
	if err := cfg.RequireClient(core.ProviderOAuthBank); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.TokenURL) == "" || strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, core.NewProviderNotConfiguredError(core.ProviderOAuthBank, "token_url and base_url are required")
	}
	resolved, err := deps.WithDefaults()
	if err != nil {
		return nil, err
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	return &Strategy{
		cfg:       cfg,
		deps:      resolved,
		exchanger: resolved.Exchanger(),
		scopes:    append([]string(nil), scopes...),
	}, nil
}

func (*Strategy) Provider() core.Provider {
	return core.ProviderOAuthBank
}

func (s *Strategy) credentials() auth.ClientCredentials {
	return auth.ClientCredentials{ClientID: s.cfg.ClientID, ClientSecret: s.cfg.ClientSecret}
}

// RefreshFunc uses the superseded record's refresh token when it has one and
// falls back to a client-credentials exchange otherwise.
func (s *Strategy) RefreshFunc(string) core.RefreshFunc {
	return func(ctx context.Context) (core.RefreshPayload, error) {
		if previous, ok := core.PreviousRecord(ctx); ok && strings.TrimSpace(previous.RefreshToken) != "" {
			res, err := s.exchanger.RefreshToken(ctx, s.cfg.TokenURL, s.credentials(), previous.RefreshToken, nil)
			if err == nil {
				payload := res.Payload
				if payload.RefreshToken == "" {
					payload.RefreshToken = previous.RefreshToken
				}
				payload.Metadata = s.tokenMetadata(grantRefreshToken, res.Scope)
				return payload, nil
			}
		}

		res, err := s.exchanger.ClientCredentials(ctx, s.cfg.TokenURL, s.credentials(), s.scopes)
		if err != nil {
			return core.RefreshPayload{}, err
		}
		payload := res.Payload
		payload.Metadata = s.tokenMetadata(grantClientCredentials, res.Scope)
		return payload, nil
	}
}

func (s *Strategy) tokenMetadata(grant string, scope string) map[string]any {
	if strings.TrimSpace(scope) == "" {
		scope = strings.Join(s.scopes, " ")
	}
	return map[string]any{
		core.MetadataOAuthBankGrantType: grant,
		core.MetadataOAuthBankClientID:  strings.TrimSpace(s.cfg.ClientID),
		core.MetadataOAuthBankScope:     scope,
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

func (s *Strategy) GetOAuthRedirectURL(ctx context.Context, req core.RedirectRequest) (core.OAuthRedirect, error) {
	tenantID, err := providers.RequireTenant(req.TenantID)
	if err != nil {
		return core.OAuthRedirect{}, err
	}
	if strings.TrimSpace(s.cfg.AuthURL) == "" {
		return core.OAuthRedirect{}, core.NewProviderNotConfiguredError(s.Provider(), "auth_url is required for the authorization flow")
	}
	redirectURI := providers.FirstNonEmpty(req.RedirectURI, s.cfg.RedirectURI)
	if redirectURI == "" {
		return core.OAuthRedirect{}, core.NewBadInputError("oauthbank: redirect uri is required")
	}

	state, err := core.GenerateState()
	if err != nil {
		return core.OAuthRedirect{}, err
	}
	pkce := auth.NewPKCE()
	expiresAt := s.deps.Now().UTC().Add(defaultStateTTL)
	if err := s.deps.StateStore.Save(ctx, core.PendingAuthorization{
		State:       state,
		Provider:    s.Provider(),
		TenantID:    tenantID,
		Verifier:    pkce.Verifier,
		RedirectURI: redirectURI,
		Metadata:    req.Metadata,
	}); err != nil {
		return core.OAuthRedirect{}, err
	}

	authURL, err := auth.AuthorizationURL(auth.AuthorizationURLRequest{
		AuthURL:     s.cfg.AuthURL,
		TokenURL:    s.cfg.TokenURL,
		ClientID:    s.cfg.ClientID,
		RedirectURI: redirectURI,
		Scopes:      s.scopes,
		State:       state,
		Verifier:    pkce.Verifier,
	})
	if err != nil {
		return core.OAuthRedirect{}, err
	}
	return core.OAuthRedirect{URL: authURL, State: state, ExpiresAt: &expiresAt}, nil
}

// ExchangeOAuthCode consumes state, exchanges code with the saved verifier and
// stores the resulting token through the Manager.
func (s *Strategy) ExchangeOAuthCode(ctx context.Context, tenantID string, code string, state string) (core.AuthResult, error) {
	tenantID, err := providers.RequireTenant(tenantID)
	if err != nil {
		return core.AuthResult{}, err
	}
	pending, err := s.deps.StateStore.Consume(ctx, state)
	if err != nil {
		return core.AuthResult{}, core.NewOAuthStateInvalidError(err)
	}
	if pending.Provider.Normalize() != s.Provider() || pending.TenantID != tenantID {
		return core.AuthResult{}, core.NewOAuthStateInvalidError(fmt.Errorf("oauthbank: oauth state was issued for %s/%s", pending.Provider, pending.TenantID))
	}

	res, err := s.exchanger.AuthorizationCode(ctx, s.cfg.TokenURL, s.credentials(), code, pending.Verifier, pending.RedirectURI)
	if err != nil {
		return core.AuthResult{}, err
	}
	key := core.NewTokenKey(s.Provider(), tenantID)
	record, err := s.deps.Manager.StoreToken(ctx, core.StoreTokenInput{
		Key:          key,
		Token:        res.Payload.AccessToken,
		RefreshToken: res.Payload.RefreshToken,
		ExpiresIn:    res.Payload.ExpiresIn,
		Metadata:     s.tokenMetadata(grantAuthorizationCode, res.Scope),
	})
	if err != nil {
		return core.AuthResult{}, err
	}
	expiresAt := record.ExpiresAt
	return core.AuthResult{
		Provider:  key.Provider,
		TenantID:  key.TenantID,
		Token:     record.Token,
		ExpiresAt: &expiresAt,
	}, nil
}

type accountWire struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	IBAN        string `json:"iban"`
	Currency    string `json:"currency"`
	AccountType string `json:"account_type"`
	Provider    string `json:"provider_name"`
}

type balanceWire struct {
	Current   json.RawMessage `json:"current"`
	Currency  string          `json:"currency"`
	Type      string          `json:"type"`
	UpdatedAt string          `json:"update_timestamp"`
}

type transactionWire struct {
	TransactionID string          `json:"transaction_id"`
	Amount        json.RawMessage `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
	Timestamp     string          `json:"timestamp"`
	Status        string          `json:"status"`
}

type resultsEnvelope[T any] struct {
	Results []T `json:"results"`
}

func (s *Strategy) dataClient(tenantID string) (*transport.RESTClient, error) {
	key := core.NewTokenKey(s.Provider(), tenantID)
	return s.deps.DataClient(key, s.RefreshFunc(tenantID), transport.BearerHeaderShaper{
		VersionHeader: s.cfg.VersionHeader,
		Version:       s.cfg.Version,
	})
}

func (s *Strategy) GetAccounts(ctx context.Context, tenantID string) ([]core.Account, error) {
	tenantID, err := providers.RequireTenant(tenantID)
	if err != nil {
		return nil, err
	}
	client, err := s.dataClient(tenantID)
	if err != nil {
		return nil, err
	}
	var envelope resultsEnvelope[accountWire]
	if err := client.DoJSON(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    providers.JoinURL(s.cfg.BaseURL, "accounts"),
	}, nil, &envelope); err != nil {
		return nil, err
	}
	accounts := make([]core.Account, 0, len(envelope.Results))
	for _, item := range envelope.Results {
		account := core.Account{
			ID:       item.AccountID,
			Name:     item.DisplayName,
			IBAN:     item.IBAN,
			Currency: item.Currency,
			Type:     item.AccountType,
		}
		if item.Provider != "" {
			account.Metadata = map[string]any{"bank": item.Provider}
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (s *Strategy) GetBalances(ctx context.Context, tenantID string, accountID string) ([]core.Balance, error) {
	tenantID, err := providers.RequireTenant(tenantID)
	if err != nil {
		return nil, err
	}
	client, err := s.dataClient(tenantID)
	if err != nil {
		return nil, err
	}
	var envelope resultsEnvelope[balanceWire]
	if err := client.DoJSON(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    providers.JoinURL(s.cfg.BaseURL, "accounts", accountID, "balance"),
	}, nil, &envelope); err != nil {
		return nil, err
	}
	balances := make([]core.Balance, 0, len(envelope.Results))
	for _, item := range envelope.Results {
		balances = append(balances, core.Balance{
			AccountID: accountID,
			Amount:    providers.Amount(item.Current),
			Currency:  item.Currency,
			Type:      item.Type,
			AsOf:      providers.ParseTime(item.UpdatedAt),
		})
	}
	return balances, nil
}

func (s *Strategy) GetTransactions(ctx context.Context, tenantID string, accountID string, query core.TransactionQuery) ([]core.Transaction, error) {
	tenantID, err := providers.RequireTenant(tenantID)
	if err != nil {
		return nil, err
	}
	client, err := s.dataClient(tenantID)
	if err != nil {
		return nil, err
	}
	params := providers.TransactionQueryParams(query)
	var envelope resultsEnvelope[transactionWire]
	if err := client.DoJSON(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    providers.JoinURL(s.cfg.BaseURL, "accounts", accountID, "transactions"),
		Query:  map[string]string{"from": params["date_from"], "to": params["date_to"]},
	}, nil, &envelope); err != nil {
		return nil, err
	}
	transactions := make([]core.Transaction, 0, len(envelope.Results))
	for _, item := range envelope.Results {
		transactions = append(transactions, core.Transaction{
			ID:          item.TransactionID,
			AccountID:   accountID,
			Amount:      providers.Amount(item.Amount),
			Currency:    item.Currency,
			Description: item.Description,
			BookedAt:    providers.ParseTime(item.Timestamp),
			Status:      item.Status,
		})
	}
	return transactions, nil
}

var (
	_ core.Strategy      = (*Strategy)(nil)
	_ core.CodeExchanger = (*Strategy)(nil)
)
