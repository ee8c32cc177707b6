// Package consentbank implements the consent-token provider variant. The API
// key buys a server-scoped token; the first authentication for a tenant also
// provisions a remote user whose id becomes the record subject.
package consentbank

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

const (
	scopeServer = "server"
	scopeClient = "client"
)

type Strategy struct {
	cfg       core.ProviderConfig
	deps      providers.Dependencies
	exchanger *auth.TokenExchanger
	tokenURL  string
}

func New(cfg core.ProviderConfig, deps providers.Dependencies) (*Strategy, error) {
	if err := cfg.RequireAPIKey(core.ProviderConsentBank); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, core.NewProviderNotConfiguredError(core.ProviderConsentBank, "base_url is required")
	}
	resolved, err := deps.WithDefaults()
	if err != nil {
		return nil, err
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		tokenURL = providers.JoinURL(cfg.BaseURL, "auth", "token")
	}
	return &Strategy{
		cfg:       cfg,
		deps:      resolved,
		exchanger: resolved.Exchanger(),
		tokenURL:  tokenURL,
	}, nil
}

func (*Strategy) Provider() core.Provider {
	return core.ProviderConsentBank
}

func (s *Strategy) exchange(ctx context.Context, scope string, userID string) (auth.TokenResponse, error) {
	body := map[string]any{
		"api_key": strings.TrimSpace(s.cfg.APIKey),
		"scope":   scope,
	}
	if userID != "" {
		body["user_id"] = userID
	}
	return s.exchanger.Exchange(ctx, auth.TokenRequest{TokenURL: s.tokenURL, JSON: body})
}

// RefreshFunc exchanges the API key and provisions the remote user when the
// tenant has no subject yet.
func (s *Strategy) RefreshFunc(tenantID string) core.RefreshFunc {
	return func(ctx context.Context) (core.RefreshPayload, error) {
		res, err := s.exchange(ctx, scopeServer, "")
		if err != nil {
			return core.RefreshPayload{}, err
		}
		payload := res.Payload
		payload.Metadata = map[string]any{core.MetadataConsentBankScope: scopeServer}

		if previous, ok := core.PreviousRecord(ctx); ok && strings.TrimSpace(previous.SubjectID) != "" {
			payload.SubjectID = previous.SubjectID
			return payload, nil
		}
		userID, err := s.provisionUser(ctx, payload.AccessToken, tenantID)
		if err != nil {
			return core.RefreshPayload{}, err
		}
		payload.SubjectID = userID
		return payload, nil
	}
}

type createUserRequest struct {
	ExternalUserID string `json:"external_user_id"`
}

type createUserResponse struct {
	UserID string `json:"user_id"`
}

// provisionUser runs inside the refresh callback, before the Manager has
// stored the token, so it authenticates with the fresh token directly.
func (s *Strategy) provisionUser(ctx context.Context, token string, tenantID string) (string, error) {
	client := transport.NewRESTClient(transport.StaticTokenDoer{
		Base:   s.deps.HTTPClient,
		Token:  token,
		Shaper: s.shaper(),
	})
	var out createUserResponse
	err := client.DoJSON(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    providers.JoinURL(s.cfg.BaseURL, "users"),
	}, createUserRequest{ExternalUserID: strings.TrimSpace(tenantID)}, &out)
	if err != nil {
		return "", core.NewProviderOperationError(err, s.Provider(), "provision_user")
	}
	if strings.TrimSpace(out.UserID) == "" {
		return "", core.NewProviderOperationError(errMissingUserID, s.Provider(), "provision_user")
	}
	return strings.TrimSpace(out.UserID), nil
}

var errMissingUserID = errors.New("consentbank: user response carried no user_id")

func (s *Strategy) shaper() transport.HeaderShaper {
	return transport.BearerHeaderShaper{VersionHeader: s.cfg.VersionHeader, Version: s.cfg.Version}
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

// GetOAuthRedirectURL authenticates the tenant to learn its subject, then
// buys a client-scoped token bound to that subject and embeds it in the
// hosted consent link. The client token is never stored.
func (s *Strategy) GetOAuthRedirectURL(ctx context.Context, req core.RedirectRequest) (core.OAuthRedirect, error) {
	if strings.TrimSpace(s.cfg.AuthURL) == "" {
		return core.OAuthRedirect{}, core.NewProviderNotConfiguredError(s.Provider(), "auth_url is required for the consent flow")
	}
	session, err := s.Authenticate(ctx, req.TenantID)
	if err != nil {
		return core.OAuthRedirect{}, err
	}
	if strings.TrimSpace(session.SubjectID) == "" {
		return core.OAuthRedirect{}, core.NewProviderOperationError(errMissingUserID, s.Provider(), "consent_link")
	}

	res, err := s.exchange(ctx, scopeClient, session.SubjectID)
	if err != nil {
		return core.OAuthRedirect{}, core.NewProviderOperationError(err, s.Provider(), "consent_link")
	}
	state, err := core.GenerateState()
	if err != nil {
		return core.OAuthRedirect{}, err
	}
	link := providers.WithQuery(s.cfg.AuthURL, map[string]string{
		"client_token": res.Payload.AccessToken,
		"user_id":      session.SubjectID,
		"redirect_uri": providers.FirstNonEmpty(req.RedirectURI, s.cfg.RedirectURI),
		"state":        state,
	})
	return core.OAuthRedirect{
		URL:       link,
		State:     state,
		ExpiresAt: providers.ExpiresAt(s.deps.Now(), res.Payload.ExpiresIn),
	}, nil
}

type accountWire struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	IBAN       string          `json:"iban"`
	Currency   string          `json:"currency"`
	Type       string          `json:"type"`
	Balance    json.RawMessage `json:"balance"`
	ProviderID string          `json:"provider_id"`
}

type accountsEnvelope struct {
	Accounts []accountWire `json:"accounts"`
}

type balanceWire struct {
	Amount    json.RawMessage `json:"amount"`
	Currency  string          `json:"currency"`
	Type      string          `json:"type"`
	UpdatedAt string          `json:"updated_at"`
}

type balancesEnvelope struct {
	Balances []balanceWire `json:"balances"`
}

type transactionWire struct {
	ID          string          `json:"id"`
	Amount      json.RawMessage `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	BookedDate  string          `json:"booked_date"`
	Status      string          `json:"status"`
}

type transactionsEnvelope struct {
	Transactions []transactionWire `json:"transactions"`
}

func (s *Strategy) dataClient(tenantID string) (*transport.RESTClient, error) {
	return s.deps.DataClient(core.NewTokenKey(s.Provider(), tenantID), s.RefreshFunc(tenantID), s.shaper())
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
	var envelope accountsEnvelope
	if err := client.DoJSON(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    providers.JoinURL(s.cfg.BaseURL, "accounts"),
	}, nil, &envelope); err != nil {
		return nil, core.NewProviderOperationError(err, s.Provider(), "get_accounts")
	}
	accounts := make([]core.Account, 0, len(envelope.Accounts))
	for _, item := range envelope.Accounts {
		metadata := map[string]any{}
		if item.ProviderID != "" {
			metadata["provider_id"] = item.ProviderID
		}
		if amount := providers.Amount(item.Balance); amount != "" {
			metadata["balance"] = amount
		}
		accounts = append(accounts, core.Account{
			ID:       item.ID,
			Name:     item.Name,
			IBAN:     item.IBAN,
			Currency: item.Currency,
			Type:     item.Type,
			Metadata: metadata,
		})
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
	var envelope balancesEnvelope
	if err := client.DoJSON(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    providers.JoinURL(s.cfg.BaseURL, "accounts", accountID, "balances"),
	}, nil, &envelope); err != nil {
		return nil, core.NewProviderOperationError(err, s.Provider(), "get_balances")
	}
	balances := make([]core.Balance, 0, len(envelope.Balances))
	for _, item := range envelope.Balances {
		balances = append(balances, core.Balance{
			AccountID: accountID,
			Amount:    providers.Amount(item.Amount),
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
	var envelope transactionsEnvelope
	if err := client.DoJSON(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    providers.JoinURL(s.cfg.BaseURL, "accounts", accountID, "transactions"),
		Query:  providers.TransactionQueryParams(query),
	}, nil, &envelope); err != nil {
		return nil, core.NewProviderOperationError(err, s.Provider(), "get_transactions")
	}
	transactions := make([]core.Transaction, 0, len(envelope.Transactions))
	for _, item := range envelope.Transactions {
		transactions = append(transactions, core.Transaction{
			ID:          item.ID,
			AccountID:   accountID,
			Amount:      providers.Amount(item.Amount),
			Currency:    item.Currency,
			Description: item.Description,
			BookedAt:    providers.ParseTime(item.BookedDate),
			Status:      item.Status,
		})
	}
	return transactions, nil
}

var _ core.Strategy = (*Strategy)(nil)
