package oauthbank

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/goliatone/go-bankauth/cache/memcache"
	"github.com/goliatone/go-bankauth/core"
	"github.com/goliatone/go-bankauth/providers"
	"github.com/goliatone/go-bankauth/providers/devkit"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestStrategy(t *testing.T, bank *devkit.FakeBank, clock *testClock) (*Strategy, *core.Manager) {
	t.Helper()
	manager, err := core.NewManager(core.NewMemoryRecordStore(), nil, core.DefaultConfig(), core.WithManagerClock(clock.Now))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	strategy, err := New(core.ProviderConfig{
		BaseURL:       bank.URL() + "/data/v1",
		AuthURL:       bank.URL() + "/authorize",
		TokenURL:      bank.URL() + "/token",
		ClientID:      "client-1",
		ClientSecret:  "secret-1",
		RedirectURI:   "https://app.example.com/callback",
		VersionHeader: "X-Api-Version",
		Version:       "2026-01-01",
	}, providers.Dependencies{
		Manager:    manager,
		HTTPClient: bank.Client(),
		Now:        clock.Now,
	})
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}
	return strategy, manager
}

func TestNew_RequiresClientCredentials(t *testing.T) {
	_, err := New(core.ProviderConfig{TokenURL: "https://bank.test/token", BaseURL: "https://bank.test"}, providers.Dependencies{})
	if !core.IsErrorKind(err, core.ErrorProviderNotConfigured) {
		t.Fatalf("expected provider not configured, got %v", err)
	}
}

func TestStrategy_Conformance(t *testing.T) {
	bank := devkit.NewFakeBank()
	defer bank.Close()
	bank.Script(http.MethodPost, "/token", devkit.Reply{Body: map[string]any{
		"access_token": "cc-token",
		"expires_in":   3600,
		"scope":        "accounts balance transactions",
	}})

	strategy, _ := newTestStrategy(t, bank, &testClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)})
	if err := devkit.ValidateStrategyConformance(context.Background(), strategy, "tenant-1"); err != nil {
		t.Fatalf("conformance: %v", err)
	}
	if got := bank.Count(http.MethodPost, "/token"); got != 1 {
		t.Fatalf("expected a single token exchange, got %d", got)
	}
	req := bank.Requests(http.MethodPost, "/token")[0]
	if req.Form.Get("grant_type") != "client_credentials" {
		t.Fatalf("expected client_credentials grant, got %v", req.Form)
	}
	if user, _, ok := (&http.Request{Header: req.Header}).BasicAuth(); !ok || user != "client-1" {
		t.Fatalf("expected basic auth with the client id")
	}
}

func TestStrategy_RefreshUsesStoredRefreshToken(t *testing.T) {
	bank := devkit.NewFakeBank()
	defer bank.Close()
	bank.Script(http.MethodPost, "/token", devkit.Reply{Body: map[string]any{
		"access_token": "rotated-token",
		"expires_in":   1800,
	}})

	clock := &testClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
	strategy, manager := newTestStrategy(t, bank, clock)
	key := core.NewTokenKey(core.ProviderOAuthBank, "tenant-1")
	if _, err := manager.StoreToken(context.Background(), core.StoreTokenInput{
		Key:          key,
		Token:        "user-token",
		RefreshToken: "refresh-1",
		ExpiresIn:    600,
	}); err != nil {
		t.Fatalf("store token: %v", err)
	}

	clock.now = clock.now.Add(6 * time.Minute)
	result, err := strategy.Authenticate(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.Token != "rotated-token" {
		t.Fatalf("expected rotated token, got %q", result.Token)
	}
	form := bank.Requests(http.MethodPost, "/token")[0].Form
	if form.Get("grant_type") != "refresh_token" || form.Get("refresh_token") != "refresh-1" {
		t.Fatalf("expected refresh_token grant with the stored token, got %v", form)
	}

	record, found, err := manager.GetActiveToken(context.Background(), key)
	if err != nil || !found {
		t.Fatalf("expected active record, found=%v err=%v", found, err)
	}
	if record.RefreshToken != "refresh-1" {
		t.Fatalf("expected refresh token to carry over when not rotated, got %q", record.RefreshToken)
	}
	if record.Metadata[core.MetadataOAuthBankGrantType] != "refresh_token" {
		t.Fatalf("expected grant metadata, got %v", record.Metadata)
	}
}

func TestStrategy_AuthorizationCodeFlow(t *testing.T) {
	bank := devkit.NewFakeBank()
	defer bank.Close()
	bank.Script(http.MethodPost, "/token", devkit.Reply{Body: map[string]any{
		"access_token":  "user-token",
		"refresh_token": "user-refresh",
		"expires_in":    3600,
	}})

	strategy, manager := newTestStrategy(t, bank, &testClock{now: time.Now().UTC()})
	redirect, err := strategy.GetOAuthRedirectURL(context.Background(), core.RedirectRequest{TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("redirect: %v", err)
	}
	parsed, err := url.Parse(redirect.URL)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	query := parsed.Query()
	if query.Get("state") != redirect.State || redirect.State == "" {
		t.Fatalf("expected state in url, got %q", redirect.URL)
	}
	if query.Get("code_challenge_method") != "S256" || query.Get("code_challenge") == "" {
		t.Fatalf("expected pkce challenge, got %v", query)
	}
	if query.Get("redirect_uri") != "https://app.example.com/callback" {
		t.Fatalf("expected configured redirect uri, got %q", query.Get("redirect_uri"))
	}
	if redirect.ExpiresAt == nil {
		t.Fatalf("expected redirect expiry")
	}

	if _, err := strategy.ExchangeOAuthCode(context.Background(), "tenant-2", "code-1", redirect.State); !core.IsErrorKind(err, core.ErrorOAuthStateInvalid) {
		t.Fatalf("expected tenant mismatch to be rejected, got %v", err)
	}

	redirect, err = strategy.GetOAuthRedirectURL(context.Background(), core.RedirectRequest{TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("second redirect: %v", err)
	}
	result, err := strategy.ExchangeOAuthCode(context.Background(), "tenant-1", "code-1", redirect.State)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if result.Token != "user-token" || result.ExpiresAt == nil {
		t.Fatalf("unexpected exchange result %+v", result)
	}
	form := bank.Requests(http.MethodPost, "/token")[0].Form
	if form.Get("grant_type") != "authorization_code" || form.Get("code") != "code-1" || form.Get("code_verifier") == "" {
		t.Fatalf("unexpected code exchange form %v", form)
	}

	record, found, err := manager.GetActiveToken(context.Background(), core.NewTokenKey(core.ProviderOAuthBank, "tenant-1"))
	if err != nil || !found || record.RefreshToken != "user-refresh" {
		t.Fatalf("expected stored user token, record=%+v found=%v err=%v", record, found, err)
	}

	if _, err := strategy.ExchangeOAuthCode(context.Background(), "tenant-1", "code-1", redirect.State); !core.IsErrorKind(err, core.ErrorOAuthStateInvalid) {
		t.Fatalf("expected replayed state to be rejected, got %v", err)
	}
}

func TestStrategy_DataEndpoints(t *testing.T) {
	bank := devkit.NewFakeBank()
	defer bank.Close()
	bank.Script(http.MethodPost, "/token", devkit.Reply{Body: map[string]any{"access_token": "data-token", "expires_in": 3600}})
	bank.Script(http.MethodGet, "/data/v1/accounts", devkit.Reply{Body: `{"results":[{"account_id":"acc-1","display_name":"Main","currency":"EUR","account_type":"TRANSACTION","provider_name":"Demo Bank"}]}`})
	bank.Script(http.MethodGet, "/data/v1/accounts/acc-1/balance", devkit.Reply{Body: `{"results":[{"current":1250.75,"currency":"EUR","type":"current","update_timestamp":"2026-03-14T09:00:00Z"}]}`})
	bank.Script(http.MethodGet, "/data/v1/accounts/acc-1/transactions", devkit.Reply{Body: `{"results":[{"transaction_id":"tx-1","amount":"-12.50","currency":"EUR","description":"Coffee","timestamp":"2026-03-13T08:15:00Z","status":"booked"}]}`})

	strategy, _ := newTestStrategy(t, bank, &testClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)})
	ctx := context.Background()

	accounts, err := strategy.GetAccounts(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ID != "acc-1" || accounts[0].Metadata["bank"] != "Demo Bank" {
		t.Fatalf("unexpected accounts %+v", accounts)
	}
	header := bank.Requests(http.MethodGet, "/data/v1/accounts")[0].Header
	if header.Get("Authorization") != "Bearer data-token" || header.Get("X-Api-Version") != "2026-01-01" {
		t.Fatalf("unexpected data headers %v", header)
	}

	balances, err := strategy.GetBalances(ctx, "tenant-1", "acc-1")
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if len(balances) != 1 || balances[0].Amount != "1250.75" || balances[0].AsOf == nil {
		t.Fatalf("unexpected balances %+v", balances)
	}

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	transactions, err := strategy.GetTransactions(ctx, "tenant-1", "acc-1", core.TransactionQuery{From: &from})
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(transactions) != 1 || transactions[0].Amount != "-12.50" || transactions[0].BookedAt == nil {
		t.Fatalf("unexpected transactions %+v", transactions)
	}
	query := bank.Requests(http.MethodGet, "/data/v1/accounts/acc-1/transactions")[0].Query
	if query.Get("from") != "2026-03-01" || query.Has("to") {
		t.Fatalf("unexpected transaction query %v", query)
	}
	if got := bank.Count(http.MethodPost, "/token"); got != 1 {
		t.Fatalf("expected data calls to share one token, got %d exchanges", got)
	}
}

type unavailableRecordStore struct {
	*core.MemoryRecordStore
	err error
}

func (s unavailableRecordStore) FindActive(context.Context, core.TokenKey) (core.TokenRecord, bool, error) {
	return core.TokenRecord{}, false, s.err
}

func TestStrategy_AuthenticateSurfacesRecordLookupFailure(t *testing.T) {
	bank := devkit.NewFakeBank()
	defer bank.Close()
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	tokenCache, err := memcache.New(memcache.Config{})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer tokenCache.Close()

	storeErr := errors.New("token store unavailable")
	manager, err := core.NewManager(
		unavailableRecordStore{MemoryRecordStore: core.NewMemoryRecordStore(), err: storeErr},
		tokenCache,
		core.DefaultConfig(),
		core.WithManagerClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	key := core.NewTokenKey(core.ProviderOAuthBank, "tenant-1")
	if err := tokenCache.Put(ctx, manager.CacheKey(key), core.CacheEntry{
		Token:     "cached-token",
		ExpiresAt: now.Add(time.Hour).UnixMilli(),
	}, time.Hour); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	strategy, err := New(core.ProviderConfig{
		BaseURL:      bank.URL() + "/data/v1",
		TokenURL:     bank.URL() + "/token",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
	}, providers.Dependencies{
		Manager:    manager,
		HTTPClient: bank.Client(),
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}

	if _, err := strategy.Authenticate(ctx, "tenant-1"); !errors.Is(err, storeErr) {
		t.Fatalf("expected store error to surface, got %v", err)
	}
	if got := bank.Count(http.MethodPost, "/token"); got != 0 {
		t.Fatalf("expected cached token to skip the exchange, got %d calls", got)
	}
}
