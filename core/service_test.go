package core

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func newTestService(t *testing.T, clock *fixedClock, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{
		WithClock(clock.Now),
		WithTokenCache(newMemoryTokenCache()),
		WithRefreshBackoffScheduler(noBackoff()),
	}, opts...)
	svc, err := NewService(DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestServiceAuthenticate_RetriesTransientFailures(t *testing.T) {
	svc := newTestService(t, newFixedClock(testNow))
	strategy := &stubStrategy{
		provider: ProviderConsentBank,
		manager:  svc.Manager(),
		authErrs: []error{goerrors.New("upstream 503", goerrors.CategoryExternal)},
	}
	if err := svc.RegisterStrategy(strategy); err != nil {
		t.Fatalf("register strategy: %v", err)
	}

	result, err := svc.Authenticate(context.Background(), AuthenticateRequest{Provider: ProviderConsentBank, TenantID: "t1"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.Token != "stub-token" {
		t.Fatalf("expected stub token, got %q", result.Token)
	}
	if strategy.authCalls.Load() != 2 {
		t.Fatalf("expected two attempts, got %d", strategy.authCalls.Load())
	}
}

func TestServiceAuthenticate_DoesNotRetryAuthFailures(t *testing.T) {
	svc := newTestService(t, newFixedClock(testNow))
	strategy := &stubStrategy{
		provider: ProviderOAuthBank,
		authErrs: []error{errors.New("oauthbank: token endpoint error invalid_client")},
	}
	if err := svc.RegisterStrategy(strategy); err != nil {
		t.Fatalf("register strategy: %v", err)
	}

	_, err := svc.Authenticate(context.Background(), AuthenticateRequest{Provider: ProviderOAuthBank, TenantID: "t1"})
	if !IsErrorKind(err, ErrorProviderOperationFailed) {
		t.Fatalf("expected provider operation failure, got %v", err)
	}
	if strategy.authCalls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", strategy.authCalls.Load())
	}
}

func TestServiceAuthenticate_UnknownProvider(t *testing.T) {
	svc := newTestService(t, newFixedClock(testNow))
	_, err := svc.Authenticate(context.Background(), AuthenticateRequest{Provider: "otherbank", TenantID: "t1"})
	if !IsErrorKind(err, ErrorProviderNotConfigured) {
		t.Fatalf("expected provider not configured, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), AuthenticateRequest{TenantID: "t1"}); !IsErrorKind(err, ErrorBadInput) {
		t.Fatalf("expected bad input for missing provider, got %v", err)
	}
}

func TestServiceDataOperations(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFixedClock(testNow))
	strategy := &stubStrategy{
		provider:     ProviderConsentBank,
		accounts:     []Account{{ID: "acc-1"}},
		balances:     []Balance{{AccountID: "acc-1"}},
		transactions: []Transaction{{ID: "tx-1"}, {ID: "tx-2"}},
	}
	if err := svc.RegisterStrategy(strategy); err != nil {
		t.Fatalf("register strategy: %v", err)
	}

	accounts, err := svc.GetAccounts(ctx, AccountsRequest{Provider: ProviderConsentBank, TenantID: "t1"})
	if err != nil || len(accounts) != 1 {
		t.Fatalf("get accounts: %v %+v", err, accounts)
	}
	balances, err := svc.GetBalances(ctx, BalancesRequest{Provider: ProviderConsentBank, TenantID: "t1", AccountID: "acc-1"})
	if err != nil || len(balances) != 1 {
		t.Fatalf("get balances: %v %+v", err, balances)
	}
	transactions, err := svc.GetTransactions(ctx, TransactionsRequest{Provider: ProviderConsentBank, TenantID: "t1", AccountID: "acc-1"})
	if err != nil || len(transactions) != 2 {
		t.Fatalf("get transactions: %v %+v", err, transactions)
	}

	if _, err := svc.GetBalances(ctx, BalancesRequest{Provider: ProviderConsentBank, TenantID: "t1"}); !IsErrorKind(err, ErrorBadInput) {
		t.Fatalf("expected bad input for missing account, got %v", err)
	}
	from := testNow
	to := testNow.Add(-time.Hour)
	_, err = svc.GetTransactions(ctx, TransactionsRequest{
		Provider:  ProviderConsentBank,
		TenantID:  "t1",
		AccountID: "acc-1",
		Query:     TransactionQuery{From: &from, To: &to},
	})
	if !IsErrorKind(err, ErrorBadInput) {
		t.Fatalf("expected bad input for inverted range, got %v", err)
	}

	strategy.accountsErr = errors.New("status 500")
	if _, err := svc.GetAccounts(ctx, AccountsRequest{Provider: ProviderConsentBank, TenantID: "t1"}); !IsErrorKind(err, ErrorProviderOperationFailed) {
		t.Fatalf("expected provider operation failure, got %v", err)
	}
}

func TestServiceOptionalCapabilities(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFixedClock(testNow))
	if err := svc.RegisterStrategy(exchangingStrategy{&stubStrategy{provider: ProviderOAuthBank}}); err != nil {
		t.Fatalf("register strategy: %v", err)
	}
	if err := svc.RegisterStrategy(&stubStrategy{provider: ProviderConsentBank}); err != nil {
		t.Fatalf("register strategy: %v", err)
	}

	result, err := svc.ExchangeOAuthCode(ctx, ExchangeCodeRequest{Provider: ProviderOAuthBank, TenantID: "t1", Code: "c0de", State: "s"})
	if err != nil {
		t.Fatalf("exchange code: %v", err)
	}
	if result.Token != "exchanged-c0de" {
		t.Fatalf("unexpected exchange result %+v", result)
	}

	_, err = svc.ExchangeOAuthCode(ctx, ExchangeCodeRequest{Provider: ProviderConsentBank, TenantID: "t1", Code: "c"})
	if !IsErrorKind(err, ErrorCapabilityUnsupported) {
		t.Fatalf("expected capability unsupported, got %v", err)
	}
	_, err = svc.CreateEndUser(ctx, CreateEndUserRequest{Provider: ProviderConsentBank, TenantID: "t1"})
	if !IsErrorKind(err, ErrorCapabilityUnsupported) {
		t.Fatalf("expected capability unsupported, got %v", err)
	}
	_, err = svc.GetOAuthRedirectURL(ctx, RedirectURLRequest{Provider: ProviderConsentBank, Request: RedirectRequest{TenantID: "t1"}})
	if !IsErrorKind(err, ErrorProviderOperationFailed) {
		t.Fatalf("expected provider operation failure, got %v", err)
	}
}

func TestServiceTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFixedClock(testNow))
	strategy := &stubStrategy{provider: ProviderOAuthBank}
	strategy.manager = svc.Manager()
	if err := svc.RegisterStrategy(strategy); err != nil {
		t.Fatalf("register strategy: %v", err)
	}
	key := NewTokenKey(ProviderOAuthBank, "t1")

	if _, err := svc.Authenticate(ctx, AuthenticateRequest{Provider: ProviderOAuthBank, TenantID: "t1"}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	info, err := svc.GetTokenInfo(ctx, key)
	if err != nil {
		t.Fatalf("get token info: %v", err)
	}
	if !info.HasToken || !info.IsValid {
		t.Fatalf("expected valid token, got %+v", info)
	}

	if err := svc.Disconnect(ctx, key); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	info, err = svc.GetTokenInfo(ctx, key)
	if err != nil {
		t.Fatalf("get token info: %v", err)
	}
	if info.HasToken {
		t.Fatalf("expected no token after disconnect")
	}
}

func TestServiceWarmExpiring(t *testing.T) {
	ctx := context.Background()
	clock := newFixedClock(testNow)
	svc := newTestService(t, clock)
	if err := svc.RegisterStrategy(&stubStrategy{provider: ProviderConsentBank}); err != nil {
		t.Fatalf("register strategy: %v", err)
	}
	manager := svc.Manager()

	for tenant, expiresIn := range map[string]int64{"soon": 420, "later": 7200} {
		if _, err := manager.StoreToken(ctx, StoreTokenInput{Key: NewTokenKey(ProviderConsentBank, tenant), Token: "old-" + tenant, ExpiresIn: expiresIn}); err != nil {
			t.Fatalf("store token: %v", err)
		}
	}
	if _, err := manager.StoreToken(ctx, StoreTokenInput{Key: NewTokenKey(ProviderEndUserBank, "orphan"), Token: "x", ExpiresIn: 60}); err != nil {
		t.Fatalf("store token: %v", err)
	}

	result, err := svc.WarmExpiring(ctx, 10*time.Minute, 0)
	if err != nil {
		t.Fatalf("warm expiring: %v", err)
	}
	if result.Scanned != 2 || result.Refreshed != 1 || result.Skipped != 1 {
		t.Fatalf("unexpected warm result %+v", result)
	}

	record, found, err := manager.GetActiveToken(ctx, NewTokenKey(ProviderConsentBank, "soon"))
	if err != nil || !found {
		t.Fatalf("expected active token, found=%t err=%v", found, err)
	}
	if record.Token != "stub-token" {
		t.Fatalf("expected warmed token, got %q", record.Token)
	}
}
