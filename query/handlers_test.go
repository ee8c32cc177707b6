package query

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-bankauth/core"
	goerrors "github.com/goliatone/go-errors"
)

type stubDataReader struct {
	accountsFn     func(context.Context, core.AccountsRequest) ([]core.Account, error)
	balancesFn     func(context.Context, core.BalancesRequest) ([]core.Balance, error)
	transactionsFn func(context.Context, core.TransactionsRequest) ([]core.Transaction, error)
}

func (s stubDataReader) GetAccounts(ctx context.Context, req core.AccountsRequest) ([]core.Account, error) {
	return s.accountsFn(ctx, req)
}

func (s stubDataReader) GetBalances(ctx context.Context, req core.BalancesRequest) ([]core.Balance, error) {
	return s.balancesFn(ctx, req)
}

func (s stubDataReader) GetTransactions(ctx context.Context, req core.TransactionsRequest) ([]core.Transaction, error) {
	return s.transactionsFn(ctx, req)
}

type stubTokenInfoReader func(context.Context, core.TokenKey) (core.TokenInfo, error)

func (f stubTokenInfoReader) GetTokenInfo(ctx context.Context, key core.TokenKey) (core.TokenInfo, error) {
	return f(ctx, key)
}

func TestDataQueries_Delegate(t *testing.T) {
	reader := stubDataReader{
		accountsFn: func(_ context.Context, req core.AccountsRequest) ([]core.Account, error) {
			if req.TenantID != "tenant-1" {
				t.Fatalf("unexpected accounts request %#v", req)
			}
			return []core.Account{{ID: "acc-1"}}, nil
		},
		balancesFn: func(_ context.Context, req core.BalancesRequest) ([]core.Balance, error) {
			return []core.Balance{{AccountID: req.AccountID, Amount: "10.00"}}, nil
		},
		transactionsFn: func(_ context.Context, req core.TransactionsRequest) ([]core.Transaction, error) {
			if req.Query.From == nil {
				t.Fatalf("expected query window to pass through")
			}
			return []core.Transaction{{ID: "tx-1", AccountID: req.AccountID}}, nil
		},
	}
	ctx := context.Background()

	accounts, err := NewGetAccountsQuery(reader).Query(ctx, GetAccountsMessage{Request: core.AccountsRequest{Provider: core.ProviderOAuthBank, TenantID: "tenant-1"}})
	if err != nil || len(accounts) != 1 {
		t.Fatalf("unexpected accounts %#v err=%v", accounts, err)
	}
	balances, err := NewGetBalancesQuery(reader).Query(ctx, GetBalancesMessage{Request: core.BalancesRequest{Provider: core.ProviderOAuthBank, TenantID: "tenant-1", AccountID: "acc-1"}})
	if err != nil || len(balances) != 1 || balances[0].AccountID != "acc-1" {
		t.Fatalf("unexpected balances %#v err=%v", balances, err)
	}
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	transactions, err := NewGetTransactionsQuery(reader).Query(ctx, GetTransactionsMessage{Request: core.TransactionsRequest{
		Provider:  core.ProviderOAuthBank,
		TenantID:  "tenant-1",
		AccountID: "acc-1",
		Query:     core.TransactionQuery{From: &from},
	}})
	if err != nil || len(transactions) != 1 {
		t.Fatalf("unexpected transactions %#v err=%v", transactions, err)
	}
}

func TestGetTokenInfoQuery_NormalizesKey(t *testing.T) {
	expiresAt := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	reader := stubTokenInfoReader(func(_ context.Context, key core.TokenKey) (core.TokenInfo, error) {
		if key != core.NewTokenKey(core.ProviderConsentBank, "tenant-1") {
			t.Fatalf("unexpected key %#v", key)
		}
		return core.TokenInfo{HasToken: true, ExpiresAt: &expiresAt, IsValid: true}, nil
	})
	info, err := NewGetTokenInfoQuery(reader).Query(context.Background(), GetTokenInfoMessage{Provider: "ConsentBank", TenantID: " tenant-1 "})
	if err != nil {
		t.Fatalf("token info: %v", err)
	}
	if !info.HasToken || !info.IsValid || !info.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("unexpected token info %#v", info)
	}
}

func TestQueries_NilReaderReturnsRichError(t *testing.T) {
	var qry *GetAccountsQuery
	_, err := qry.Query(context.Background(), GetAccountsMessage{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal go-errors envelope, got %v", err)
	}
}

func TestMessages_ValidateReturnsRichError(t *testing.T) {
	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cases := map[string]interface{ Validate() error }{
		"accounts missing tenant":  GetAccountsMessage{Request: core.AccountsRequest{Provider: core.ProviderOAuthBank}},
		"balances missing account": GetBalancesMessage{Request: core.BalancesRequest{Provider: core.ProviderOAuthBank, TenantID: "t"}},
		"transactions bad window": GetTransactionsMessage{Request: core.TransactionsRequest{
			Provider: core.ProviderOAuthBank, TenantID: "t", AccountID: "a",
			Query: core.TransactionQuery{From: &from, To: &to},
		}},
		"token info missing provider": GetTokenInfoMessage{TenantID: "t"},
	}
	for name, msg := range cases {
		err := msg.Validate()
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("%s: expected go-errors envelope, got %v", name, err)
		}
		if rich.Category != goerrors.CategoryValidation || rich.TextCode != core.ErrorBadInput {
			t.Fatalf("%s: unexpected envelope %q %q", name, rich.Category, rich.TextCode)
		}
	}
}
