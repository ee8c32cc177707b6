package query

import (
	"context"

	"github.com/goliatone/go-bankauth/core"
)

// DataReader is the read side of core.Service.
type DataReader interface {
	GetAccounts(ctx context.Context, req core.AccountsRequest) ([]core.Account, error)
	GetBalances(ctx context.Context, req core.BalancesRequest) ([]core.Balance, error)
	GetTransactions(ctx context.Context, req core.TransactionsRequest) ([]core.Transaction, error)
}

type TokenInfoReader interface {
	GetTokenInfo(ctx context.Context, key core.TokenKey) (core.TokenInfo, error)
}

type GetAccountsQuery struct {
	reader DataReader
}

func NewGetAccountsQuery(reader DataReader) *GetAccountsQuery {
	return &GetAccountsQuery{reader: reader}
}

func (q *GetAccountsQuery) Query(ctx context.Context, msg GetAccountsMessage) ([]core.Account, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: data reader is required")
	}
	return q.reader.GetAccounts(ctx, msg.Request)
}

type GetBalancesQuery struct {
	reader DataReader
}

func NewGetBalancesQuery(reader DataReader) *GetBalancesQuery {
	return &GetBalancesQuery{reader: reader}
}

func (q *GetBalancesQuery) Query(ctx context.Context, msg GetBalancesMessage) ([]core.Balance, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: data reader is required")
	}
	return q.reader.GetBalances(ctx, msg.Request)
}

type GetTransactionsQuery struct {
	reader DataReader
}

func NewGetTransactionsQuery(reader DataReader) *GetTransactionsQuery {
	return &GetTransactionsQuery{reader: reader}
}

func (q *GetTransactionsQuery) Query(ctx context.Context, msg GetTransactionsMessage) ([]core.Transaction, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: data reader is required")
	}
	return q.reader.GetTransactions(ctx, msg.Request)
}

type GetTokenInfoQuery struct {
	reader TokenInfoReader
}

func NewGetTokenInfoQuery(reader TokenInfoReader) *GetTokenInfoQuery {
	return &GetTokenInfoQuery{reader: reader}
}

func (q *GetTokenInfoQuery) Query(ctx context.Context, msg GetTokenInfoMessage) (core.TokenInfo, error) {
	if q == nil || q.reader == nil {
		return core.TokenInfo{}, queryDependencyError("query: token info reader is required")
	}
	return q.reader.GetTokenInfo(ctx, core.NewTokenKey(msg.Provider, msg.TenantID))
}
