package query

import (
	"github.com/goliatone/go-bankauth/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[GetAccountsMessage, []core.Account]         = (*GetAccountsQuery)(nil)
	_ gocmd.Querier[GetBalancesMessage, []core.Balance]         = (*GetBalancesQuery)(nil)
	_ gocmd.Querier[GetTransactionsMessage, []core.Transaction] = (*GetTransactionsQuery)(nil)
	_ gocmd.Querier[GetTokenInfoMessage, core.TokenInfo]        = (*GetTokenInfoQuery)(nil)

	_ DataReader      = (*core.Service)(nil)
	_ TokenInfoReader = (*core.Service)(nil)
)
