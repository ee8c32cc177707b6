package query

import (
	"strings"

	"github.com/goliatone/go-bankauth/core"
)

const (
	TypeGetAccounts     = "bankauth.query.accounts.list"
	TypeGetBalances     = "bankauth.query.balances.list"
	TypeGetTransactions = "bankauth.query.transactions.list"
	TypeGetTokenInfo    = "bankauth.query.token.info"
)

type GetAccountsMessage struct {
	Request core.AccountsRequest
}

func (GetAccountsMessage) Type() string { return TypeGetAccounts }

func (m GetAccountsMessage) Validate() error {
	return validateKey(m.Request.Provider, m.Request.TenantID)
}

type GetBalancesMessage struct {
	Request core.BalancesRequest
}

func (GetBalancesMessage) Type() string { return TypeGetBalances }

func (m GetBalancesMessage) Validate() error {
	if err := validateKey(m.Request.Provider, m.Request.TenantID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Request.AccountID) == "" {
		return queryValidationError("account_id", "account id is required")
	}
	return nil
}

type GetTransactionsMessage struct {
	Request core.TransactionsRequest
}

func (GetTransactionsMessage) Type() string { return TypeGetTransactions }

func (m GetTransactionsMessage) Validate() error {
	if err := validateKey(m.Request.Provider, m.Request.TenantID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Request.AccountID) == "" {
		return queryValidationError("account_id", "account id is required")
	}
	from, to := m.Request.Query.From, m.Request.Query.To
	if from != nil && to != nil && to.Before(*from) {
		return queryValidationError("to", "must not be before from")
	}
	return nil
}

type GetTokenInfoMessage struct {
	Provider core.Provider
	TenantID string
}

func (GetTokenInfoMessage) Type() string { return TypeGetTokenInfo }

func (m GetTokenInfoMessage) Validate() error {
	return validateKey(m.Provider, m.TenantID)
}

func validateKey(provider core.Provider, tenantID string) error {
	if provider.Normalize() == "" {
		return queryValidationError("provider", "provider is required")
	}
	if strings.TrimSpace(tenantID) == "" {
		return queryValidationError("tenant_id", "tenant id is required")
	}
	return nil
}
