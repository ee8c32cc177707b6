package bankauth

import (
	"fmt"

	"github.com/goliatone/go-bankauth/adapters/gocommand"
	bankcommand "github.com/goliatone/go-bankauth/command"
	bankquery "github.com/goliatone/go-bankauth/query"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
)

type CommandQueryService interface {
	bankcommand.MutatingService
	bankcommand.MaintenanceService
	bankquery.DataReader
	bankquery.TokenInfoReader
}

type Commands struct {
	Authenticate      *bankcommand.AuthenticateCommand
	StartConsent      *bankcommand.StartConsentCommand
	ExchangeOAuthCode *bankcommand.ExchangeOAuthCodeCommand
	CreateEndUser     *bankcommand.CreateEndUserCommand
	Disconnect        *bankcommand.DisconnectCommand
	PruneTokens       *bankcommand.PruneTokensCommand
	WarmTokens        *bankcommand.WarmTokensCommand
}

type Queries struct {
	GetAccounts     *bankquery.GetAccountsQuery
	GetBalances     *bankquery.GetBalancesQuery
	GetTransactions *bankquery.GetTransactionsQuery
	GetTokenInfo    *bankquery.GetTokenInfoQuery
}

// Facade groups the command and query handlers built over one service.
type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("bankauth: command/query service is required")
	}
	return &Facade{
		service: service,
		commands: Commands{
			Authenticate:      bankcommand.NewAuthenticateCommand(service),
			StartConsent:      bankcommand.NewStartConsentCommand(service),
			ExchangeOAuthCode: bankcommand.NewExchangeOAuthCodeCommand(service),
			CreateEndUser:     bankcommand.NewCreateEndUserCommand(service),
			Disconnect:        bankcommand.NewDisconnectCommand(service),
			PruneTokens:       bankcommand.NewPruneTokensCommand(service),
			WarmTokens:        bankcommand.NewWarmTokensCommand(service),
		},
		queries: Queries{
			GetAccounts:     bankquery.NewGetAccountsQuery(service),
			GetBalances:     bankquery.NewGetBalancesQuery(service),
			GetTransactions: bankquery.NewGetTransactionsQuery(service),
			GetTokenInfo:    bankquery.NewGetTokenInfoQuery(service),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// Register subscribes every handler on the go-command dispatcher and records
// it in the adapter's registry. Call adapter.Initialize afterwards.
func (f *Facade) Register(adapter *gocommand.RegistryAdapter, runnerOpts ...runner.Option) ([]commanddispatcher.Subscription, error) {
	if f == nil || f.service == nil {
		return nil, fmt.Errorf("bankauth: facade is not configured")
	}
	return gocommand.RegisterService(adapter, f.service, runnerOpts...)
}
