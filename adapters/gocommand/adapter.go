package gocommand

import (
	"context"
	"fmt"
	"strings"

	bankcommand "github.com/goliatone/go-bankauth/command"
	"github.com/goliatone/go-bankauth/core"
	bankquery "github.com/goliatone/go-bankauth/query"
	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// ValidateMessageContract requires a non-empty Type() and runs Validate()
// when the message has one.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) RegisterQuery(qry any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(qry)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterQuery(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// BankauthService is what RegisterService wires: the mutating, maintenance
// and read sides of core.Service.
type BankauthService interface {
	bankcommand.MutatingService
	bankcommand.MaintenanceService
	bankquery.DataReader
	bankquery.TokenInfoReader
}

// RegisterService registers and subscribes every bankauth command and query
// against svc. On failure the subscriptions made so far are undone.
func RegisterService(adapter *RegistryAdapter, svc BankauthService, runnerOpts ...runner.Option) ([]commanddispatcher.Subscription, error) {
	if svc == nil {
		return nil, fmt.Errorf("gocommand: bankauth service is required")
	}
	subscriptions := []commanddispatcher.Subscription{}
	register := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			for _, existing := range subscriptions {
				existing.Unsubscribe()
			}
			subscriptions = nil
			return err
		}
		subscriptions = append(subscriptions, sub)
		return nil
	}

	steps := []func() error{
		func() error {
			return register(RegisterAndSubscribe[bankcommand.AuthenticateMessage](adapter, bankcommand.NewAuthenticateCommand(svc), runnerOpts...))
		},
		func() error {
			return register(RegisterAndSubscribe[bankcommand.StartConsentMessage](adapter, bankcommand.NewStartConsentCommand(svc), runnerOpts...))
		},
		func() error {
			return register(RegisterAndSubscribe[bankcommand.ExchangeOAuthCodeMessage](adapter, bankcommand.NewExchangeOAuthCodeCommand(svc), runnerOpts...))
		},
		func() error {
			return register(RegisterAndSubscribe[bankcommand.CreateEndUserMessage](adapter, bankcommand.NewCreateEndUserCommand(svc), runnerOpts...))
		},
		func() error {
			return register(RegisterAndSubscribe[bankcommand.DisconnectMessage](adapter, bankcommand.NewDisconnectCommand(svc), runnerOpts...))
		},
		func() error {
			return register(RegisterAndSubscribe[bankcommand.PruneTokensMessage](adapter, bankcommand.NewPruneTokensCommand(svc), runnerOpts...))
		},
		func() error {
			return register(RegisterAndSubscribe[bankcommand.WarmTokensMessage](adapter, bankcommand.NewWarmTokensCommand(svc), runnerOpts...))
		},
		func() error {
			return register(RegisterAndSubscribeQuery[bankquery.GetAccountsMessage, []core.Account](adapter, bankquery.NewGetAccountsQuery(svc), runnerOpts...))
		},
		func() error {
			return register(RegisterAndSubscribeQuery[bankquery.GetBalancesMessage, []core.Balance](adapter, bankquery.NewGetBalancesQuery(svc), runnerOpts...))
		},
		func() error {
			return register(RegisterAndSubscribeQuery[bankquery.GetTransactionsMessage, []core.Transaction](adapter, bankquery.NewGetTransactionsQuery(svc), runnerOpts...))
		},
		func() error {
			return register(RegisterAndSubscribeQuery[bankquery.GetTokenInfoMessage, core.TokenInfo](adapter, bankquery.NewGetTokenInfoQuery(svc), runnerOpts...))
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return subscriptions, nil
}

var _ BankauthService = (*core.Service)(nil)
