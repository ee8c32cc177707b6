package command

import (
	"context"
	"time"

	"github.com/goliatone/go-bankauth/core"
	gocmd "github.com/goliatone/go-command"
)

// MutatingService is the part of core.Service that changes credential state.
type MutatingService interface {
	Authenticate(ctx context.Context, req core.AuthenticateRequest) (core.AuthResult, error)
	GetOAuthRedirectURL(ctx context.Context, req core.RedirectURLRequest) (core.OAuthRedirect, error)
	ExchangeOAuthCode(ctx context.Context, req core.ExchangeCodeRequest) (core.AuthResult, error)
	CreateEndUser(ctx context.Context, req core.CreateEndUserRequest) (core.EndUser, error)
	Disconnect(ctx context.Context, key core.TokenKey) error
}

type MaintenanceService interface {
	PruneInactive(ctx context.Context) (int, error)
	WarmExpiring(ctx context.Context, within time.Duration, limit int) (core.WarmResult, error)
}

type PruneResult struct {
	Pruned int
}

type AuthenticateCommand struct {
	service MutatingService
}

func NewAuthenticateCommand(service MutatingService) *AuthenticateCommand {
	return &AuthenticateCommand{service: service}
}

func (c *AuthenticateCommand) Execute(ctx context.Context, msg AuthenticateMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: authenticate service is required")
	}
	out, err := c.service.Authenticate(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type StartConsentCommand struct {
	service MutatingService
}

func NewStartConsentCommand(service MutatingService) *StartConsentCommand {
	return &StartConsentCommand{service: service}
}

func (c *StartConsentCommand) Execute(ctx context.Context, msg StartConsentMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: consent service is required")
	}
	out, err := c.service.GetOAuthRedirectURL(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ExchangeOAuthCodeCommand struct {
	service MutatingService
}

func NewExchangeOAuthCodeCommand(service MutatingService) *ExchangeOAuthCodeCommand {
	return &ExchangeOAuthCodeCommand{service: service}
}

func (c *ExchangeOAuthCodeCommand) Execute(ctx context.Context, msg ExchangeOAuthCodeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: code exchange service is required")
	}
	out, err := c.service.ExchangeOAuthCode(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CreateEndUserCommand struct {
	service MutatingService
}

func NewCreateEndUserCommand(service MutatingService) *CreateEndUserCommand {
	return &CreateEndUserCommand{service: service}
}

func (c *CreateEndUserCommand) Execute(ctx context.Context, msg CreateEndUserMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: end user service is required")
	}
	out, err := c.service.CreateEndUser(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisconnectCommand struct {
	service MutatingService
}

func NewDisconnectCommand(service MutatingService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	return c.service.Disconnect(ctx, core.NewTokenKey(msg.Provider, msg.TenantID))
}

type PruneTokensCommand struct {
	service MaintenanceService
}

func NewPruneTokensCommand(service MaintenanceService) *PruneTokensCommand {
	return &PruneTokensCommand{service: service}
}

func (c *PruneTokensCommand) Execute(ctx context.Context, _ PruneTokensMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: maintenance service is required")
	}
	pruned, err := c.service.PruneInactive(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, PruneResult{Pruned: pruned})
	return nil
}

type WarmTokensCommand struct {
	service MaintenanceService
}

func NewWarmTokensCommand(service MaintenanceService) *WarmTokensCommand {
	return &WarmTokensCommand{service: service}
}

func (c *WarmTokensCommand) Execute(ctx context.Context, msg WarmTokensMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: maintenance service is required")
	}
	out, err := c.service.WarmExpiring(ctx, msg.Within, msg.Limit)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
