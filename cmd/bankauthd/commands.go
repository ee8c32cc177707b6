package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/goliatone/go-bankauth/adapters/gocommand"
	"github.com/goliatone/go-bankauth/adapters/gojob"
	"github.com/goliatone/go-bankauth/adapters/gologger"
	bankcommand "github.com/goliatone/go-bankauth/command"
	"github.com/goliatone/go-bankauth/core"
	bankquery "github.com/goliatone/go-bankauth/query"
	gocmd "github.com/goliatone/go-command"
	glog "github.com/goliatone/go-logger/glog"
)

type cli struct {
	Timeout time.Duration `help:"Overall command timeout." default:"30s"`

	Token      tokenCmd      `cmd:"" help:"Print a valid token for a provider and tenant, refreshing when needed."`
	Info       infoCmd       `cmd:"" help:"Show whether a usable token is stored."`
	Disconnect disconnectCmd `cmd:"" help:"Delete every stored token for a provider and tenant."`
	Prune      pruneCmd      `cmd:"" help:"Delete inactive records older than the retention window."`
	Warm       warmCmd       `cmd:"" help:"Refresh active tokens that expire soon."`
	Job        jobCmd        `cmd:"" help:"Run a maintenance job the way the queue worker would."`
	Migrate    migrateCmd    `cmd:"" help:"Apply the token store migrations."`
}

// app carries what every command needs. It is bound into kong's Run calls.
type app struct {
	cfg     envConfig
	logger  glog.Logger
	out     io.Writer
	opts    runtimeOptions
	timeout time.Duration
}

func (a *app) context() (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), a.timeout)
}

func (a *app) withRuntime(fn func(ctx context.Context, rt *runtime) error) error {
	ctx, cancel := a.context()
	defer cancel()
	rt, err := openRuntime(ctx, a.cfg, a.logger, a.opts)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func (a *app) print(value any) error {
	encoder := json.NewEncoder(a.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

type keyArgs struct {
	Provider string `arg:"" help:"Provider variant (oauthbank, consentbank, enduserbank)."`
	Tenant   string `arg:"" help:"Tenant id."`
}

type tokenCmd struct {
	keyArgs
	Reveal bool `help:"Print the full access token instead of a masked one."`
}

func (c *tokenCmd) Run(a *app) error {
	return a.withRuntime(func(ctx context.Context, _ *runtime) error {
		collector := gocmd.NewResult[core.AuthResult]()
		if err := gocommand.Dispatch(gocmd.ContextWithResult(ctx, collector), bankcommand.AuthenticateMessage{
			Request: core.AuthenticateRequest{Provider: core.Provider(c.Provider), TenantID: c.Tenant},
		}); err != nil {
			return err
		}
		result, _ := collector.Load()
		token := result.Token
		if !c.Reveal {
			token = maskToken(token)
		}
		return a.print(map[string]any{
			"provider":   result.Provider,
			"tenant_id":  result.TenantID,
			"token":      token,
			"expires_at": result.ExpiresAt,
			"subject_id": result.SubjectID,
		})
	})
}

type infoCmd struct {
	keyArgs
}

func (c *infoCmd) Run(a *app) error {
	return a.withRuntime(func(ctx context.Context, _ *runtime) error {
		info, err := gocommand.Query[bankquery.GetTokenInfoMessage, core.TokenInfo](ctx, bankquery.GetTokenInfoMessage{
			Provider: core.Provider(c.Provider),
			TenantID: c.Tenant,
		})
		if err != nil {
			return err
		}
		return a.print(map[string]any{
			"has_token":  info.HasToken,
			"is_valid":   info.IsValid,
			"expires_at": info.ExpiresAt,
		})
	})
}

type disconnectCmd struct {
	keyArgs
}

func (c *disconnectCmd) Run(a *app) error {
	return a.withRuntime(func(ctx context.Context, _ *runtime) error {
		if err := gocommand.Dispatch(ctx, bankcommand.DisconnectMessage{Provider: core.Provider(c.Provider), TenantID: c.Tenant}); err != nil {
			return err
		}
		return a.print(map[string]any{"disconnected": true})
	})
}

type pruneCmd struct{}

func (c *pruneCmd) Run(a *app) error {
	return a.withRuntime(func(ctx context.Context, _ *runtime) error {
		collector := gocmd.NewResult[bankcommand.PruneResult]()
		if err := gocommand.Dispatch(gocmd.ContextWithResult(ctx, collector), bankcommand.PruneTokensMessage{}); err != nil {
			return err
		}
		result, _ := collector.Load()
		return a.print(map[string]any{"pruned": result.Pruned})
	})
}

type warmCmd struct {
	Within time.Duration `help:"Refresh tokens leaving the usable window within this horizon." default:"15m"`
	Limit  int           `help:"Maximum records to scan." default:"100"`
}

func (c *warmCmd) Run(a *app) error {
	return a.withRuntime(func(ctx context.Context, _ *runtime) error {
		collector := gocmd.NewResult[core.WarmResult]()
		if err := gocommand.Dispatch(gocmd.ContextWithResult(ctx, collector), bankcommand.WarmTokensMessage{Within: c.Within, Limit: c.Limit}); err != nil {
			return err
		}
		result, _ := collector.Load()
		return a.print(map[string]any{
			"scanned":   result.Scanned,
			"refreshed": result.Refreshed,
			"failed":    result.Failed,
			"skipped":   result.Skipped,
		})
	})
}

type jobCmd struct {
	ID     string        `arg:"" enum:"bankauth.tokens.warm,bankauth.tokens.prune" help:"Job id."`
	Within time.Duration `help:"Warm-up horizon." default:"15m"`
	Limit  int           `help:"Warm-up scan limit." default:"100"`
}

func (c *jobCmd) Run(a *app) error {
	return a.withRuntime(func(ctx context.Context, rt *runtime) error {
		now := time.Now().UTC()
		if a.opts.clock != nil {
			now = a.opts.clock()
		}
		msg := gojob.PruneMessage(now)
		if c.ID == gojob.JobIDWarmTokens {
			msg = gojob.WarmMessage(c.Within, c.Limit, now)
		}
		runner := gojob.NewRunner(rt.service, gologger.JobLogger(nil, a.logger))
		if err := runner.Execute(ctx, msg); err != nil {
			return err
		}
		return a.print(map[string]any{"job_id": msg.JobID, "idempotency_key": msg.IdempotencyKey})
	})
}

type migrateCmd struct{}

func (c *migrateCmd) Run(a *app) error {
	ctx, cancel := a.context()
	defer cancel()
	cfg := a.cfg.DB
	cfg.AutoMigrate = true
	client, dialect, err := openPersistence(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	return a.print(map[string]any{"migrated": true, "dialect": dialect})
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return fmt.Sprintf("%s****%s", token[:4], token[len(token)-4:])
}
