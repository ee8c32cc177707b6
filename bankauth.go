// Package bankauth is the entry point for the bank credential lifecycle
// manager. It re-exports the core service surface and wires strategies,
// commands and queries together.
package bankauth

import "github.com/goliatone/go-bankauth/core"

type Config = core.Config
type ProviderConfig = core.ProviderConfig
type RefreshConfig = core.RefreshConfig

type Option = core.Option

type Service = core.Service
type ServiceDependencies = core.ServiceDependencies

type Provider = core.Provider
type TokenKey = core.TokenKey
type TokenRecord = core.TokenRecord
type TokenInfo = core.TokenInfo
type Strategy = core.Strategy
type RecordStore = core.RecordStore
type TokenCache = core.TokenCache
type MetricsRecorder = core.MetricsRecorder
type RefreshBackoffScheduler = core.RefreshBackoffScheduler

type AuthenticateRequest = core.AuthenticateRequest
type AccountsRequest = core.AccountsRequest
type BalancesRequest = core.BalancesRequest
type TransactionsRequest = core.TransactionsRequest
type RedirectURLRequest = core.RedirectURLRequest
type ExchangeCodeRequest = core.ExchangeCodeRequest
type CreateEndUserRequest = core.CreateEndUserRequest

const (
	ProviderOAuthBank   = core.ProviderOAuthBank
	ProviderConsentBank = core.ProviderConsentBank
	ProviderEndUserBank = core.ProviderEndUserBank
)

var (
	WithLogger                  = core.WithLogger
	WithLoggerProvider          = core.WithLoggerProvider
	WithMetricsRecorder         = core.WithMetricsRecorder
	WithErrorFactory            = core.WithErrorFactory
	WithErrorMapper             = core.WithErrorMapper
	WithPersistenceClient       = core.WithPersistenceClient
	WithRepositoryFactory       = core.WithRepositoryFactory
	WithConfigProvider          = core.WithConfigProvider
	WithOptionsResolver         = core.WithOptionsResolver
	WithRefreshBackoffScheduler = core.WithRefreshBackoffScheduler
	WithRecordStore             = core.WithRecordStore
	WithTokenCache              = core.WithTokenCache
	WithStrategyRegistry        = core.WithStrategyRegistry
	WithClock                   = core.WithClock
)

func NewTokenKey(provider Provider, tenantID string) TokenKey {
	return core.NewTokenKey(provider, tenantID)
}

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
