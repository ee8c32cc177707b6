package core

import (
	"context"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// RefreshFunc performs the provider-specific network exchange. It must return
// an error rather than a partial payload.
type RefreshFunc func(ctx context.Context) (RefreshPayload, error)

type RecordStore interface {
	FindActive(ctx context.Context, key TokenKey) (TokenRecord, bool, error)
	Create(ctx context.Context, record TokenRecord) (TokenRecord, error)
	DeactivateAll(ctx context.Context, key TokenKey) (int, error)
	DeleteAll(ctx context.Context, key TokenKey) (int, error)
	UpdateMetadata(ctx context.Context, key TokenKey, partial map[string]any) (TokenRecord, bool, error)
}

// RetentionStore is implemented by stores that support time-based pruning and
// expiry scans.
type RetentionStore interface {
	PruneInactive(ctx context.Context, before time.Time) (int, error)
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]TokenRecord, error)
}

// TokenCache is advisory. Get reports connectivity and decode failures as a
// miss.
type TokenCache interface {
	Get(ctx context.Context, key string) (CacheEntry, bool)
	Put(ctx context.Context, key string, entry CacheEntry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// TokenManager is the subset of Manager that strategies and the transport
// decorator depend on.
type TokenManager interface {
	GetValidToken(ctx context.Context, key TokenKey, refresh RefreshFunc) (string, error)
	GetActiveToken(ctx context.Context, key TokenKey) (TokenRecord, bool, error)
	StoreToken(ctx context.Context, in StoreTokenInput) (TokenRecord, error)
	UpdateMetadata(ctx context.Context, key TokenKey, partial map[string]any) (TokenRecord, bool, error)
	IsUsable(expiresAt time.Time) bool
}

type Strategy interface {
	Provider() Provider
	RefreshFunc(tenantID string) RefreshFunc
	Authenticate(ctx context.Context, tenantID string) (AuthResult, error)
	GetAccounts(ctx context.Context, tenantID string) ([]Account, error)
	GetBalances(ctx context.Context, tenantID string, accountID string) ([]Balance, error)
	GetTransactions(ctx context.Context, tenantID string, accountID string, query TransactionQuery) ([]Transaction, error)
	GetOAuthRedirectURL(ctx context.Context, req RedirectRequest) (OAuthRedirect, error)
}

// CodeExchanger completes an authorization-code flow started by
// GetOAuthRedirectURL.
type CodeExchanger interface {
	ExchangeOAuthCode(ctx context.Context, tenantID string, code string, state string) (AuthResult, error)
}

type EndUserProvisioner interface {
	CreateEndUser(ctx context.Context, tenantID string, reference string) (EndUser, error)
}

type StrategyRegistry interface {
	Register(strategy Strategy) error
	Get(provider Provider) (Strategy, bool)
	List() []Strategy
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type RepositoryStoreFactory interface {
	BuildRecordStore(persistenceClient any) (RecordStore, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
