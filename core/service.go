package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

type AuthenticateRequest struct {
	Provider Provider
	TenantID string
}

type AccountsRequest struct {
	Provider Provider
	TenantID string
}

type BalancesRequest struct {
	Provider  Provider
	TenantID  string
	AccountID string
}

type TransactionsRequest struct {
	Provider  Provider
	TenantID  string
	AccountID string
	Query     TransactionQuery
}

type RedirectURLRequest struct {
	Provider Provider
	Request  RedirectRequest
}

type ExchangeCodeRequest struct {
	Provider Provider
	TenantID string
	Code     string
	State    string
}

type CreateEndUserRequest struct {
	Provider  Provider
	TenantID  string
	Reference string
}

type WarmResult struct {
	Scanned   int
	Refreshed int
	Failed    int
	Skipped   int
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	RecordStore       RecordStore
	TokenCache        TokenCache
	Registry          StrategyRegistry
}

// Service is the provider-facing entry point. It selects the strategy for a
// provider and routes every token need through its Manager.
type Service struct {
	config            Config
	manager           *Manager
	registry          StrategyRegistry
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	recordStore       RecordStore
	tokenCache        TokenCache
	refreshScheduler  RefreshBackoffScheduler
	obs               observer
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("bankauth", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("bankauth"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewStrategyRegistry()
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig = finalConfig.withDefaults()

	if builder.refreshScheduler == nil {
		builder.refreshScheduler = ExponentialBackoffScheduler{
			Initial: finalConfig.Refresh.InitialBackoff,
			Max:     finalConfig.Refresh.MaxBackoff,
		}
	}

	if builder.recordStore == nil && builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			store, buildErr := storeFactory.BuildRecordStore(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			builder.recordStore = store
		}
	}
	if builder.recordStore == nil {
		logger.Warn("no record store configured, falling back to in-memory token records")
		builder.recordStore = NewMemoryRecordStore()
	}

	managerOpts := []ManagerOption{
		WithManagerLogger(logger),
		WithManagerMetrics(builder.metricsRecorder),
	}
	if builder.clock != nil {
		managerOpts = append(managerOpts, WithManagerClock(builder.clock))
	}
	manager, err := NewManager(builder.recordStore, builder.tokenCache, finalConfig, managerOpts...)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &Service{
		config:            finalConfig,
		manager:           manager,
		registry:          builder.registry,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		recordStore:       builder.recordStore,
		tokenCache:        builder.tokenCache,
		refreshScheduler:  builder.refreshScheduler,
		obs:               observer{logger: logger, metrics: builder.metricsRecorder},
	}, nil
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Manager() *Manager {
	if s == nil {
		return nil
	}
	return s.manager
}

func (s *Service) Registry() StrategyRegistry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Service) RegisterStrategy(strategy Strategy) error {
	if s == nil || s.registry == nil {
		return fmt.Errorf("core: strategy registry is not configured")
	}
	return s.registry.Register(strategy)
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		RecordStore:       s.recordStore,
		TokenCache:        s.tokenCache,
		Registry:          s.registry,
	}
}

// Authenticate obtains a valid token for the tenant, retrying transient
// refresh failures with backoff.
func (s *Service) Authenticate(ctx context.Context, req AuthenticateRequest) (result AuthResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"provider": string(req.Provider), "tenant_id": req.TenantID}
	defer func() {
		s.obs.observeOperation(ctx, startedAt, "authenticate", err, fields)
	}()

	strategy, err := s.strategy(req.Provider)
	if err != nil {
		return AuthResult{}, s.mapError(err)
	}
	retry, err := RunRefreshWithRetry(ctx, RetryOptions{
		MaxAttempts: s.config.Refresh.MaxAttempts,
		Scheduler:   s.refreshScheduler,
	}, func(ctx context.Context) error {
		out, authErr := strategy.Authenticate(ctx, req.TenantID)
		if authErr != nil {
			return authErr
		}
		result = out
		return nil
	})
	fields["attempts"] = retry.Attempts
	if err != nil {
		fields["needs_reauth"] = retry.NeedsReauth
		return AuthResult{}, s.mapError(NewProviderOperationError(err, strategy.Provider(), "authenticate"))
	}
	return result, nil
}

func (s *Service) GetAccounts(ctx context.Context, req AccountsRequest) (accounts []Account, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"provider": string(req.Provider), "tenant_id": req.TenantID}
	defer func() {
		s.obs.observeOperation(ctx, startedAt, "get_accounts", err, fields)
	}()

	strategy, err := s.strategy(req.Provider)
	if err != nil {
		return nil, s.mapError(err)
	}
	accounts, err = strategy.GetAccounts(ctx, req.TenantID)
	if err != nil {
		return nil, s.mapError(NewProviderOperationError(err, strategy.Provider(), "get_accounts"))
	}
	fields["count"] = len(accounts)
	return accounts, nil
}

func (s *Service) GetBalances(ctx context.Context, req BalancesRequest) (balances []Balance, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider":   string(req.Provider),
		"tenant_id":  req.TenantID,
		"account_id": req.AccountID,
	}
	defer func() {
		s.obs.observeOperation(ctx, startedAt, "get_balances", err, fields)
	}()

	if strings.TrimSpace(req.AccountID) == "" {
		return nil, s.mapError(NewBadInputError("core: account id is required"))
	}
	strategy, err := s.strategy(req.Provider)
	if err != nil {
		return nil, s.mapError(err)
	}
	balances, err = strategy.GetBalances(ctx, req.TenantID, strings.TrimSpace(req.AccountID))
	if err != nil {
		return nil, s.mapError(NewProviderOperationError(err, strategy.Provider(), "get_balances"))
	}
	return balances, nil
}

func (s *Service) GetTransactions(ctx context.Context, req TransactionsRequest) (transactions []Transaction, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider":   string(req.Provider),
		"tenant_id":  req.TenantID,
		"account_id": req.AccountID,
	}
	defer func() {
		s.obs.observeOperation(ctx, startedAt, "get_transactions", err, fields)
	}()

	if strings.TrimSpace(req.AccountID) == "" {
		return nil, s.mapError(NewBadInputError("core: account id is required"))
	}
	if req.Query.From != nil && req.Query.To != nil && req.Query.To.Before(*req.Query.From) {
		return nil, s.mapError(NewBadInputError("core: transaction range is invalid"))
	}
	strategy, err := s.strategy(req.Provider)
	if err != nil {
		return nil, s.mapError(err)
	}
	transactions, err = strategy.GetTransactions(ctx, req.TenantID, strings.TrimSpace(req.AccountID), req.Query)
	if err != nil {
		return nil, s.mapError(NewProviderOperationError(err, strategy.Provider(), "get_transactions"))
	}
	fields["count"] = len(transactions)
	return transactions, nil
}

func (s *Service) GetOAuthRedirectURL(ctx context.Context, req RedirectURLRequest) (redirect OAuthRedirect, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"provider": string(req.Provider), "tenant_id": req.Request.TenantID}
	defer func() {
		s.obs.observeOperation(ctx, startedAt, "get_oauth_redirect_url", err, fields)
	}()

	if strings.TrimSpace(req.Request.TenantID) == "" {
		return OAuthRedirect{}, s.mapError(NewBadInputError("core: tenant id is required"))
	}
	strategy, err := s.strategy(req.Provider)
	if err != nil {
		return OAuthRedirect{}, s.mapError(err)
	}
	redirect, err = strategy.GetOAuthRedirectURL(ctx, req.Request)
	if err != nil {
		return OAuthRedirect{}, s.mapError(NewProviderOperationError(err, strategy.Provider(), "get_oauth_redirect_url"))
	}
	return redirect, nil
}

func (s *Service) ExchangeOAuthCode(ctx context.Context, req ExchangeCodeRequest) (result AuthResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"provider": string(req.Provider), "tenant_id": req.TenantID}
	defer func() {
		s.obs.observeOperation(ctx, startedAt, "exchange_oauth_code", err, fields)
	}()

	if strings.TrimSpace(req.Code) == "" {
		return AuthResult{}, s.mapError(NewBadInputError("core: authorization code is required"))
	}
	strategy, err := s.strategy(req.Provider)
	if err != nil {
		return AuthResult{}, s.mapError(err)
	}
	exchanger, ok := strategy.(CodeExchanger)
	if !ok {
		return AuthResult{}, s.mapError(s.capabilityUnsupported(req.Provider, "exchange_oauth_code"))
	}
	result, err = exchanger.ExchangeOAuthCode(ctx, req.TenantID, strings.TrimSpace(req.Code), strings.TrimSpace(req.State))
	if err != nil {
		return AuthResult{}, s.mapError(NewProviderOperationError(err, strategy.Provider(), "exchange_oauth_code"))
	}
	return result, nil
}

func (s *Service) CreateEndUser(ctx context.Context, req CreateEndUserRequest) (user EndUser, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"provider": string(req.Provider), "tenant_id": req.TenantID}
	defer func() {
		s.obs.observeOperation(ctx, startedAt, "create_end_user", err, fields)
	}()

	strategy, err := s.strategy(req.Provider)
	if err != nil {
		return EndUser{}, s.mapError(err)
	}
	provisioner, ok := strategy.(EndUserProvisioner)
	if !ok {
		return EndUser{}, s.mapError(s.capabilityUnsupported(req.Provider, "create_end_user"))
	}
	user, err = provisioner.CreateEndUser(ctx, req.TenantID, strings.TrimSpace(req.Reference))
	if err != nil {
		return EndUser{}, s.mapError(NewProviderOperationError(err, strategy.Provider(), "create_end_user"))
	}
	fields["created"] = user.Created
	return user, nil
}

func (s *Service) GetTokenInfo(ctx context.Context, key TokenKey) (TokenInfo, error) {
	if _, err := s.strategy(key.Provider); err != nil {
		return TokenInfo{}, s.mapError(err)
	}
	info, err := s.manager.GetTokenInfo(ctx, key)
	if err != nil {
		return TokenInfo{}, s.mapError(err)
	}
	return info, nil
}

// Disconnect drops every credential held for the key.
func (s *Service) Disconnect(ctx context.Context, key TokenKey) error {
	if err := s.manager.DeleteTokens(ctx, key); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *Service) PruneInactive(ctx context.Context) (int, error) {
	pruned, err := s.manager.PruneInactive(ctx)
	if err != nil {
		return 0, s.mapError(err)
	}
	return pruned, nil
}

// WarmExpiring refreshes active tokens that leave the usable window within
// the horizon, using each record's registered strategy. Keys without a
// strategy are skipped.
func (s *Service) WarmExpiring(ctx context.Context, within time.Duration, limit int) (result WarmResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"within_ms": within.Milliseconds()}
	defer func() {
		fields["scanned"] = result.Scanned
		fields["refreshed"] = result.Refreshed
		fields["failed"] = result.Failed
		s.obs.observeOperation(ctx, startedAt, "warm_expiring", err, fields)
	}()

	records, err := s.manager.ListExpiring(ctx, within, limit)
	if err != nil {
		return WarmResult{}, s.mapError(err)
	}
	for _, record := range records {
		result.Scanned++
		strategy, ok := s.registry.Get(record.Provider)
		if !ok {
			result.Skipped++
			continue
		}
		key := record.Key()
		if s.manager.refreshInFlight(key) {
			result.Skipped++
			continue
		}
		refreshed, refreshErr := s.manager.WarmToken(ctx, key, within, strategy.RefreshFunc(key.TenantID))
		if refreshErr != nil {
			result.Failed++
			warnFields := keyFields(key)
			warnFields["error"] = refreshErr.Error()
			s.obs.warn(ctx, "token warm-up failed", warnFields)
			continue
		}
		if !refreshed {
			result.Skipped++
			continue
		}
		result.Refreshed++
	}
	return result, nil
}

func (s *Service) strategy(provider Provider) (Strategy, error) {
	provider = provider.Normalize()
	if provider == "" {
		return nil, NewBadInputError("core: provider is required")
	}
	if s == nil || s.registry == nil {
		return nil, NewProviderNotConfiguredError(provider, "strategy registry is not configured")
	}
	strategy, ok := s.registry.Get(provider)
	if !ok {
		return nil, NewProviderNotConfiguredError(provider, "no strategy registered")
	}
	return strategy, nil
}

func (s *Service) capabilityUnsupported(provider Provider, operation string) error {
	return s.errorFactory(
		fmt.Sprintf("core: provider %q does not support %s", provider, operation),
		goerrors.CategoryOperation,
	).
		WithCode(422).
		WithTextCode(ErrorCapabilityUnsupported).
		WithMetadata(map[string]any{"provider": string(provider), "operation": operation})
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	if mapped := s.errorMapper(err); mapped != nil {
		return mapped
	}
	return err
}
