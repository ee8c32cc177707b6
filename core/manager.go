package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type ManagerOption func(*Manager)

func WithManagerLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		m.obs.logger = logger
	}
}

func WithManagerMetrics(recorder MetricsRecorder) ManagerOption {
	return func(m *Manager) {
		m.obs.metrics = recorder
	}
}

func WithManagerClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = clock
	}
}

// Manager resolves valid tokens per (provider, tenant), deduplicates
// concurrent refreshes and keeps the cache and the durable store in step.
type Manager struct {
	store RecordStore
	cache TokenCache
	cfg   Config
	slots *refreshSlots
	now   func() time.Time
	obs   observer
}

func NewManager(store RecordStore, cache TokenCache, cfg Config, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("core: record store is required")
	}
	if cache == nil {
		cache = nopTokenCache{}
	}
	m := &Manager{
		store: store,
		cache: cache,
		cfg:   cfg.withDefaults(),
		slots: newRefreshSlots(),
		now:   func() time.Time { return time.Now().UTC() },
		obs:   observer{metrics: NopMetricsRecorder{}},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(m)
	}
	m.obs.logger = glog.Ensure(m.obs.logger)
	if m.obs.metrics == nil {
		m.obs.metrics = NopMetricsRecorder{}
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	return m, nil
}

func (m *Manager) Config() Config {
	return m.cfg
}

// CacheKey renders the cache key for key as <prefix><provider>:<tenantId>.
func (m *Manager) CacheKey(key TokenKey) string {
	key = key.Normalize()
	return m.cfg.CacheKeyPrefix + string(key.Provider) + ":" + key.TenantID
}

// IsUsable applies the expiration buffer to expiresAt.
func (m *Manager) IsUsable(expiresAt time.Time) bool {
	return IsTokenUsable(m.now(), expiresAt, m.cfg.ExpirationBuffer)
}

// GetValidToken returns a token that stays valid for at least the expiration
// buffer, refreshing through refresh when needed. Concurrent callers for the
// same key share one refresh.
func (m *Manager) GetValidToken(ctx context.Context, key TokenKey, refresh RefreshFunc) (token string, err error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return "", NewBadInputError(err.Error())
	}
	if refresh == nil {
		return "", NewBadInputError("core: refresh callback is required")
	}

	if entry, ok := m.cache.Get(ctx, m.CacheKey(key)); ok && m.entryUsable(entry) {
		return entry.Token, nil
	}

	startedAt := time.Now().UTC()
	fields := keyFields(key)
	defer func() {
		m.obs.observeOperation(ctx, startedAt, "get_valid_token", err, fields)
	}()

	res, err := m.slots.do(ctx, key.String(), func() (slotResult, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.RefreshTimeout)
		defer cancel()

		refreshStartedAt := time.Now().UTC()
		refreshFields := keyFields(key)
		token, source, err := m.refreshLocked(refreshCtx, key, refresh, m.cfg.ExpirationBuffer)
		refreshFields["source"] = source
		m.obs.observeOperation(refreshCtx, refreshStartedAt, "refresh_token", err, refreshFields)
		return slotResult{Token: token, Source: source}, err
	})
	return res.Token, err
}

// WarmToken refreshes key when its token leaves the usable window within the
// horizon. It reports whether the callback ran.
func (m *Manager) WarmToken(ctx context.Context, key TokenKey, within time.Duration, refresh RefreshFunc) (refreshed bool, err error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return false, NewBadInputError(err.Error())
	}
	if refresh == nil {
		return false, NewBadInputError("core: refresh callback is required")
	}
	if within < 0 {
		within = 0
	}

	// A warm call that joins a running flight reports that flight's outcome.
	res, err := m.slots.do(ctx, key.String(), func() (slotResult, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.RefreshTimeout)
		defer cancel()

		startedAt := time.Now().UTC()
		fields := keyFields(key)
		token, source, err := m.refreshLocked(refreshCtx, key, refresh, m.cfg.ExpirationBuffer+within)
		fields["source"] = source
		fields["warm"] = true
		m.obs.observeOperation(refreshCtx, startedAt, "refresh_token", err, fields)
		return slotResult{Token: token, Source: source}, err
	})
	return err == nil && res.Source == "refresh", err
}

// refreshLocked runs inside the key's refresh slot. A cached or stored token
// is reused when it stays valid for at least horizon. source reports where
// the returned token came from: cache, store or refresh.
func (m *Manager) refreshLocked(ctx context.Context, key TokenKey, refresh RefreshFunc, horizon time.Duration) (token string, source string, err error) {
	unlock := m.slots.lockWrites(key.String())
	defer unlock()

	if entry, ok := m.cache.Get(ctx, m.CacheKey(key)); ok && strings.TrimSpace(entry.Token) != "" &&
		IsTokenUsable(m.now(), entry.ExpiresAtTime(), horizon) {
		return entry.Token, "cache", nil
	}

	previous, found, err := m.store.FindActive(ctx, key)
	if err != nil {
		return "", "store", NewStoreUnavailableError(err, "find_active")
	}
	if found && strings.TrimSpace(previous.Token) != "" && IsTokenUsable(m.now(), previous.ExpiresAt, horizon) {
		m.putCache(ctx, key, previous)
		return previous.Token, "store", nil
	}

	// The old record is deactivated before the callback runs and is not
	// restored if the callback fails: a failed refresh leaves the key with no
	// active record.
	if _, err := m.store.DeactivateAll(ctx, key); err != nil {
		return "", "refresh", NewStoreUnavailableError(err, "deactivate_all")
	}
	m.deleteCache(ctx, key)

	callbackCtx := ctx
	if found {
		callbackCtx = withPreviousRecord(ctx, previous)
	}
	payload, err := refresh(callbackCtx)
	if err != nil {
		return "", "refresh", NewRefreshFailedError(err, key)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return "", "refresh", NewRefreshFailedError(fmt.Errorf("core: refresh payload is missing an access token"), key)
	}

	record := m.newRecord(key, StoreTokenInput{
		Key:          key,
		Token:        payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresIn:    payload.ExpiresIn,
		SubjectID:    payload.SubjectID,
		Metadata:     payload.Metadata,
	})
	if found {
		if record.SubjectID == "" {
			record.SubjectID = previous.SubjectID
		}
		record.Metadata = mergeAnyMap(previous.Metadata, record.Metadata)
	}

	m.putCache(ctx, key, record)
	if _, err := m.store.Create(ctx, record); err != nil {
		return "", "refresh", NewStoreUnavailableError(err, "create")
	}
	return record.Token, "refresh", nil
}

// GetActiveToken returns the active record for key. A cache hit is returned
// without a store read unless it lacks the subject id.
func (m *Manager) GetActiveToken(ctx context.Context, key TokenKey) (record TokenRecord, found bool, err error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return TokenRecord{}, false, NewBadInputError(err.Error())
	}

	if entry, ok := m.cache.Get(ctx, m.CacheKey(key)); ok && strings.TrimSpace(entry.Token) != "" {
		record = TokenRecord{
			Provider:  key.Provider,
			TenantID:  key.TenantID,
			Token:     entry.Token,
			ExpiresAt: entry.ExpiresAtTime(),
			IsActive:  true,
			SubjectID: entry.SubjectID,
			Metadata:  map[string]any{},
		}
		if record.SubjectID != "" {
			return record, true, nil
		}
		stored, storedFound, err := m.store.FindActive(ctx, key)
		if err != nil {
			return TokenRecord{}, false, NewStoreUnavailableError(err, "find_active")
		}
		if storedFound {
			record.ID = stored.ID
			record.SubjectID = stored.SubjectID
			record.RefreshToken = stored.RefreshToken
			record.IssuedAt = stored.IssuedAt
			record.Metadata = cloneAnyMap(stored.Metadata)
			record.CreatedAt = stored.CreatedAt
			record.UpdatedAt = stored.UpdatedAt
		}
		return record, true, nil
	}

	stored, storedFound, err := m.store.FindActive(ctx, key)
	if err != nil {
		return TokenRecord{}, false, NewStoreUnavailableError(err, "find_active")
	}
	return stored, storedFound, nil
}

func (m *Manager) GetTokenInfo(ctx context.Context, key TokenKey) (TokenInfo, error) {
	record, found, err := m.GetActiveToken(ctx, key)
	if err != nil {
		return TokenInfo{}, err
	}
	if !found {
		return TokenInfo{}, nil
	}
	info := TokenInfo{HasToken: strings.TrimSpace(record.Token) != ""}
	if !record.ExpiresAt.IsZero() {
		expiresAt := record.ExpiresAt.UTC()
		info.ExpiresAt = &expiresAt
	}
	info.IsValid = info.HasToken && m.IsUsable(record.ExpiresAt)
	return info, nil
}

// StoreToken persists a token obtained outside a refresh callback using the
// same deactivate-then-create sequence.
func (m *Manager) StoreToken(ctx context.Context, in StoreTokenInput) (record TokenRecord, err error) {
	key := in.Key.Normalize()
	if err := key.Validate(); err != nil {
		return TokenRecord{}, NewBadInputError(err.Error())
	}
	if strings.TrimSpace(in.Token) == "" {
		return TokenRecord{}, NewBadInputError("core: token is required")
	}

	startedAt := time.Now().UTC()
	fields := keyFields(key)
	defer func() {
		m.obs.observeOperation(ctx, startedAt, "store_token", err, fields)
	}()

	unlock := m.slots.lockWrites(key.String())
	defer unlock()

	previous, found, err := m.store.FindActive(ctx, key)
	if err != nil {
		return TokenRecord{}, NewStoreUnavailableError(err, "find_active")
	}
	if _, err := m.store.DeactivateAll(ctx, key); err != nil {
		return TokenRecord{}, NewStoreUnavailableError(err, "deactivate_all")
	}

	record = m.newRecord(key, in)
	if found {
		if record.SubjectID == "" {
			record.SubjectID = previous.SubjectID
		}
		record.Metadata = mergeAnyMap(previous.Metadata, record.Metadata)
	}

	m.putCache(ctx, key, record)
	created, err := m.store.Create(ctx, record)
	if err != nil {
		return TokenRecord{}, NewStoreUnavailableError(err, "create")
	}
	return created, nil
}

// DeleteTokens removes the cache entry and every durable record for key.
func (m *Manager) DeleteTokens(ctx context.Context, key TokenKey) (err error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return NewBadInputError(err.Error())
	}

	startedAt := time.Now().UTC()
	fields := keyFields(key)
	defer func() {
		m.obs.observeOperation(ctx, startedAt, "delete_tokens", err, fields)
	}()

	m.deleteCache(ctx, key)
	deleted, err := m.store.DeleteAll(ctx, key)
	if err != nil {
		return NewStoreUnavailableError(err, "delete_all")
	}
	fields["deleted"] = deleted
	return nil
}

// UpdateMetadata merges partial into the active record. The cache only mirrors
// token, expiry and subject, so it is left untouched.
func (m *Manager) UpdateMetadata(ctx context.Context, key TokenKey, partial map[string]any) (TokenRecord, bool, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return TokenRecord{}, false, NewBadInputError(err.Error())
	}
	record, found, err := m.store.UpdateMetadata(ctx, key, partial)
	if err != nil {
		return TokenRecord{}, false, NewStoreUnavailableError(err, "update_metadata")
	}
	return record, found, nil
}

// PruneInactive removes inactive records that expired before the retention
// window. Stores without retention support prune nothing.
func (m *Manager) PruneInactive(ctx context.Context) (pruned int, err error) {
	retention, ok := m.store.(RetentionStore)
	if !ok {
		return 0, nil
	}

	startedAt := time.Now().UTC()
	cutoff := m.now().Add(-m.cfg.RetentionWindow)
	fields := map[string]any{"cutoff": cutoff}
	defer func() {
		fields["pruned"] = pruned
		m.obs.observeOperation(ctx, startedAt, "prune_inactive", err, fields)
	}()

	pruned, err = retention.PruneInactive(ctx, cutoff)
	if err != nil {
		return 0, NewStoreUnavailableError(err, "prune_inactive")
	}
	return pruned, nil
}

// ListExpiring returns active records that leave the usable window within
// the given horizon.
func (m *Manager) ListExpiring(ctx context.Context, within time.Duration, limit int) ([]TokenRecord, error) {
	retention, ok := m.store.(RetentionStore)
	if !ok {
		return nil, nil
	}
	records, err := retention.ListExpiring(ctx, m.now().Add(within+m.cfg.ExpirationBuffer), limit)
	if err != nil {
		return nil, NewStoreUnavailableError(err, "list_expiring")
	}
	return records, nil
}

func (m *Manager) refreshInFlight(key TokenKey) bool {
	return m.slots.inFlight(key.Normalize().String())
}

func (m *Manager) newRecord(key TokenKey, in StoreTokenInput) TokenRecord {
	now := m.now()
	expiresIn := time.Duration(in.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = m.cfg.DefaultExpiry
	}
	return TokenRecord{
		Provider:     key.Provider,
		TenantID:     key.TenantID,
		Token:        strings.TrimSpace(in.Token),
		RefreshToken: strings.TrimSpace(in.RefreshToken),
		IssuedAt:     now,
		ExpiresAt:    now.Add(expiresIn),
		IsActive:     true,
		SubjectID:    strings.TrimSpace(in.SubjectID),
		Metadata:     cloneAnyMap(in.Metadata),
	}
}

func (m *Manager) entryUsable(entry CacheEntry) bool {
	return strings.TrimSpace(entry.Token) != "" && m.IsUsable(entry.ExpiresAtTime())
}

func (m *Manager) putCache(ctx context.Context, key TokenKey, record TokenRecord) {
	entry := CacheEntry{
		Token:     record.Token,
		ExpiresAt: record.ExpiresAt.UnixMilli(),
		SubjectID: record.SubjectID,
	}
	ttl := CacheTTL(m.now(), record.ExpiresAt, m.cfg.CacheGrace)
	if err := m.cache.Put(ctx, m.CacheKey(key), entry, ttl); err != nil {
		fields := keyFields(key)
		fields["error"] = err.Error()
		m.obs.warn(ctx, "token cache put failed", fields)
	}
}

func (m *Manager) deleteCache(ctx context.Context, key TokenKey) {
	if err := m.cache.Delete(ctx, m.CacheKey(key)); err != nil {
		fields := keyFields(key)
		fields["error"] = err.Error()
		m.obs.warn(ctx, "token cache delete failed", fields)
	}
}

type nopTokenCache struct{}

func (nopTokenCache) Get(context.Context, string) (CacheEntry, bool) { return CacheEntry{}, false }

func (nopTokenCache) Put(context.Context, string, CacheEntry, time.Duration) error { return nil }

func (nopTokenCache) Delete(context.Context, string) error { return nil }

var _ TokenManager = (*Manager)(nil)
