package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(now time.Time) *fixedClock {
	return &fixedClock{now: now}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type cachedItem struct {
	entry CacheEntry
	ttl   time.Duration
}

type memoryTokenCache struct {
	mu       sync.Mutex
	items    map[string]cachedItem
	putErr   error
	delErr   error
	puts     int
	deletes  int
	lastTTLs map[string]time.Duration
}

func newMemoryTokenCache() *memoryTokenCache {
	return &memoryTokenCache{items: map[string]cachedItem{}, lastTTLs: map[string]time.Duration{}}
}

func (c *memoryTokenCache) Get(_ context.Context, key string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	return item.entry, ok
}

func (c *memoryTokenCache) Put(_ context.Context, key string, entry CacheEntry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	if c.putErr != nil {
		return c.putErr
	}
	c.items[key] = cachedItem{entry: entry, ttl: ttl}
	c.lastTTLs[key] = ttl
	return nil
}

func (c *memoryTokenCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	if c.delErr != nil {
		return c.delErr
	}
	delete(c.items, key)
	return nil
}

func (c *memoryTokenCache) entry(key string) (CacheEntry, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	return item.entry, item.ttl, ok
}

type failingRecordStore struct {
	*MemoryRecordStore
	findErr   error
	createErr error
}

func (s failingRecordStore) FindActive(ctx context.Context, key TokenKey) (TokenRecord, bool, error) {
	if s.findErr != nil {
		return TokenRecord{}, false, s.findErr
	}
	return s.MemoryRecordStore.FindActive(ctx, key)
}

func (s failingRecordStore) Create(ctx context.Context, record TokenRecord) (TokenRecord, error) {
	if s.createErr != nil {
		return TokenRecord{}, s.createErr
	}
	return s.MemoryRecordStore.Create(ctx, record)
}

func activeRecords(store *MemoryRecordStore, key TokenKey) []TokenRecord {
	store.mu.Lock()
	defer store.mu.Unlock()
	out := []TokenRecord{}
	for _, record := range store.records[key.Normalize()] {
		if record.IsActive {
			out = append(out, cloneTokenRecord(record))
		}
	}
	return out
}

func allRecords(store *MemoryRecordStore, key TokenKey) []TokenRecord {
	store.mu.Lock()
	defer store.mu.Unlock()
	out := make([]TokenRecord, 0, len(store.records[key.Normalize()]))
	for _, record := range store.records[key.Normalize()] {
		out = append(out, cloneTokenRecord(record))
	}
	return out
}

func newTestManager(t interface{ Fatalf(string, ...any) }, store RecordStore, cache TokenCache, clock *fixedClock) *Manager {
	manager, err := NewManager(store, cache, DefaultConfig(), WithManagerClock(clock.Now))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager
}

// countingRefresh returns a RefreshFunc that counts its calls and answers
// with the given payload after an optional delay.
func countingRefresh(calls *atomic.Int32, delay time.Duration, payload RefreshPayload, err error) RefreshFunc {
	return func(ctx context.Context) (RefreshPayload, error) {
		calls.Add(1)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return RefreshPayload{}, ctx.Err()
			}
		}
		if err != nil {
			return RefreshPayload{}, err
		}
		return payload, nil
	}
}

type stubStrategy struct {
	provider     Provider
	manager      TokenManager
	refresh      RefreshFunc
	authErrs     []error
	authCalls    atomic.Int32
	accounts     []Account
	accountsErr  error
	balances     []Balance
	transactions []Transaction
	redirect     OAuthRedirect
}

func (s *stubStrategy) Provider() Provider { return s.provider }

func (s *stubStrategy) RefreshFunc(string) RefreshFunc {
	if s.refresh != nil {
		return s.refresh
	}
	return func(context.Context) (RefreshPayload, error) {
		return RefreshPayload{AccessToken: "stub-token", ExpiresIn: 3600}, nil
	}
}

func (s *stubStrategy) Authenticate(ctx context.Context, tenantID string) (AuthResult, error) {
	call := int(s.authCalls.Add(1)) - 1
	if call < len(s.authErrs) && s.authErrs[call] != nil {
		return AuthResult{}, s.authErrs[call]
	}
	if s.manager == nil {
		return AuthResult{Provider: s.provider, TenantID: tenantID, Token: "stub-token"}, nil
	}
	key := NewTokenKey(s.provider, tenantID)
	token, err := s.manager.GetValidToken(ctx, key, s.RefreshFunc(tenantID))
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Provider: s.provider, TenantID: tenantID, Token: token}, nil
}

func (s *stubStrategy) GetAccounts(context.Context, string) ([]Account, error) {
	if s.accountsErr != nil {
		return nil, s.accountsErr
	}
	return s.accounts, nil
}

func (s *stubStrategy) GetBalances(context.Context, string, string) ([]Balance, error) {
	return s.balances, nil
}

func (s *stubStrategy) GetTransactions(context.Context, string, string, TransactionQuery) ([]Transaction, error) {
	return s.transactions, nil
}

func (s *stubStrategy) GetOAuthRedirectURL(_ context.Context, req RedirectRequest) (OAuthRedirect, error) {
	if s.redirect.URL == "" {
		return OAuthRedirect{}, fmt.Errorf("stub: redirect not supported for %s", req.TenantID)
	}
	return s.redirect, nil
}

type exchangingStrategy struct {
	*stubStrategy
}

func (s exchangingStrategy) ExchangeOAuthCode(_ context.Context, tenantID string, code string, _ string) (AuthResult, error) {
	return AuthResult{Provider: s.provider, TenantID: tenantID, Token: "exchanged-" + code}, nil
}

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) snapshot() ([]capturedCounter, []capturedHistogram) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]capturedCounter(nil), m.counters...), append([]capturedHistogram(nil), m.histograms...)
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
	err    error
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if l.err != nil {
		return nil, l.err
	}
	return cloneAnyMap(l.values), nil
}

func hasCounter(items []capturedCounter, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasHistogram(items []capturedHistogram, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasLog(items []capturedLog, level string, message string, eventType string) bool {
	for _, item := range items {
		if item.level != level || item.msg != message {
			continue
		}
		if eventType == "" || item.fields["event_type"] == eventType {
			return true
		}
	}
	return false
}

// appendOnlyRecordStore adds I/O-like latency and inserts without touching
// earlier records, so only the Manager keeps a single active record.
type appendOnlyRecordStore struct {
	*MemoryRecordStore
	delay time.Duration
}

func (s appendOnlyRecordStore) DeactivateAll(ctx context.Context, key TokenKey) (int, error) {
	time.Sleep(s.delay)
	return s.MemoryRecordStore.DeactivateAll(ctx, key)
}

func (s appendOnlyRecordStore) Create(ctx context.Context, record TokenRecord) (TokenRecord, error) {
	time.Sleep(s.delay)
	active := record.IsActive
	record.IsActive = false
	created, err := s.MemoryRecordStore.Create(ctx, record)
	if err != nil || !active {
		return created, err
	}
	s.mu.Lock()
	records := s.records[created.Key()]
	records[len(records)-1].IsActive = true
	s.mu.Unlock()
	created.IsActive = true
	return created, nil
}
