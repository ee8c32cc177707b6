package sqlstore

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-bankauth/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type countingRecordStore struct {
	*core.MemoryRecordStore
	mu        sync.Mutex
	findCalls int
}

func (s *countingRecordStore) FindActive(ctx context.Context, key core.TokenKey) (core.TokenRecord, bool, error) {
	s.mu.Lock()
	s.findCalls++
	s.mu.Unlock()
	return s.MemoryRecordStore.FindActive(ctx, key)
}

func (s *countingRecordStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findCalls
}

// pausingRecordStore holds its first FindActive after the base read until
// release is closed.
type pausingRecordStore struct {
	*core.MemoryRecordStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func newPausingRecordStore() *pausingRecordStore {
	return &pausingRecordStore{
		MemoryRecordStore: core.NewMemoryRecordStore(),
		read:              make(chan struct{}),
		release:           make(chan struct{}),
	}
}

func (s *pausingRecordStore) FindActive(ctx context.Context, key core.TokenKey) (core.TokenRecord, bool, error) {
	record, found, err := s.MemoryRecordStore.FindActive(ctx, key)
	s.once.Do(func() {
		close(s.read)
		<-s.release
	})
	return record, found, err
}

func newTestTokenCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}

func TestCachedTokenStore_FindActive_MissFetchThenHit(t *testing.T) {
	base := &countingRecordStore{MemoryRecordStore: core.NewMemoryRecordStore()}
	store, err := NewCachedTokenStore(base, newTestTokenCacheService(t))
	if err != nil {
		t.Fatalf("new cached token store: %v", err)
	}
	ctx := context.Background()
	key := core.NewTokenKey("oauthbank", "tenant-1")
	if _, err := base.Create(ctx, core.TokenRecord{
		Provider:  key.Provider,
		TenantID:  key.TenantID,
		Token:     "abc",
		ExpiresAt: time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
		IsActive:  true,
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	for i := 0; i < 2; i++ {
		record, found, err := store.FindActive(ctx, key)
		if err != nil {
			t.Fatalf("find active %d: %v", i, err)
		}
		if !found || record.Token != "abc" {
			t.Fatalf("expected cached token abc, got %+v found=%v", record, found)
		}
	}
	if base.calls() != 1 {
		t.Fatalf("expected a single base read, got %d", base.calls())
	}
}

func TestCachedTokenStore_WritesInvalidateKey(t *testing.T) {
	base := &countingRecordStore{MemoryRecordStore: core.NewMemoryRecordStore()}
	store, err := NewCachedTokenStore(base, newTestTokenCacheService(t))
	if err != nil {
		t.Fatalf("new cached token store: %v", err)
	}
	ctx := context.Background()
	key := core.NewTokenKey("oauthbank", "tenant-2")

	if _, found, err := store.FindActive(ctx, key); err != nil || found {
		t.Fatalf("expected cached miss before create, found=%v err=%v", found, err)
	}
	if _, err := store.Create(ctx, core.TokenRecord{
		Provider:  key.Provider,
		TenantID:  key.TenantID,
		Token:     "fresh",
		ExpiresAt: time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
		IsActive:  true,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	record, found, err := store.FindActive(ctx, key)
	if err != nil || !found || record.Token != "fresh" {
		t.Fatalf("expected create to invalidate the negative entry, got %+v found=%v err=%v", record, found, err)
	}
	if base.calls() != 2 {
		t.Fatalf("expected two base reads, got %d", base.calls())
	}

	if _, _, err := store.UpdateMetadata(ctx, key, map[string]any{"consent_id": "c-1"}); err != nil {
		t.Fatalf("update metadata: %v", err)
	}
	record, _, err = store.FindActive(ctx, key)
	if err != nil {
		t.Fatalf("find after metadata update: %v", err)
	}
	if record.Metadata["consent_id"] != "c-1" {
		t.Fatalf("expected metadata update to be visible, got %v", record.Metadata)
	}

	if _, err := store.DeactivateAll(ctx, key); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, found, err := store.FindActive(ctx, key); err != nil || found {
		t.Fatalf("expected no active record after deactivate, found=%v err=%v", found, err)
	}
}

func TestCachedTokenStore_DelegatesRetention(t *testing.T) {
	base := &countingRecordStore{MemoryRecordStore: core.NewMemoryRecordStore()}
	store, err := NewCachedTokenStore(base, newTestTokenCacheService(t))
	if err != nil {
		t.Fatalf("new cached token store: %v", err)
	}
	ctx := context.Background()
	expiresAt := time.Date(2026, 3, 14, 9, 35, 0, 0, time.UTC)
	if _, err := base.Create(ctx, core.TokenRecord{Provider: "oauthbank", TenantID: "t", Token: "a", ExpiresAt: expiresAt, IsActive: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	records, err := store.ListExpiring(ctx, expiresAt.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("list expiring: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one expiring record, got %d", len(records))
	}
}

func TestTokenRecordCacheKey_Contract(t *testing.T) {
	key, err := TokenRecordCacheKey(core.NewTokenKey(" OAuthBank ", "tenant/one two"))
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if !strings.HasPrefix(key, "go-bankauth::token_record::v1::") {
		t.Fatalf("unexpected prefix in %q", key)
	}
	if strings.Contains(key, " ") || strings.Count(key, "::") != 4 {
		t.Fatalf("expected escaped segments, got %q", key)
	}
	if _, err := TokenRecordCacheKey(core.NewTokenKey("", "tenant")); err == nil {
		t.Fatalf("expected empty provider to be rejected")
	}
}

func TestCachedTokenStore_ReadRacingCreateDoesNotPinStaleResult(t *testing.T) {
	cases := []struct {
		name string
		seed string
	}{
		{name: "miss", seed: ""},
		{name: "previous token", seed: "old"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			base := newPausingRecordStore()
			store, err := NewCachedTokenStore(base, newTestTokenCacheService(t))
			if err != nil {
				t.Fatalf("new cached token store: %v", err)
			}
			ctx := context.Background()
			key := core.NewTokenKey("oauthbank", "tenant-race")
			expiresAt := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
			if tc.seed != "" {
				if _, err := base.MemoryRecordStore.Create(ctx, core.TokenRecord{
					Provider: key.Provider, TenantID: key.TenantID, Token: tc.seed, ExpiresAt: expiresAt, IsActive: true,
				}); err != nil {
					t.Fatalf("seed: %v", err)
				}
			}

			done := make(chan error, 1)
			go func() {
				_, _, err := store.FindActive(ctx, key)
				done <- err
			}()
			<-base.read
			if _, err := store.Create(ctx, core.TokenRecord{
				Provider: key.Provider, TenantID: key.TenantID, Token: "fresh", ExpiresAt: expiresAt, IsActive: true,
			}); err != nil {
				t.Fatalf("create: %v", err)
			}
			close(base.release)
			if err := <-done; err != nil {
				t.Fatalf("racing find active: %v", err)
			}

			record, found, err := store.FindActive(ctx, key)
			if err != nil || !found || record.Token != "fresh" {
				t.Fatalf("expected fresh token after create, got %+v found=%v err=%v", record, found, err)
			}
		})
	}
}
