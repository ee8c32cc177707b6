package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-bankauth/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const tokenRecordCacheKeyPrefix = "go-bankauth::token_record::v1"

var errNoActiveRecord = errors.New("sqlstore: no active token record")

type cachedActiveRecord struct {
	Record core.TokenRecord
}

// CachedTokenStore memoizes found FindActive reads in a go-repository-cache
// service and invalidates the key on every write. Misses are never cached.
type CachedTokenStore struct {
	base  core.RecordStore
	cache repositorycache.CacheService

	mu          sync.Mutex
	generations map[string]uint64
}

func NewCachedTokenStore(base core.RecordStore, cacheService repositorycache.CacheService) (*CachedTokenStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base token store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: token record cache service is required")
	}
	return &CachedTokenStore{
		base:        base,
		cache:       cacheService,
		generations: map[string]uint64{},
	}, nil
}

// TokenRecordCacheKey returns go-bankauth::token_record::v1::<provider>::<tenant>
// with each segment URL-path escaped after key normalization.
func TokenRecordCacheKey(key core.TokenKey) (string, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return "", err
	}
	segments := []string{
		tokenRecordCacheKeyPrefix,
		url.PathEscape(string(key.Provider)),
		url.PathEscape(key.TenantID),
	}
	return strings.Join(segments, "::"), nil
}

func (s *CachedTokenStore) FindActive(ctx context.Context, key core.TokenKey) (core.TokenRecord, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.TokenRecord{}, false, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	key = key.Normalize()
	cacheKey, err := TokenRecordCacheKey(key)
	if err != nil {
		return core.TokenRecord{}, false, err
	}
	generation := s.generation(cacheKey)
	cached, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedActiveRecord, error) {
		record, found, fetchErr := s.base.FindActive(ctx, key)
		if fetchErr != nil {
			return cachedActiveRecord{}, fetchErr
		}
		if !found {
			return cachedActiveRecord{}, errNoActiveRecord
		}
		return cachedActiveRecord{Record: cloneRecord(record)}, nil
	})
	if errors.Is(err, errNoActiveRecord) {
		return core.TokenRecord{}, false, nil
	}
	if err != nil {
		return core.TokenRecord{}, false, err
	}
	if s.generation(cacheKey) != generation {
		// a write landed while this read was in flight; drop what it stored
		if err := s.cache.Delete(ctx, cacheKey); err != nil {
			return core.TokenRecord{}, false, err
		}
		return s.base.FindActive(ctx, key)
	}
	return cloneRecord(cached.Record), true, nil
}

func (s *CachedTokenStore) Create(ctx context.Context, record core.TokenRecord) (core.TokenRecord, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.TokenRecord{}, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	created, err := s.base.Create(ctx, record)
	if err != nil {
		return core.TokenRecord{}, err
	}
	return created, s.invalidate(ctx, record.Key())
}

func (s *CachedTokenStore) DeactivateAll(ctx context.Context, key core.TokenKey) (int, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return 0, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	count, err := s.base.DeactivateAll(ctx, key)
	if err != nil {
		return 0, err
	}
	return count, s.invalidate(ctx, key)
}

func (s *CachedTokenStore) DeleteAll(ctx context.Context, key core.TokenKey) (int, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return 0, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	count, err := s.base.DeleteAll(ctx, key)
	if err != nil {
		return 0, err
	}
	return count, s.invalidate(ctx, key)
}

func (s *CachedTokenStore) UpdateMetadata(ctx context.Context, key core.TokenKey, partial map[string]any) (core.TokenRecord, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.TokenRecord{}, false, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	record, found, err := s.base.UpdateMetadata(ctx, key, partial)
	if err != nil {
		return core.TokenRecord{}, false, err
	}
	return record, found, s.invalidate(ctx, key)
}

// PruneInactive only touches inactive rows so cached active reads stay valid.
func (s *CachedTokenStore) PruneInactive(ctx context.Context, before time.Time) (int, error) {
	retention, ok := s.base.(core.RetentionStore)
	if !ok {
		return 0, fmt.Errorf("sqlstore: base token store does not support retention")
	}
	return retention.PruneInactive(ctx, before)
}

func (s *CachedTokenStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]core.TokenRecord, error) {
	retention, ok := s.base.(core.RetentionStore)
	if !ok {
		return nil, fmt.Errorf("sqlstore: base token store does not support retention")
	}
	return retention.ListExpiring(ctx, before, limit)
}

func (s *CachedTokenStore) invalidate(ctx context.Context, key core.TokenKey) error {
	cacheKey, err := TokenRecordCacheKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.generations[cacheKey]++
	s.mu.Unlock()
	return s.cache.Delete(ctx, cacheKey)
}

func (s *CachedTokenStore) generation(cacheKey string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[cacheKey]
}

func cloneRecord(record core.TokenRecord) core.TokenRecord {
	cloned := record
	cloned.Metadata = copyAnyMap(record.Metadata)
	return cloned
}
