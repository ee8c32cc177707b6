package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRecordStore is a process-local RecordStore. It keeps full history per
// key like the SQL store does.
type MemoryRecordStore struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[TokenKey][]TokenRecord
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		now:     func() time.Time { return time.Now().UTC() },
		records: map[TokenKey][]TokenRecord{},
	}
}

func (s *MemoryRecordStore) FindActive(_ context.Context, key TokenKey) (TokenRecord, bool, error) {
	key = key.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.records[key]
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].IsActive {
			return cloneTokenRecord(records[i]), true, nil
		}
	}
	return TokenRecord{}, false, nil
}

func (s *MemoryRecordStore) Create(_ context.Context, record TokenRecord) (TokenRecord, error) {
	key := record.Key()
	if err := key.Validate(); err != nil {
		return TokenRecord{}, err
	}
	now := s.now()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.Provider = key.Provider
	record.TenantID = key.TenantID
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	record = cloneTokenRecord(record)

	s.mu.Lock()
	defer s.mu.Unlock()
	if record.IsActive {
		s.deactivateLocked(key, now)
	}
	s.records[key] = append(s.records[key], record)
	return cloneTokenRecord(record), nil
}

func (s *MemoryRecordStore) DeactivateAll(_ context.Context, key TokenKey) (int, error) {
	key = key.Normalize()
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deactivateLocked(key, now), nil
}

// deactivateLocked requires s.mu.
func (s *MemoryRecordStore) deactivateLocked(key TokenKey, now time.Time) int {
	changed := 0
	records := s.records[key]
	for i := range records {
		if !records[i].IsActive {
			continue
		}
		records[i].IsActive = false
		records[i].UpdatedAt = now
		changed++
	}
	return changed
}

func (s *MemoryRecordStore) DeleteAll(_ context.Context, key TokenKey) (int, error) {
	key = key.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := len(s.records[key])
	delete(s.records, key)
	return deleted, nil
}

func (s *MemoryRecordStore) UpdateMetadata(_ context.Context, key TokenKey, partial map[string]any) (TokenRecord, bool, error) {
	key = key.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.records[key]
	for i := len(records) - 1; i >= 0; i-- {
		if !records[i].IsActive {
			continue
		}
		records[i].Metadata = mergeAnyMap(records[i].Metadata, partial)
		records[i].UpdatedAt = s.now()
		return cloneTokenRecord(records[i]), true, nil
	}
	return TokenRecord{}, false, nil
}

func (s *MemoryRecordStore) PruneInactive(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for key, records := range s.records {
		kept := records[:0]
		for _, record := range records {
			if !record.IsActive && record.ExpiresAt.Before(before) {
				pruned++
				continue
			}
			kept = append(kept, record)
		}
		if len(kept) == 0 {
			delete(s.records, key)
			continue
		}
		s.records[key] = kept
	}
	return pruned, nil
}

func (s *MemoryRecordStore) ListExpiring(_ context.Context, before time.Time, limit int) ([]TokenRecord, error) {
	s.mu.Lock()
	out := []TokenRecord{}
	for _, records := range s.records {
		for _, record := range records {
			if record.IsActive && record.ExpiresAt.Before(before) {
				out = append(out, cloneTokenRecord(record))
			}
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ RecordStore    = (*MemoryRecordStore)(nil)
	_ RetentionStore = (*MemoryRecordStore)(nil)
)
