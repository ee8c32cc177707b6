package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-bankauth/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// ErrActiveTokenConflict is returned when a concurrent writer created an
// active record for the same key inside the same window.
var ErrActiveTokenConflict = errors.New("sqlstore: another active token exists for key")

type TokenStore struct {
	db   *bun.DB
	repo repository.Repository[*tokenRecord]
	now  func() time.Time
}

func NewTokenStore(db *bun.DB) (*TokenStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*tokenRecord](db, tokenHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid token repository wiring: %w", err)
		}
	}
	return &TokenStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *TokenStore) FindActive(ctx context.Context, key core.TokenKey) (core.TokenRecord, bool, error) {
	if s == nil || s.repo == nil {
		return core.TokenRecord{}, false, fmt.Errorf("sqlstore: token store is not configured")
	}
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return core.TokenRecord{}, false, err
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider", "=", string(key.Provider)),
		repository.SelectBy("tenant_id", "=", key.TenantID),
		selectActive(),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.TokenRecord{}, false, err
	}
	if len(records) == 0 {
		return core.TokenRecord{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

// Create inserts record. When the record is active any previous active row for
// the same key is deactivated inside the same transaction.
func (s *TokenStore) Create(ctx context.Context, in core.TokenRecord) (core.TokenRecord, error) {
	if s == nil || s.repo == nil || s.db == nil {
		return core.TokenRecord{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	key := in.Key()
	if err := key.Validate(); err != nil {
		return core.TokenRecord{}, err
	}
	now := s.now()
	record := newTokenRecord(in, now)

	var created core.TokenRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if record.IsActive {
			if _, err := deactivateActive(ctx, tx, key, now); err != nil {
				return err
			}
		}
		inserted, err := s.repo.CreateTx(ctx, tx, record)
		if err != nil {
			return err
		}
		created = inserted.toDomain()
		return nil
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.TokenRecord{}, fmt.Errorf("%w: %s", ErrActiveTokenConflict, key)
		}
		return core.TokenRecord{}, err
	}
	return created, nil
}

func (s *TokenStore) DeactivateAll(ctx context.Context, key core.TokenKey) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: token store is not configured")
	}
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return 0, err
	}
	return deactivateActive(ctx, s.db, key, s.now())
}

func (s *TokenStore) DeleteAll(ctx context.Context, key core.TokenKey) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: token store is not configured")
	}
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return 0, err
	}
	result, err := s.db.NewDelete().
		Model((*tokenRecord)(nil)).
		Where("provider = ?", string(key.Provider)).
		Where("tenant_id = ?", key.TenantID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return rowsAffected(result), nil
}

// UpdateMetadata overlays partial onto the active record's metadata.
func (s *TokenStore) UpdateMetadata(ctx context.Context, key core.TokenKey, partial map[string]any) (core.TokenRecord, bool, error) {
	if s == nil || s.db == nil {
		return core.TokenRecord{}, false, fmt.Errorf("sqlstore: token store is not configured")
	}
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return core.TokenRecord{}, false, err
	}

	var (
		updated core.TokenRecord
		found   bool
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &tokenRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.provider = ?", string(key.Provider)).
			Where("?TableAlias.tenant_id = ?", key.TenantID).
			Where("?TableAlias.is_active = ?", true).
			OrderExpr("?TableAlias.created_at DESC").
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}

		record.Metadata = mergeMetadata(record.Metadata, partial)
		record.UpdatedAt = s.now()
		if _, err := tx.NewUpdate().
			Model(record).
			Column("metadata", "updated_at").
			WherePK().
			Exec(ctx); err != nil {
			return err
		}
		updated = record.toDomain()
		found = true
		return nil
	})
	if err != nil {
		return core.TokenRecord{}, false, err
	}
	return updated, found, nil
}

func (s *TokenStore) PruneInactive(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: token store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*tokenRecord)(nil)).
		Where("is_active = ?", false).
		Where("expires_at < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return rowsAffected(result), nil
}

func (s *TokenStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]core.TokenRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: token store is not configured")
	}
	criteria := []repository.SelectCriteria{
		selectActive(),
		repository.SelectByTimetz("expires_at", "<", before.UTC()),
		repository.OrderBy("expires_at ASC"),
	}
	if limit > 0 {
		criteria = append(criteria, repository.SelectPaginate(limit, 0))
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	out := make([]core.TokenRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// selectActive binds is_active as a boolean so sqlite and postgres compare it
// the same way.
func selectActive() repository.SelectCriteria {
	return repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.is_active = ?", true)
	})
}

func deactivateActive(ctx context.Context, db bun.IDB, key core.TokenKey, now time.Time) (int, error) {
	result, err := db.NewUpdate().
		Model((*tokenRecord)(nil)).
		Set("is_active = ?", false).
		Set("updated_at = ?", now).
		Where("provider = ?", string(key.Provider)).
		Where("tenant_id = ?", key.TenantID).
		Where("is_active = ?", true).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return rowsAffected(result), nil
}

type rowsResult interface {
	RowsAffected() (int64, error)
}

func rowsAffected(result rowsResult) int {
	if result == nil {
		return 0
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0
	}
	return int(count)
}

func mergeMetadata(base map[string]any, partial map[string]any) map[string]any {
	out := copyAnyMap(base)
	for key, value := range partial {
		out[key] = value
	}
	return out
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "unique") || strings.Contains(text, "duplicate")
}
