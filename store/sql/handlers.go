package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-bankauth/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func tokenHandlers() repository.ModelHandlers[*tokenRecord] {
	return repository.ModelHandlers[*tokenRecord]{
		NewRecord: func() *tokenRecord {
			return &tokenRecord{}
		},
		GetID: func(record *tokenRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *tokenRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *tokenRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func newTokenRecord(in core.TokenRecord, now time.Time) *tokenRecord {
	key := in.Key()
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := in.CreatedAt.UTC()
	if in.CreatedAt.IsZero() {
		createdAt = now
	}
	return &tokenRecord{
		ID:           id,
		Provider:     string(key.Provider),
		TenantID:     key.TenantID,
		Token:        in.Token,
		RefreshToken: in.RefreshToken,
		IssuedAt:     in.IssuedAt.UTC(),
		ExpiresAt:    in.ExpiresAt.UTC(),
		IsActive:     in.IsActive,
		SubjectID:    strings.TrimSpace(in.SubjectID),
		Metadata:     copyAnyMap(in.Metadata),
		CreatedAt:    createdAt,
		UpdatedAt:    now,
	}
}

func (r *tokenRecord) toDomain() core.TokenRecord {
	if r == nil {
		return core.TokenRecord{}
	}
	return core.TokenRecord{
		ID:           r.ID,
		Provider:     core.Provider(r.Provider),
		TenantID:     r.TenantID,
		Token:        r.Token,
		RefreshToken: r.RefreshToken,
		IssuedAt:     r.IssuedAt.UTC(),
		ExpiresAt:    r.ExpiresAt.UTC(),
		IsActive:     r.IsActive,
		SubjectID:    r.SubjectID,
		Metadata:     copyAnyMap(r.Metadata),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
