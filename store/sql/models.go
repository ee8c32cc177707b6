package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type tokenRecord struct {
	bun.BaseModel `bun:"table:bank_tokens,alias:bt"`

	ID           string         `bun:"id,pk"`
	Provider     string         `bun:"provider,notnull"`
	TenantID     string         `bun:"tenant_id,notnull"`
	Token        string         `bun:"token,notnull"`
	RefreshToken string         `bun:"refresh_token,notnull"`
	IssuedAt     time.Time      `bun:"issued_at,notnull"`
	ExpiresAt    time.Time      `bun:"expires_at,notnull"`
	IsActive     bool           `bun:"is_active,notnull"`
	SubjectID    string         `bun:"subject_id,notnull"`
	Metadata     map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
