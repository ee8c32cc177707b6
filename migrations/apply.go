package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"
)

// DialectForDriver maps a database/sql driver name onto a migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "postgres", "pgx", "pq":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}

// Apply registers the bank token migrations for dialect on client and runs
// them.
func Apply(ctx context.Context, client *persistence.Client, dialect string, opts ...Option) (Registration, error) {
	if client == nil {
		return Registration{}, fmt.Errorf("migrations: persistence client is required")
	}
	dialect = strings.TrimSpace(strings.ToLower(dialect))
	opts = append([]Option{WithDialects(dialect)}, opts...)

	reg, err := Register(ctx, func(_ context.Context, registered string, _ string, fsys fs.FS) error {
		if registered != dialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, opts...)
	if err != nil {
		return reg, err
	}
	if err := client.Migrate(ctx); err != nil {
		return reg, fmt.Errorf("migrations: migrate %s: %w", dialect, err)
	}
	return reg, nil
}
