package repository

import (
	"context"
	"fmt"
	"strings"
)

// Options selects and addresses a storage backend.
type Options struct {
	// Driver is "postgres" or "sqlite".
	Driver string
	// DSN is the Postgres connection string.
	DSN string
	// Path is the SQLite database file, or ":memory:".
	Path string
}

// Open connects to the configured backend. Migrations are not applied.
func Open(ctx context.Context, opts Options) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", "postgres", "postgresql":
		if opts.DSN == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
		return OpenPostgres(ctx, opts.DSN)
	case "sqlite":
		return OpenSQLite(opts.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}
