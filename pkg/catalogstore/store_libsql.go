//go:build cgo

package catalogstore

import (
	"context"
	"database/sql"

	_ "github.com/tursodatabase/go-libsql"
)

const driverName = "libsql"

// Open opens, creating if needed, a local or remote libsql catalog
// database.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}
	return openDB(ctx, dsn)
}
