//go:build !cgo

package catalogstore

import (
	"context"
	"database/sql"
	"errors"

	sqlite "modernc.org/sqlite"
)

const driverName = "libsql"

func init() {
	sql.Register(driverName, &sqlite.Driver{})
}

// Open opens, creating if needed, a SQLite catalog database. Remote libsql
// URLs need a cgo build.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}
	if isRemoteDSN(dsn) {
		return nil, errors.New("libsql URL requires cgo-enabled build")
	}
	return openDB(ctx, dsn)
}
