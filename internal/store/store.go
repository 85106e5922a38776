// Package store provides inbound update de-duplication backends for Secretario.
//
// Conversation sessions are never persisted; only the ids of inbound updates are kept so
// that transport redeliveries are processed once.
package store

import (
	"fmt"
	"log/slog"
	"strings"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // data source name for database connections
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DSNType identifies a database backend.
type DSNType string

// Supported backends.
const (
	DSNTypeMemory   DSNType = "memory"
	DSNTypeSQLite   DSNType = "sqlite"
	DSNTypePostgres DSNType = "postgres"
)

// DetectDSNType infers the backend from a DSN. Empty means in-memory; postgres URLs and
// key/value connection strings mean Postgres; anything else is a SQLite file path.
func DetectDSNType(dsn string) DSNType {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return DSNTypeMemory
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DSNTypePostgres
	case strings.Contains(dsn, "host=") && strings.Contains(dsn, "dbname="):
		return DSNTypePostgres
	default:
		return DSNTypeSQLite
	}
}

// DedupStore is a DedupRepo that owns a closable resource.
type DedupStore interface {
	DedupRepo
	Close() error
}

// New opens the de-duplication backend selected by dsn.
func New(dsn string) (DedupStore, error) {
	kind := DetectDSNType(dsn)
	slog.Debug("store.New: opening dedup store", "type", kind)
	switch kind {
	case DSNTypeMemory:
		return NewInMemoryDedupRepo(), nil
	case DSNTypePostgres:
		s, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, nil
	default:
		s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	}
}
