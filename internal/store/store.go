// Package store provides the persistent storage backends for ispbot.
//
// Customers, tickets, top-up requests, audit events, inbound deduplication and
// the outbound message outbox live in SQLite or PostgreSQL. Conversation sessions
// are deliberately not persisted; see package session.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Database driver names as registered with database/sql.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store is the full persistence surface used by the application.
type Store interface {
	CustomerRepo
	TicketRepo
	TopUpRepo
	AuditRepo
	DedupRepo
	OutboxRepo

	Ping(ctx context.Context) error
	Close() error
}

// Opts holds store configuration.
type Opts struct {
	DSN    string
	Driver string
}

// Option defines a configuration option for the store.
type Option func(*Opts)

// WithSQLiteDSN selects SQLite with the given database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverSQLite
	}
}

// WithPostgresDSN selects PostgreSQL with the given connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverPostgres
	}
}

// DetectDSNType returns DriverPostgres for PostgreSQL URLs or key/value
// connection strings, and DriverSQLite for anything else (a file path).
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"):
		return DriverPostgres
	case strings.Contains(d, "host=") || strings.Contains(d, "dbname="):
		return DriverPostgres
	default:
		return DriverSQLite
	}
}

// New opens the backend chosen by the options. Without a driver the DSN is
// inspected with DetectDSNType.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}
	if cfg.Driver == "" {
		cfg.Driver = DetectDSNType(cfg.DSN)
	}
	slog.Debug("store.New: opening store", "driver", cfg.Driver)

	switch cfg.Driver {
	case DriverPostgres:
		return NewPostgresStore(WithPostgresDSN(cfg.DSN))
	case DriverSQLite:
		return NewSQLiteStore(WithSQLiteDSN(cfg.DSN))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
