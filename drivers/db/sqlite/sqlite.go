package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/burugo/linkcheck"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
)

// Store implements linkcheck.LinkStore and linkcheck.UserStore on SQLite.
type Store struct {
	db      *sqlx.DB
	dsn     string
	logger  *zap.Logger
	closeMx sync.Mutex
	closed  bool
}

var (
	_ linkcheck.LinkStore = (*Store)(nil)
	_ linkcheck.UserStore = (*Store)(nil)
)

// Open connects to dsn, pings it and applies the schema.
// Use a DSN with _foreign_keys=on, e.g. "file:linkcheck.db?_foreign_keys=on".
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sqlite")

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s := &Store{db: db, dsn: dsn, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("sqlite store initialized")
	return s, nil
}

// Migrate creates the tables and indexes when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite migrate: begin: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite migrate: commit: %w", err)
	}
	return nil
}

// Ping checks connectivity, for health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	if s.isClosed() {
		return errClosed
	}
	return s.db.PingContext(ctx)
}

// DB exposes the underlying handle.
func (s *Store) DB() *sqlx.DB { return s.db }

// Close closes the connection pool. Calling Close twice is a no-op.
func (s *Store) Close() error {
	s.closeMx.Lock()
	defer s.closeMx.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) isClosed() bool {
	s.closeMx.Lock()
	defer s.closeMx.Unlock()
	return s.closed
}

var errClosed = errors.New("sqlite store is closed")

// logQuery records the duration of a query at debug level. It is deferred
// with a pointer to the named error result.
func (s *Store) logQuery(op string, start time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	if err != nil && !errors.Is(err, linkcheck.ErrNotFound) {
		s.logger.Warn("query failed", zap.String("op", op), zap.Duration("took", time.Since(start)), zap.Error(err))
		return
	}
	s.logger.Debug("query", zap.String("op", op), zap.Duration("took", time.Since(start)))
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		email         TEXT NOT NULL UNIQUE,
		name          TEXT,
		created_at    DATETIME NOT NULL,
		last_login_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS links (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id       INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		url           TEXT NOT NULL,
		title         TEXT,
		content       TEXT,
		source_domain TEXT,
		author        TEXT,
		published_at  DATETIME,
		status        TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		created_at    DATETIME NOT NULL,
		updated_at    DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_links_user_created ON links (user_id, created_at DESC, id)`,
	`CREATE INDEX IF NOT EXISTS idx_links_user_url ON links (user_id, url)`,
	`CREATE TABLE IF NOT EXISTS verifications (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		link_id           INTEGER NOT NULL UNIQUE REFERENCES links(id) ON DELETE CASCADE,
		credibility_score REAL,
		claims            TEXT,
		sources_checked   TEXT,
		summary           TEXT,
		verified_at       DATETIME NOT NULL
	)`,
}
