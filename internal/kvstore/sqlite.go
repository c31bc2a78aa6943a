package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"visitorid/go-backend/internal/contracts"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const kvSchema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

type SQLiteConfig struct {
	Path     string
	PoolSize int
	Logger   *slog.Logger
	Now      func() time.Time
}

// SQLiteStore persists keys in a single table. SQLite serializes writers, so
// an upsert per key is all the atomicity the store promises.
type SQLiteStore struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	now    func() time.Time
	path   string
}

func OpenSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, contracts.Storage(fmt.Errorf("sqlite store: opening %s: %w", path, err))
	}
	logger.Info("kv sqlite store opened", "path", path, "pool_size", poolSize)
	return &SQLiteStore{pool: pool, logger: logger, now: now, path: path}, nil
}

func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteTransient(conn, kvSchema, nil)
}

func (s *SQLiteStore) Read(ctx context.Context, key string) (string, bool, error) {
	if err := checkKey(key); err != nil {
		return "", false, err
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", false, contracts.Storage(fmt.Errorf("sqlite store: take: %w", err))
	}
	defer s.pool.Put(conn)

	var (
		value string
		found bool
	)
	err = sqlitex.Execute(conn, `SELECT value FROM kv WHERE key = ?`, &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return "", false, contracts.Storage(fmt.Errorf("sqlite store: read %q: %w", key, err))
	}
	return value, found, nil
}

func (s *SQLiteStore) Write(ctx context.Context, key, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return contracts.Storage(fmt.Errorf("sqlite store: take: %w", err))
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{Args: []any{key, value, s.now().UnixMilli()}},
	)
	if err != nil {
		return contracts.Storage(fmt.Errorf("sqlite store: write %q: %w", key, err))
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if err := s.pool.Close(); err != nil {
		s.logger.Error("kv sqlite store close error", "path", s.path, "error", err)
		return contracts.Storage(err)
	}
	s.logger.Info("kv sqlite store closed", "path", s.path)
	return nil
}
