package kvstore

import (
	"fmt"
	"log/slog"
	"strings"

	"visitorid/go-backend/internal/securestore"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

type Options struct {
	Backend string
	Path    string
	// Secret seals the file backend. Empty keeps the file in plaintext.
	Secret   string
	KDF      securestore.Params
	PoolSize int
	Logger   *slog.Logger
}

// Open builds the configured backend. The returned close function is never nil.
func Open(opts Options) (Store, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendMemory:
		return NewMemoryStore(), noop, nil
	case BackendFile:
		if strings.TrimSpace(opts.Secret) == "" {
			store, err := NewFileStore(opts.Path)
			if err != nil {
				return nil, noop, err
			}
			return store, noop, nil
		}
		sealer, err := securestore.NewSealer(opts.Secret, opts.KDF)
		if err != nil {
			return nil, noop, err
		}
		store, err := NewEncryptedFileStore(opts.Path, sealer)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case BackendSQLite:
		store, err := OpenSQLiteStore(SQLiteConfig{Path: opts.Path, PoolSize: opts.PoolSize, Logger: opts.Logger})
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown kv backend %q", opts.Backend)
	}
}
