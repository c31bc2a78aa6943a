package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"visitorid/go-backend/internal/contracts"
	"visitorid/go-backend/internal/securestore"
)

const fileSealLabel = "visitorid/kv/v1"

// FileStore keeps every key in one JSON document. When a sealer is set the
// document is encrypted at rest, which is what keeps stored JWKs off disk in
// the clear.
type FileStore struct {
	mu     sync.Mutex
	path   string
	sealer *securestore.Sealer
}

func NewFileStore(path string) (*FileStore, error) {
	return newFileStore(path, nil)
}

func NewEncryptedFileStore(path string, sealer *securestore.Sealer) (*FileStore, error) {
	if sealer == nil {
		return nil, securestore.ErrNoSecret
	}
	return newFileStore(path, sealer)
}

func newFileStore(path string, sealer *securestore.Sealer) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("file store path is required")
	}
	return &FileStore{path: path, sealer: sealer}, nil
}

func (s *FileStore) Read(ctx context.Context, key string) (string, bool, error) {
	if err := checkKey(key); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, contracts.Storage(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.loadAllLocked()
	if err != nil {
		return "", false, err
	}
	value, ok := all[key]
	return value, ok, nil
}

func (s *FileStore) Write(ctx context.Context, key, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return contracts.Storage(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.loadAllLocked()
	if err != nil {
		return err
	}
	all[key] = value
	return s.writeAllLocked(all)
}

func (s *FileStore) loadAllLocked() (map[string]string, error) {
	result := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, contracts.Storage(fmt.Errorf("read %s: %w", s.path, err))
	}
	if len(data) == 0 {
		return result, nil
	}
	if s.sealer != nil {
		data, err = s.sealer.Open(fileSealLabel, data)
		if err != nil {
			return nil, contracts.Storage(fmt.Errorf("open %s: %w", s.path, err))
		}
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, contracts.Storage(fmt.Errorf("parse %s: %w", s.path, err))
	}
	return result, nil
}

func (s *FileStore) writeAllLocked(all map[string]string) error {
	data, err := json.Marshal(all)
	if err != nil {
		return contracts.Storage(err)
	}
	if s.sealer != nil {
		data, err = s.sealer.Seal(fileSealLabel, data)
		if err != nil {
			return contracts.Storage(fmt.Errorf("seal %s: %w", s.path, err))
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return contracts.Storage(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return contracts.Storage(err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return contracts.Storage(fmt.Errorf("write %s: %w", tmpPath, err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return contracts.Storage(err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return contracts.Storage(fmt.Errorf("replace %s: %w", s.path, err))
	}
	return nil
}
