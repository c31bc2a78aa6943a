package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"visitorid/go-backend/internal/contracts"
	"visitorid/go-backend/pkg/models"
)

var ErrEmptyKey = errors.New("kv key is required")

// Store is a string-valued key-value store. Reads and writes of a single key
// are atomic; concurrent writers to the same key resolve last-write-wins.
type Store interface {
	Read(ctx context.Context, key string) (string, bool, error)
	Write(ctx context.Context, key, value string) error
}

// ReadJSONMetadata reads and decodes a metadata document. A missing key is
// reported as ok=false with no error.
func ReadJSONMetadata(ctx context.Context, s Store, key string) (models.UserMetadata, bool, error) {
	raw, ok, err := s.Read(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	var metadata models.UserMetadata
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, false, contracts.Decode(fmt.Errorf("metadata: %w", err))
	}
	if metadata == nil {
		return nil, false, contracts.Decode(errors.New("metadata: not a json object"))
	}
	return metadata, true, nil
}

func WriteJSONMetadata(ctx context.Context, s Store, key string, metadata models.UserMetadata) error {
	if metadata == nil {
		metadata = models.UserMetadata{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return contracts.Encode(fmt.Errorf("metadata: %w", err))
	}
	return s.Write(ctx, key, string(raw))
}

func checkKey(key string) error {
	if key == "" {
		return contracts.Storage(ErrEmptyKey)
	}
	return nil
}
