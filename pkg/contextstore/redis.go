package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	contextKeyPrefix = "workflow:context:"
	tokenKeyPrefix   = "workflow:token:"
)

// RedisStore implements Store on a redis JSON document per context id.
// Patches are read-modify-write under a WATCH transaction so concurrent
// workers sharing a context id keep last-writer-wins per key rather than
// per document.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a context store over the given redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// EnsureContextID resolves the context id bound to a token, allocating a
// new id atomically on first use.
func (s *RedisStore) EnsureContextID(ctx context.Context, token string) (string, error) {
	key := tokenKeyPrefix + token
	id := uuid.NewString()
	// SETNX wins exactly once; everyone reads back the winning id.
	if err := s.client.SetNX(ctx, key, id, 0).Err(); err != nil {
		return "", fmt.Errorf("ensuring context id for token %s: %w", token, err)
	}
	stored, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("reading context id for token %s: %w", token, err)
	}
	return stored, nil
}

// Load returns the context map for the id. Missing contexts load empty.
func (s *RedisStore) Load(ctx context.Context, contextID string) (map[string]any, error) {
	raw, err := s.client.Get(ctx, contextKeyPrefix+contextID).Bytes()
	if errors.Is(err, redis.Nil) {
		return make(map[string]any), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading context %s: %w", contextID, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decoding context %s: %w", contextID, err)
	}
	if m == nil {
		m = make(map[string]any)
	}
	return m, nil
}

// Patch shallow-merges partial into the stored document. Nil values delete
// keys. Retries on write conflicts with concurrent patchers.
func (s *RedisStore) Patch(ctx context.Context, contextID string, partial map[string]any) (map[string]any, error) {
	key := contextKeyPrefix + contextID
	var merged map[string]any

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		current := make(map[string]any)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &current); err != nil {
				return fmt.Errorf("decoding context %s: %w", contextID, err)
			}
		}
		merged = merge(current, partial)
		encoded, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encoding context %s: %w", contextID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return merged, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("patching context %s: %w", contextID, err)
	}
	return nil, fmt.Errorf("patching context %s: too many write conflicts", contextID)
}
