package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable marks override store failures the registry treats as
// soft: reads degrade to builtin defaults, writes are rejected.
var ErrStoreUnavailable = errors.New("profile override store unavailable")

// OverrideStore persists per-profile override records.
type OverrideStore interface {
	Get(ctx context.Context, name string) (*Override, error)
	List(ctx context.Context) (map[string]*Override, error)
	Put(ctx context.Context, name string, o *Override) error
	Delete(ctx context.Context, name string) error
}

const overrideKeyPrefix = "profile:override:"

// RedisOverrideStore stores one JSON override record per profile name.
type RedisOverrideStore struct {
	client *redis.Client
}

// NewRedisOverrideStore creates an override store over the given client.
func NewRedisOverrideStore(client *redis.Client) *RedisOverrideStore {
	return &RedisOverrideStore{client: client}
}

func (s *RedisOverrideStore) Get(ctx context.Context, name string) (*Override, error) {
	raw, err := s.client.Get(ctx, overrideKeyPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading override for %s: %v", ErrStoreUnavailable, name, err)
	}
	var o Override
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("decoding override for %s: %w", name, err)
	}
	return &o, nil
}

func (s *RedisOverrideStore) List(ctx context.Context) (map[string]*Override, error) {
	out := make(map[string]*Override)
	iter := s.client.Scan(ctx, 0, overrideKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		name := key[len(overrideKeyPrefix):]
		o, err := s.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		if o != nil {
			out[name] = o
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scanning overrides: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *RedisOverrideStore) Put(ctx context.Context, name string, o *Override) error {
	encoded, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encoding override for %s: %w", name, err)
	}
	if err := s.client.Set(ctx, overrideKeyPrefix+name, encoded, 0).Err(); err != nil {
		return fmt.Errorf("%w: writing override for %s: %v", ErrStoreUnavailable, name, err)
	}
	return nil
}

func (s *RedisOverrideStore) Delete(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, overrideKeyPrefix+name).Err(); err != nil {
		return fmt.Errorf("%w: deleting override for %s: %v", ErrStoreUnavailable, name, err)
	}
	return nil
}
