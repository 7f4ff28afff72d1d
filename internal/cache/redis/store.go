// Package redis stores response cache entries in Redis so several server
// instances share one cache.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davidbz/lessonlab/internal/cache"
	"github.com/davidbz/lessonlab/internal/observability"
)

const scanBatch = 100

// Store implements cache.Store on a Redis client.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// NewStore creates a store that namespaces its keys under prefix.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	return &Store{
		client: client,
		prefix: prefix + ":cache:",
	}
}

type document struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

func (s *Store) redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return s.prefix + hex.EncodeToString(sum[:])
}

// Load reads an entry. The value comes back as json.RawMessage.
func (s *Store) Load(ctx context.Context, key string) (*cache.Entry, error) {
	raw, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	doc, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return doc.entry(), nil
}

// Save writes an entry that Redis itself drops at its expiry.
func (s *Store) Save(ctx context.Context, key string, entry *cache.Entry) error {
	value, err := json.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	payload, err := json.Marshal(document{
		Key:       key,
		Value:     value,
		CreatedAt: entry.CreatedAt,
		ExpiresAt: entry.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	err = s.client.SetArgs(ctx, s.redisKey(key), payload, redis.SetArgs{
		ExpireAt: entry.ExpiresAt,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	observability.FromContext(ctx).Debug("cache entry stored",
		observability.String("key", key),
		observability.Int("size", len(payload)))

	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Clear deletes every key under the store prefix.
func (s *Store) Clear(ctx context.Context) error {
	return s.scan(ctx, func(keys []string) (bool, error) {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return false, fmt.Errorf("failed to clear cache entries: %w", err)
		}
		return true, nil
	})
}

// Range visits every stored entry.
func (s *Store) Range(ctx context.Context, fn func(key string, entry *cache.Entry) bool) error {
	return s.scan(ctx, func(keys []string) (bool, error) {
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return false, fmt.Errorf("failed to read cache entries: %w", err)
		}

		for _, v := range values {
			str, ok := v.(string)
			if !ok {
				continue // expired between SCAN and MGET
			}
			doc, decErr := decode([]byte(str))
			if decErr != nil {
				observability.FromContext(ctx).Warn("skipping unreadable cache entry", observability.Error(decErr))
				continue
			}
			if !fn(doc.Key, doc.entry()) {
				return false, nil
			}
		}
		return true, nil
	})
}

func (s *Store) scan(ctx context.Context, fn func(keys []string) (bool, error)) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("failed to scan cache keys: %w", err)
		}

		if len(keys) > 0 {
			more, fnErr := fn(keys)
			if fnErr != nil || !more {
				return fnErr
			}
		}

		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func decode(raw []byte) (*document, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &doc, nil
}

func (d *document) entry() *cache.Entry {
	return &cache.Entry{
		Value:     d.Value,
		CreatedAt: d.CreatedAt,
		ExpiresAt: d.ExpiresAt,
	}
}
