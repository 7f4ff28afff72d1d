// Package cache is the response cache shared by the research operations. Entries
// are addressed by an operation name plus a fingerprint of the call parameters and
// expire lazily: an entry past its TTL is evicted the first time it is read.
package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/davidbz/lessonlab/internal/observability"
)

// Operation names and their default TTLs.
const (
	OpTopics      = "topics"
	OpLiterature  = "literature"
	OpAnalysis    = "analysis"
	OpImprovement = "improvement"

	TopicsTTL      = 10 * time.Minute
	LiteratureTTL  = 15 * time.Minute
	AnalysisTTL    = 5 * time.Minute
	ImprovementTTL = 3 * time.Minute
	DefaultTTL     = 5 * time.Minute
)

// ErrNotFound is returned by stores for absent keys.
var ErrNotFound = errors.New("cache entry not found")

// Entry is a cached value with its lifetime.
type Entry struct {
	Value     any       `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the entry is past its TTL at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Store persists entries. Implementations do not interpret expiry; the cache does.
type Store interface {
	Load(ctx context.Context, key string) (*Entry, error)
	Save(ctx context.Context, key string, entry *Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Range(ctx context.Context, fn func(key string, entry *Entry) bool) error
}

// Config holds the TTL settings.
type Config struct {
	Backend        string        `env:"CACHE_BACKEND"         envDefault:"memory"`
	DefaultTTL     time.Duration `env:"CACHE_DEFAULT_TTL"     envDefault:"5m"`
	TopicsTTL      time.Duration `env:"CACHE_TOPICS_TTL"      envDefault:"10m"`
	LiteratureTTL  time.Duration `env:"CACHE_LITERATURE_TTL"  envDefault:"15m"`
	AnalysisTTL    time.Duration `env:"CACHE_ANALYSIS_TTL"    envDefault:"5m"`
	ImprovementTTL time.Duration `env:"CACHE_IMPROVEMENT_TTL" envDefault:"3m"`
	SweepInterval  time.Duration `env:"CACHE_SWEEP_INTERVAL"  envDefault:"1m"`
}

// Options converts the config into cache options.
func (c *Config) Options() []Option {
	if c == nil {
		return nil
	}
	return []Option{
		WithDefaultTTL(c.DefaultTTL),
		WithOperationTTL(OpTopics, c.TopicsTTL),
		WithOperationTTL(OpLiterature, c.LiteratureTTL),
		WithOperationTTL(OpAnalysis, c.AnalysisTTL),
		WithOperationTTL(OpImprovement, c.ImprovementTTL),
	}
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithDefaultTTL sets the TTL for operations without their own.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithOperationTTL sets the default TTL of one operation.
func WithOperationTTL(op string, ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttls[op] = ttl
		}
	}
}

// Cache is the response cache.
type Cache struct {
	store      Store
	now        func() time.Time
	defaultTTL time.Duration
	ttls       map[string]time.Duration
	inflight   singleflight.Group
	flightsMu  sync.Mutex
	flights    map[string]*flight
	hits       atomic.Int64
	misses     atomic.Int64
}

// New creates a cache over store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:      store,
		now:        time.Now,
		defaultTTL: DefaultTTL,
		ttls: map[string]time.Duration{
			OpTopics:      TopicsTTL,
			OpLiterature:  LiteratureTTL,
			OpAnalysis:    AnalysisTTL,
			OpImprovement: ImprovementTTL,
		},
		flights: make(map[string]*flight),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// TTL returns the default TTL of op.
func (c *Cache) TTL(op string) time.Duration {
	if ttl, ok := c.ttls[op]; ok {
		return ttl
	}
	return c.defaultTTL
}

// Get returns the live value for (op, params).
func (c *Cache) Get(ctx context.Context, op string, params any) (any, bool) {
	key, err := Key(op, params)
	if err != nil {
		observability.FromContext(ctx).Warn("cache key derivation failed", observability.Error(err))
		return nil, false
	}

	entry, ok := c.load(ctx, key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return entry.Value, true
}

// Set stores value under (op, params). A non-positive ttl uses the operation default.
func (c *Cache) Set(ctx context.Context, op string, params any, value any, ttl time.Duration) {
	key, err := Key(op, params)
	if err != nil {
		observability.FromContext(ctx).Warn("cache key derivation failed", observability.Error(err))
		return
	}

	c.save(ctx, key, op, value, ttl)
}

// Has reports whether a live entry exists, evicting it if expired.
func (c *Cache) Has(ctx context.Context, op string, params any) bool {
	key, err := Key(op, params)
	if err != nil {
		return false
	}
	_, ok := c.load(ctx, key)
	return ok
}

// Invalidate removes one entry.
func (c *Cache) Invalidate(ctx context.Context, op string, params any) {
	key, err := Key(op, params)
	if err != nil {
		return
	}

	if err := c.store.Delete(ctx, key); err != nil {
		observability.FromContext(ctx).Warn("cache delete failed",
			observability.String("key", key),
			observability.Error(err))
	}
}

// InvalidateAll removes every entry.
func (c *Cache) InvalidateAll(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		observability.FromContext(ctx).Warn("cache clear failed", observability.Error(err))
	}
}

// SweepExpired evicts every expired entry and returns how many were removed.
func (c *Cache) SweepExpired(ctx context.Context) int {
	now := c.now()

	var expired []string
	err := c.store.Range(ctx, func(key string, entry *Entry) bool {
		if entry.Expired(now) {
			expired = append(expired, key)
		}
		return true
	})
	if err != nil {
		observability.FromContext(ctx).Warn("cache sweep failed", observability.Error(err))
	}

	removed := 0
	for _, key := range expired {
		if delErr := c.store.Delete(ctx, key); delErr == nil {
			removed++
		}
	}

	return removed
}

// EntryInfo describes one live entry.
type EntryInfo struct {
	Key string        `json:"key"`
	Age time.Duration `json:"age"`
	TTL time.Duration `json:"ttl"`
}

// Stats is a snapshot of cache usage.
type Stats struct {
	Size    int         `json:"size"`
	Hits    int64       `json:"hits"`
	Misses  int64       `json:"misses"`
	Entries []EntryInfo `json:"entries"`
}

// Stats reports size, hit counters and the remaining TTL of each live entry.
func (c *Cache) Stats(ctx context.Context) Stats {
	now := c.now()
	stats := Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: []EntryInfo{},
	}

	err := c.store.Range(ctx, func(key string, entry *Entry) bool {
		if entry.Expired(now) {
			return true
		}
		stats.Entries = append(stats.Entries, EntryInfo{
			Key: key,
			Age: now.Sub(entry.CreatedAt),
			TTL: entry.ExpiresAt.Sub(now),
		})
		return true
	})
	if err != nil {
		observability.FromContext(ctx).Warn("cache stats failed", observability.Error(err))
	}

	sort.Slice(stats.Entries, func(i, j int) bool {
		return stats.Entries[i].Key < stats.Entries[j].Key
	})
	stats.Size = len(stats.Entries)

	return stats
}

func (c *Cache) load(ctx context.Context, key string) (*Entry, bool) {
	entry, err := c.store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			observability.FromContext(ctx).Warn("cache load failed, treating as miss",
				observability.String("key", key),
				observability.Error(err))
		}
		return nil, false
	}

	if entry.Expired(c.now()) {
		if delErr := c.store.Delete(ctx, key); delErr != nil {
			observability.FromContext(ctx).Warn("cache evict failed",
				observability.String("key", key),
				observability.Error(delErr))
		}
		return nil, false
	}

	return entry, true
}

func (c *Cache) save(ctx context.Context, key, op string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.TTL(op)
	}

	now := c.now()
	entry := &Entry{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := c.store.Save(ctx, key, entry); err != nil {
		observability.FromContext(ctx).Warn("cache save failed",
			observability.String("key", key),
			observability.Error(err))
	}
}
