// Package session persists research sessions in Redis. Large payloads are
// gzip-compressed and every write is checked against a byte quota atomically.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/davidbz/lessonlab/internal/apierror"
	"github.com/davidbz/lessonlab/internal/domain"
	"github.com/davidbz/lessonlab/internal/observability"
)

const (
	// nearQuotaPercent triggers a cleanup recommendation.
	nearQuotaPercent = 80

	// oldSessionThreshold is how many stale sessions trigger a recommendation.
	oldSessionThreshold = 5

	titleTopicRunes = 30
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session not found")

// saveScript writes a session only if the total stored bytes stay within the
// quota. It returns the new total, or -1 when the quota would be exceeded.
//
// KEYS: payload, index (zset by updatedAt), sizes (hash), summaries (hash).
// ARGV: id, payload, score, quota, summary.
var saveScript = redis.NewScript(`
local old = tonumber(redis.call('HGET', KEYS[3], ARGV[1]) or '0')
local total = 0
for _, size in ipairs(redis.call('HVALS', KEYS[3])) do
  total = total + tonumber(size)
end
local size = string.len(ARGV[2])
local quota = tonumber(ARGV[4])
local used = total - old + size
if quota > 0 and used > quota then
  return -1
end
redis.call('SET', KEYS[1], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], tostring(size))
redis.call('HSET', KEYS[4], ARGV[1], ARGV[5])
return used
`)

// Config bounds session storage.
type Config struct {
	QuotaBytes        int64         `env:"SESSION_QUOTA_BYTES"        envDefault:"5242880"`
	CompressThreshold int           `env:"SESSION_COMPRESS_THRESHOLD" envDefault:"1024"`
	Retention         time.Duration `env:"SESSION_RETENTION"          envDefault:"720h"`
}

// Store implements domain.SessionStore on Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
	cfg    Config
	now    func() time.Time
	events domain.EventPublisher
}

// Option configures the store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithEventPublisher publishes save and delete events.
func WithEventPublisher(events domain.EventPublisher) Option {
	return func(s *Store) {
		s.events = events
	}
}

// NewStore creates a session store. Keys share one hash tag so the quota
// script also runs on Redis Cluster.
func NewStore(client redis.UniversalClient, prefix string, cfg *Config, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: "{" + prefix + "}:",
		cfg:    *cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) payloadKey(id string) string { return s.prefix + "session:" + id }
func (s *Store) indexKey() string           { return s.prefix + "sessions:index" }
func (s *Store) sizesKey() string           { return s.prefix + "sessions:sizes" }
func (s *Store) summariesKey() string       { return s.prefix + "sessions:summaries" }

// Save writes session, filling its id, title and timestamps when unset. A write
// that would exceed the quota fails with an error wrapping
// apierror.ErrStorageQuota and leaves the stored data untouched.
func (s *Store) Save(ctx context.Context, session *domain.ResearchSession) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}

	now := s.now()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.Title == "" {
		session.Title = defaultTitle(session.Data.Topic, now)
	}
	if session.Step == 0 {
		session.Step = domain.StepTopic
	}
	session.UpdatedAt = now

	payload, err := encode(session, s.cfg.CompressThreshold)
	if err != nil {
		return err
	}

	summary, err := marshalSummary(summarize(session, len(payload)))
	if err != nil {
		return err
	}

	used, err := saveScript.Run(ctx, s.client,
		[]string{s.payloadKey(session.ID), s.indexKey(), s.sizesKey(), s.summariesKey()},
		session.ID, payload, now.UnixMilli(), s.cfg.QuotaBytes, summary,
	).Int64()
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	if used < 0 {
		observability.FromContext(ctx).Warn("session storage quota exceeded",
			observability.String("session_id", session.ID),
			observability.Int("size", len(payload)),
			observability.Int64("quota", s.cfg.QuotaBytes))
		return fmt.Errorf("session %s (%d bytes): %w", session.ID, len(payload), apierror.ErrStorageQuota)
	}

	observability.FromContext(ctx).Debug("session saved",
		observability.String("session_id", session.ID),
		observability.Int("size", len(payload)),
		observability.Bool("compressed", isCompressed(payload)),
		observability.Int64("used", used))

	s.publish(ctx, observability.EventSessionSaved, map[string]interface{}{
		"id":   session.ID,
		"size": len(payload),
	})
	return nil
}

// Get reads one session.
func (s *Store) Get(ctx context.Context, id string) (*domain.ResearchSession, error) {
	payload, err := s.client.Get(ctx, s.payloadKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	return decode(payload)
}

// List returns the summaries of every session, most recently updated first.
func (s *Store) List(ctx context.Context) ([]domain.SessionSummary, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		return []domain.SessionSummary{}, nil
	}

	values, err := s.client.HMGet(ctx, s.summariesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session summaries: %w", err)
	}

	summaries := make([]domain.SessionSummary, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		summary, err := unmarshalSummary(raw)
		if err != nil {
			observability.FromContext(ctx).Warn("skipping unreadable session summary",
				observability.String("session_id", ids[i]),
				observability.Error(err))
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Delete removes sessions. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	_, err := s.delete(ctx, ids)
	return err
}

// DeleteMany removes sessions and reports how many bytes were freed.
func (s *Store) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	return s.delete(ctx, ids)
}

func (s *Store) delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	sizes, err := s.client.HMGet(ctx, s.sizesKey(), ids...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read session sizes: %w", err)
	}

	var freed int64
	for _, v := range sizes {
		if raw, ok := v.(string); ok {
			n, _ := strconv.ParseInt(raw, 10, 64)
			freed += n
		}
	}

	members := make([]interface{}, len(ids))
	payloadKeys := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id
		payloadKeys[i] = s.payloadKey(id)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, payloadKeys...)
		pipe.ZRem(ctx, s.indexKey(), members...)
		pipe.HDel(ctx, s.sizesKey(), ids...)
		pipe.HDel(ctx, s.summariesKey(), ids...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}

	s.publish(ctx, observability.EventSessionDeleted, map[string]interface{}{
		"count": len(ids),
		"freed": freed,
	})
	return freed, nil
}

// Usage describes how much of the quota is in use.
type Usage struct {
	Used       int64   `json:"used"`
	Quota      int64   `json:"quota"`
	Percentage float64 `json:"percentage"`
	Sessions   int     `json:"sessions"`
}

// Usage sums the stored payload sizes.
func (s *Store) Usage(ctx context.Context) (Usage, error) {
	sizes, err := s.client.HVals(ctx, s.sizesKey()).Result()
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read session sizes: %w", err)
	}

	usage := Usage{Quota: s.cfg.QuotaBytes, Sessions: len(sizes)}
	for _, raw := range sizes {
		n, _ := strconv.ParseInt(raw, 10, 64)
		usage.Used += n
	}
	if usage.Quota > 0 {
		usage.Percentage = math.Round(float64(usage.Used)/float64(usage.Quota)*10000) / 100
	}
	return usage, nil
}

// CleanupResult reports what Cleanup removed.
type CleanupResult struct {
	DeletedCount int   `json:"deletedCount"`
	FreedBytes   int64 `json:"freedBytes"`
}

// Cleanup deletes sessions not updated within olderThan. A non-positive
// olderThan uses the configured retention.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupResult, error) {
	ids, err := s.staleIDs(ctx, olderThan)
	if err != nil {
		return CleanupResult{}, err
	}

	freed, err := s.delete(ctx, ids)
	if err != nil {
		return CleanupResult{}, err
	}

	observability.FromContext(ctx).Info("session cleanup complete",
		observability.Int("deleted", len(ids)),
		observability.Int64("freed_bytes", freed))

	return CleanupResult{DeletedCount: len(ids), FreedBytes: freed}, nil
}

// CleanupAdvice tells the UI whether to suggest a cleanup.
type CleanupAdvice struct {
	Recommend       bool   `json:"recommend"`
	Reason          string `json:"reason"`
	OldSessionCount int    `json:"oldSessionCount"`
}

// RecommendCleanup advises a cleanup when usage reaches 80% of the quota or
// at least five sessions are older than the retention.
func (s *Store) RecommendCleanup(ctx context.Context) (CleanupAdvice, error) {
	usage, err := s.Usage(ctx)
	if err != nil {
		return CleanupAdvice{}, err
	}

	stale, err := s.staleIDs(ctx, 0)
	if err != nil {
		return CleanupAdvice{}, err
	}

	days := int(s.cfg.Retention.Hours() / 24)

	switch {
	case usage.Quota > 0 && usage.Percentage >= nearQuotaPercent:
		return CleanupAdvice{
			Recommend:       true,
			Reason:          fmt.Sprintf("存储空间使用率已达 %d%%", int(math.Round(usage.Percentage))),
			OldSessionCount: len(stale),
		}, nil
	case len(stale) >= oldSessionThreshold:
		return CleanupAdvice{
			Recommend:       true,
			Reason:          fmt.Sprintf("发现 %d 个超过 %d 天的旧会话", len(stale), days),
			OldSessionCount: len(stale),
		}, nil
	default:
		return CleanupAdvice{}, nil
	}
}

func (s *Store) staleIDs(ctx context.Context, olderThan time.Duration) ([]string, error) {
	if olderThan <= 0 {
		olderThan = s.cfg.Retention
	}
	cutoff := s.now().Add(-olderThan).UnixMilli()

	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to find old sessions: %w", err)
	}
	return ids, nil
}

func (s *Store) publish(ctx context.Context, event string, data map[string]interface{}) {
	if s.events != nil {
		s.events.Publish(ctx, event, data)
	}
}

func defaultTitle(topic string, now time.Time) string {
	if topic == "" {
		return "研究会话 " + now.Format("2006/1/2 15:04")
	}
	if utf8.RuneCountInString(topic) > titleTopicRunes {
		return "研究: " + string([]rune(topic)[:titleTopicRunes]) + "..."
	}
	return "研究: " + topic
}
