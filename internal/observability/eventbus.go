package observability

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Event types published by the research pipeline.
const (
	EventRetryScheduled = "retry.scheduled"
	EventCacheHit       = "cache.hit"
	EventCacheMiss      = "cache.miss"
	EventCacheFill      = "cache.fill"
	EventRequestAborted = "request.aborted"
	EventSessionSaved   = "session.saved"
	EventSessionDeleted = "session.deleted"
)

// EventBus implements the EventPublisher interface on top of the context logger.
type EventBus struct {
	level zap.AtomicLevel
}

// NewEventBus creates a new event bus that logs events at debug level.
func NewEventBus() *EventBus {
	return &EventBus{
		level: zap.NewAtomicLevelAt(zap.DebugLevel),
	}
}

// Publish publishes an event with the given type and data.
func (e *EventBus) Publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if e == nil {
		return
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys)+1)
	fields = append(fields, zap.String("event", eventType))
	for _, k := range keys {
		fields = append(fields, zap.Any(k, data[k]))
	}

	if ce := FromContext(ctx).Check(e.level.Level(), eventType); ce != nil {
		ce.Write(fields...)
	}
}
