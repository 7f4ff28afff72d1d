package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/davidbz/lessonlab/internal/observability"
)

// errFlightAbandoned cancels a shared fill once every caller waiting on it has left.
var errFlightAbandoned = fmt.Errorf("shared fill abandoned by every caller: %w", context.Canceled)

// Lookup returns the cached value for (op, params) as T. Values read back from a
// serialising store arrive as raw JSON and are decoded into T. The result is a
// copy: mutating it never changes the cached entry.
func Lookup[T any](ctx context.Context, c *Cache, op string, params any) (T, bool) {
	var zero T

	value, ok := c.Get(ctx, op, params)
	if !ok {
		return zero, false
	}

	switch v := value.(type) {
	case T:
		return detach(v), true
	case json.RawMessage:
		var decoded T
		if err := json.Unmarshal(v, &decoded); err != nil {
			observability.FromContext(ctx).Warn("cached value has unexpected shape",
				observability.String("operation", op),
				observability.Error(err))
			return zero, false
		}
		return decoded, true
	default:
		return zero, false
	}
}

// detach deep-copies v through its JSON form. Values that do not survive the
// round trip are returned as they are.
func detach[T any](v T) T {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

type callResult[T any] struct {
	value T
	hit   bool
}

// flight is the context of one shared fill, kept alive while any caller waits on it.
type flight struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	waiters int
}

// join registers the caller on the shared fill for key and returns the fill's
// context with the func that unregisters the caller. The fill context carries
// the values of the first caller but none of its cancellation; it is cancelled
// when the last caller leaves.
func (c *Cache) join(ctx context.Context, key string) (context.Context, func()) {
	c.flightsMu.Lock()
	defer c.flightsMu.Unlock()

	f, ok := c.flights[key]
	if !ok {
		fillCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
		f = &flight{ctx: fillCtx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++

	var once sync.Once
	leave := func() {
		once.Do(func() {
			c.flightsMu.Lock()
			defer c.flightsMu.Unlock()

			f.waiters--
			if f.waiters > 0 {
				return
			}
			if c.flights[key] == f {
				delete(c.flights, key)
			}
			f.cancel(errFlightAbandoned)
		})
	}

	return f.ctx, leave
}

// CachedCall returns the cached value or runs producer and caches its result.
// The bool reports a cache hit. Concurrent calls for the same key share one
// producer run. A caller whose context ends while waiting gets its context
// cause and leaves the others waiting; the producer is cancelled only when no
// caller is left.
func CachedCall[T any](
	ctx context.Context,
	c *Cache,
	op string,
	params any,
	producer func(ctx context.Context) (T, error),
	ttl time.Duration,
) (T, bool, error) {
	var zero T

	if value, ok := Lookup[T](ctx, c, op, params); ok {
		return value, true, nil
	}

	key, err := Key(op, params)
	if err != nil {
		value, prodErr := producer(ctx)
		return value, false, prodErr
	}

	fillCtx, leave := c.join(ctx, key)
	defer leave()

	fill := func() (any, error) {
		if value, ok := Lookup[T](fillCtx, c, op, params); ok {
			return callResult[T]{value: value, hit: true}, nil
		}

		value, prodErr := producer(fillCtx)
		if prodErr != nil {
			return nil, prodErr
		}

		c.save(fillCtx, key, op, value, ttl)
		return callResult[T]{value: value}, nil
	}

	for {
		ch := c.inflight.DoChan(key, fill)

		select {
		case <-ctx.Done():
			return zero, false, context.Cause(ctx)
		case res := <-ch:
			if res.Err != nil {
				// A fill started under a flight whose callers all left; this
				// caller is still waiting, so start a fresh one.
				if errors.Is(res.Err, errFlightAbandoned) && ctx.Err() == nil {
					continue
				}
				return zero, false, res.Err
			}
			out, _ := res.Val.(callResult[T])
			return detach(out.value), out.hit, nil
		}
	}
}
