package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/davidbz/lessonlab/internal/apierror"
)

// keySeparator joins a caller scope and an operation name.
const keySeparator = ":"

type token struct {
	id     uint64
	cancel context.CancelCauseFunc
}

// tokenSet tracks one cancellation token per operation key.
type tokenSet struct {
	mu     sync.Mutex
	byKey  map[string]*token
	last   string
	nextID uint64
}

func newTokenSet() *tokenSet {
	return &tokenSet{byKey: make(map[string]*token)}
}

// acquire registers a fresh token under key, aborting the previous holder of
// the key. The returned release func is idempotent.
func (s *tokenSet) acquire(parent context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)

	s.mu.Lock()
	if prev, ok := s.byKey[key]; ok {
		prev.cancel(apierror.ErrAborted)
	}
	s.nextID++
	t := &token{id: s.nextID, cancel: cancel}
	s.byKey[key] = t
	s.last = key
	s.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			if cur, ok := s.byKey[key]; ok && cur.id == t.id {
				delete(s.byKey, key)
			}
			s.mu.Unlock()
			cancel(context.Canceled)
		})
	}

	return ctx, release
}

// abort cancels the token held under key. It reports whether one was in flight.
func (s *tokenSet) abort(key string) bool {
	s.mu.Lock()
	t, ok := s.byKey[key]
	if ok {
		delete(s.byKey, key)
	}
	s.mu.Unlock()

	if ok {
		t.cancel(apierror.ErrAborted)
	}
	return ok
}

func (s *tokenSet) abortLast() (string, bool) {
	s.mu.Lock()
	key := s.last
	s.mu.Unlock()

	if key == "" {
		return "", false
	}
	return key, s.abort(key)
}

// abortMatching cancels every token whose key satisfies match and returns the keys.
func (s *tokenSet) abortMatching(match func(key string) bool) []string {
	s.mu.Lock()
	var victims []*token
	var keys []string
	for key, t := range s.byKey {
		if match(key) {
			victims = append(victims, t)
			keys = append(keys, key)
			delete(s.byKey, key)
		}
	}
	s.mu.Unlock()

	for _, t := range victims {
		t.cancel(apierror.ErrAborted)
	}
	return keys
}

func (s *tokenSet) inFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

func inScope(scope string) func(string) bool {
	prefix := scope + keySeparator
	return func(key string) bool {
		return strings.HasPrefix(key, prefix)
	}
}
