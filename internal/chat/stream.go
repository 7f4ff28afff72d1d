package chat

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/davidbz/lessonlab/internal/domain"
)

// Stream is a finite, non-restartable sequence of reply deltas.
//
//	for s.Next() {
//		fmt.Print(s.Current())
//	}
//	if err := s.Err(); err != nil { ... }
//
// Next must be called from one goroutine; Close may be called from any.
type Stream struct {
	ctx     context.Context
	chunks  <-chan domain.StreamChunk
	release func()

	current string
	text    strings.Builder
	err     error
	done    bool

	closed    atomic.Bool
	closeOnce sync.Once
}

func newStream(ctx context.Context, chunks <-chan domain.StreamChunk, release func()) *Stream {
	return &Stream{
		ctx:     ctx,
		chunks:  chunks,
		release: release,
	}
}

// Next advances to the next delta. It returns false once the reply is
// complete, the call failed, or the stream was closed.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}

	for {
		if s.closed.Load() || s.ctx.Err() != nil {
			s.stop(s.cancelled())
			return false
		}

		select {
		case <-s.ctx.Done():
			s.stop(s.cancelled())
			return false
		case chunk, ok := <-s.chunks:
			switch {
			case !ok:
				// Backends close without a Done chunk when their context ends.
				if s.ctx.Err() != nil {
					s.stop(s.cancelled())
				} else {
					s.stop(nil)
				}
				return false
			case chunk.Error != nil:
				s.stop(failure(s.ctx, chunk.Error))
				return false
			case chunk.Done:
				s.stop(nil)
				return false
			case chunk.Delta == "":
				continue
			default:
				s.current = chunk.Delta
				s.text.WriteString(chunk.Delta)
				return true
			}
		}
	}
}

// Current returns the delta produced by the last successful Next.
func (s *Stream) Current() string {
	return s.current
}

// Text returns every delta received so far, concatenated.
func (s *Stream) Text() string {
	return s.text.String()
}

// Err returns the error that ended the stream. A stream closed by its consumer
// ends without error.
func (s *Stream) Err() error {
	return s.err
}

// Close ends the stream and releases its cancellation token.
func (s *Stream) Close() {
	s.closed.Store(true)
	s.closeOnce.Do(s.release)
}

func (s *Stream) cancelled() error {
	if s.closed.Load() {
		return nil
	}
	return failure(s.ctx, s.ctx.Err())
}

func (s *Stream) stop(err error) {
	s.done = true
	s.current = ""
	s.err = err
	s.closeOnce.Do(s.release)
}
