package signaling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/peerline-net/peerline/internal/protocol"
)

// DefaultRequestTimeout bounds how long a pending request waits for its
// reply before failing.
const DefaultRequestTimeout = 3 * time.Second

var ErrRequestTimeout = errors.New("signaling: request timed out")

// Tracker pairs fire-and-forget relay requests with the reply messages they
// expect. Callers register a matcher, send their request, and block until a
// matching message is dispatched or the timeout passes. Matchers are
// deregistered on every exit path, so an unanswered request cannot leak.
type Tracker struct {
	timeout time.Duration

	mu      sync.Mutex
	waiters []*waiter
}

type waiter struct {
	accept func(protocol.Message) (any, bool)
	result chan any
}

// NewTracker creates a tracker with the given reply timeout; zero means
// DefaultRequestTimeout.
func NewTracker(timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Tracker{timeout: timeout}
}

// Dispatch offers an inbound message to pending requests in registration
// order. It reports whether a request claimed the message.
func (t *Tracker) Dispatch(m protocol.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, w := range t.waiters {
		if v, ok := w.accept(m); ok {
			t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
			// Buffered, and each waiter is matched at most once.
			w.result <- v
			return true
		}
	}
	return false
}

func (t *Tracker) add(w *waiter) {
	t.mu.Lock()
	t.waiters = append(t.waiters, w)
	t.mu.Unlock()
}

func (t *Tracker) remove(w *waiter) {
	t.mu.Lock()
	for i, cand := range t.waiters {
		if cand == w {
			t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
}

// Pending returns the number of registered matchers.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}

// Request registers accept, runs send, and waits for a dispatched message
// that accept claims. The reply value is whatever accept extracted. The
// matcher is removed when the call returns, whether it resolved, timed out,
// or was canceled.
func Request[T any](ctx context.Context, t *Tracker, send func(), accept func(protocol.Message) (T, bool)) (T, error) {
	w := &waiter{
		accept: func(m protocol.Message) (any, bool) {
			v, ok := accept(m)
			if !ok {
				return nil, false
			}
			return v, true
		},
		result: make(chan any, 1),
	}

	t.add(w)
	send()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	var zero T
	select {
	case v := <-w.result:
		return v.(T), nil
	case <-timer.C:
		t.remove(w)
		// A reply may have been dispatched between the timeout firing and
		// the matcher being removed.
		select {
		case v := <-w.result:
			return v.(T), nil
		default:
		}
		return zero, ErrRequestTimeout
	case <-ctx.Done():
		t.remove(w)
		select {
		case v := <-w.result:
			return v.(T), nil
		default:
		}
		return zero, ctx.Err()
	}
}
