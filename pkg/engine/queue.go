package engine

import (
	"context"
	"sync"
	"time"
)

// transitionBound caps how long a transition may keep running once started.
// Transitions execute on a context detached from the submitter's, so an
// abandoned wait cannot cancel host work mid-switch; the bound keeps a
// detached transition from outliving the session.
const transitionBound = time.Minute

// transitionQueue serializes group transitions with latest-wins semantics: at
// most one transition runs and at most one waits. Submitting while one is
// already waiting replaces it — rapid activate calls collapse to the running
// transition plus the newest request, never a backlog.
type transitionQueue struct {
	mu      sync.Mutex
	running bool
	pending *transition
}

type transition struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Do submits fn and waits for its result. When fn is replaced by a newer
// submission before running, Do returns ErrSuperseded. A ctx expiry only
// abandons the wait; the transition itself still runs to completion so the
// host tree is never left half-switched.
func (q *transitionQueue) Do(ctx context.Context, fn func(context.Context) error) error {
	t := &transition{ctx: ctx, fn: fn, done: make(chan error, 1)}

	q.mu.Lock()
	if q.running {
		if q.pending != nil {
			q.pending.done <- ErrSuperseded
		}
		q.pending = t
		q.mu.Unlock()
	} else {
		q.running = true
		q.mu.Unlock()
		go q.loop(t)
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *transitionQueue) loop(t *transition) {
	for {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), transitionBound)
		t.done <- t.fn(ctx)
		cancel()

		q.mu.Lock()
		next := q.pending
		q.pending = nil
		if next == nil {
			q.running = false
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()
		t = next
	}
}
