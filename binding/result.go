package binding

import (
	"context"
	"sync"
)

// Result is the pending outcome of a bind call. It settles exactly once:
// with the engine's first stable snapshot, or with the error that made the
// subscription impossible. Settlement timing is owned by the engine; the
// binder only wires the callbacks.
type Result struct {
	done     chan struct{}
	once     sync.Once
	snapshot any
	err      error
}

func newResult() *Result {
	return &Result{done: make(chan struct{})}
}

// resolve settles the result with a snapshot, reporting whether this call
// was the one that settled it.
func (r *Result) resolve(snapshot any) bool {
	settled := false
	r.once.Do(func() {
		r.snapshot = snapshot
		settled = true
		close(r.done)
	})
	return settled
}

// reject settles the result with an error, reporting whether this call was
// the one that settled it.
func (r *Result) reject(err error) bool {
	settled := false
	r.once.Do(func() {
		r.err = err
		settled = true
		close(r.done)
	})
	return settled
}

// Done returns a channel closed when the result settles.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Settled reports whether the result has settled.
func (r *Result) Settled() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Await blocks until the result settles or ctx is done, returning the
// initial snapshot or the settlement error.
func (r *Result) Await(ctx context.Context) (any, error) {
	select {
	case <-r.done:
		return r.snapshot, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
