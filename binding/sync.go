package binding

import "context"

// Request carries everything a synchronizer engine needs to establish one
// binding: where to subscribe, where to mutate, and how to settle the
// bind result.
type Request struct {
	// Key is the local property name being bound
	Key string
	// Source is the remote value or query to subscribe to
	Source Source
	// Props is the host's local property store
	Props Properties
	// Ops is the only mutation surface the engine may use against Props
	Ops MutationOps
	// Options is the effective configuration resolved for this bind
	Options Options
	// Resolve settles the bind result with the first stable snapshot
	Resolve func(snapshot any)
	// Reject settles the bind result with an unrecoverable error
	Reject func(err error)
}

// Synchronizer is the contract of an external synchronization engine.
//
// Sync subscribes to req.Source and mirrors it into req.Props[req.Key]
// through req.Ops, returning a release token for the subscription. It must
// guarantee at most one outstanding subscription per returned handle, and
// must stop all further local mutation once the handle is released.
// Exactly one of req.Resolve/req.Reject is eventually called, at an
// unspecified later point; an error returned from Sync itself means no
// subscription was established and no handle exists.
//
// The context bounds the subscription's lifetime: it is the binder's
// lifetime context, canceled when the binder closes.
type Synchronizer interface {
	Sync(ctx context.Context, req Request) (*Handle, error)
}
