package binding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/livebind/errors"
)

// Binder is the per-instance binding service. It owns the binding registry
// for one host instance, routes bind calls to the value or list
// synchronizer engine, and drives teardown at destruction.
//
// Lifecycle: New moves the binder from uninitialized to active (the
// registry exists, declared bindings are established); Close moves it to
// closed (every binding torn down, the registry discarded). A closed
// binder rejects all further operations with ErrBinderClosed.
//
// All registry mutation happens under the binder's mutex, in the caller's
// goroutine. Engines settle results and mutate properties from their own
// goroutines but never touch the registry. The lock is not held while an
// engine establishes its subscription, so binds of distinct keys and the
// read projections never wait on a slow watch; concurrent binds of the
// same key must be ordered by the caller.
type Binder struct {
	id       string
	props    Properties
	ops      MutationOps
	value    Synchronizer
	list     Synchronizer
	defaults Options
	logger   *slog.Logger
	metrics  Metrics
	observer Observer

	decls     []Declaration
	declareFn func() []Declaration

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	reg    *registry
	closed bool
}

// BinderOption configures a Binder at construction
type BinderOption func(*Binder)

// WithDefaults sets the binder-wide option defaults merged into every bind
// call.
func WithDefaults(defaults Options) BinderOption {
	return func(b *Binder) {
		b.defaults = defaults
	}
}

// WithMutationOps replaces the default MapOps adapter.
func WithMutationOps(ops MutationOps) BinderOption {
	return func(b *Binder) {
		if ops != nil {
			b.ops = ops
		}
	}
}

// WithLogger sets the logger used for binding lifecycle logs.
func WithLogger(logger *slog.Logger) BinderOption {
	return func(b *Binder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics attaches a metrics sink for binding measurements.
func WithMetrics(m Metrics) BinderOption {
	return func(b *Binder) {
		b.metrics = m
	}
}

// WithObserver attaches an observer for binding lifecycle events.
func WithObserver(fn Observer) BinderOption {
	return func(b *Binder) {
		b.observer = fn
	}
}

// WithContext parents the binder's lifetime context. Engines receive a
// child of this context and are canceled when it ends or the binder
// closes.
func WithContext(ctx context.Context) BinderOption {
	return func(b *Binder) {
		if ctx != nil {
			b.parent = ctx
		}
	}
}

// WithDeclarations declares bindings established at creation time.
func WithDeclarations(decls ...Declaration) BinderOption {
	return func(b *Binder) {
		b.decls = append(b.decls, decls...)
	}
}

// WithDeclarationFunc declares bindings through a producer evaluated at
// creation time.
func WithDeclarationFunc(fn func() []Declaration) BinderOption {
	return func(b *Binder) {
		b.declareFn = fn
	}
}

// New creates an active binder for one host instance. The value and list
// synchronizers serve ModeValue and ModeList bindings respectively; either
// may be nil if the corresponding mode is never used. Declared bindings
// are established before New returns; their results settle asynchronously
// and declaration-time precondition failures are logged, not returned.
func New(props Properties, value, list Synchronizer, opts ...BinderOption) (*Binder, error) {
	if props == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Binder", "New", "property store validation")
	}
	if value == nil && list == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Binder", "New", "synchronizer validation")
	}

	b := &Binder{
		id:       uuid.NewString(),
		props:    props,
		ops:      MapOps{},
		value:    value,
		list:     list,
		defaults: DefaultOptions(),
		logger:   slog.Default(),
		parent:   context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.ctx, b.cancel = context.WithCancel(b.parent)
	b.reg = newRegistry()

	decls := b.decls
	if b.declareFn != nil {
		decls = append(decls, b.declareFn()...)
	}
	for _, d := range decls {
		if _, err := b.bind(d.Key, d.Source, d.Mode, d.Options...); err != nil {
			b.logger.Warn("declared binding failed",
				"binder", b.id, "key", d.Key, "error", err)
		}
	}

	return b, nil
}

// ID returns the binder's unique identifier, used in events and logs.
func (b *Binder) ID() string {
	return b.id
}

// Bind establishes a binding for key with the mode selected from the
// property's current local shape (see ModeAuto). Callers are responsible
// for initializing the property to the intended shape before binding;
// prefer BindValue or BindList.
func (b *Binder) Bind(key string, src Source, opts ...BindOption) (*Result, error) {
	return b.bind(key, src, ModeAuto, opts...)
}

// BindValue establishes a single-value binding for key.
func (b *Binder) BindValue(key string, src Source, opts ...BindOption) (*Result, error) {
	return b.bind(key, src, ModeValue, opts...)
}

// BindList establishes an ordered-collection binding for key.
func (b *Binder) BindList(key string, src Source, opts ...BindOption) (*Result, error) {
	return b.bind(key, src, ModeList, opts...)
}

// bind is the single bind entry point. It resolves the effective options,
// tears down any prior binding for key (reset computed by teardownReset,
// strictly before the new engine runs), invokes the engine, and records
// the new entry. The returned Result settles when the engine delivers its
// first stable snapshot or fails; an error return means a precondition
// violation and no binding was established.
func (b *Binder) bind(key string, src Source, mode Mode, opts ...BindOption) (*Result, error) {
	if src == nil {
		return nil, errors.WrapInvalid(errors.ErrNilSource, "Binder", "Bind", "source validation")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrBinderClosed, "Binder", "Bind", "lifecycle check")
	}

	effective := resolveOptions(b.defaults, opts...)

	if mode == ModeAuto {
		cur, _ := b.props.Get(key)
		if isSequence(cur) {
			mode = ModeList
		} else {
			mode = ModeValue
		}
	}

	engine, err := b.engineFor(mode)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}

	rebind := false
	if _, prev, ok := b.reg.lookup(key); ok {
		rebind = true
		reset := teardownReset(effective)
		b.reg.drop(key)
		if err := prev.Release(reset); err != nil {
			b.mu.Unlock()
			return nil, errors.Wrap(err, "Binder", "Bind", "prior binding teardown")
		}
	}

	result := newResult()
	modeStr := mode.String()
	ref := src.Ref()
	start := time.Now()

	req := Request{
		Key:     key,
		Source:  src,
		Props:   b.props,
		Ops:     b.ops,
		Options: effective,
		Resolve: func(snapshot any) {
			if !result.resolve(snapshot) {
				return
			}
			if b.metrics != nil {
				b.metrics.BindSettled(modeStr, time.Since(start), nil)
			}
			b.emit(Event{Type: EventResolved, Key: key, Ref: ref, Mode: modeStr})
		},
		Reject: func(err error) {
			if !result.reject(err) {
				return
			}
			if b.metrics != nil {
				b.metrics.BindSettled(modeStr, time.Since(start), err)
			}
			b.logger.Warn("binding rejected", "binder", b.id, "key", key, "ref", ref, "error", err)
			b.emit(Event{Type: EventRejected, Key: key, Ref: ref, Mode: modeStr, Error: err.Error()})
		},
	}

	// Engines may retry watch establishment with backoff; holding the lock
	// across Sync would stall Unbind, Close, and the read projections for
	// every other key.
	b.mu.Unlock()

	handle, err := engine.Sync(b.ctx, req)
	if err != nil {
		// No subscription exists; the failure surfaces through the result.
		req.Reject(errors.Wrap(err, "Binder", "Bind", "synchronizer start"))
		return result, nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		// Close ran while the engine was starting; the binding never
		// reached the registry, so it is torn down here.
		_ = handle.Release(nil)
		req.Reject(errors.WrapInvalid(errors.ErrBinderClosed, "Binder", "Bind", "lifecycle check"))
		return result, nil
	}
	b.reg.put(key, src, handle)
	active := b.reg.size()
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.BindStarted(modeStr, rebind)
		b.metrics.SetActive(active)
	}
	b.logger.Debug("binding established",
		"binder", b.id, "key", key, "ref", ref, "mode", modeStr, "rebind", rebind)
	b.emit(Event{Type: EventBound, Key: key, Ref: ref, Mode: modeStr, Rebind: rebind})

	return result, nil
}

func (b *Binder) engineFor(mode Mode) (Synchronizer, error) {
	var engine Synchronizer
	switch mode {
	case ModeValue:
		engine = b.value
	case ModeList:
		engine = b.list
	default:
		return nil, errors.WrapInvalid(errors.ErrUnknownMode, "Binder", "Bind", "mode selection")
	}
	if engine == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no synchronizer for mode %s: %w", mode, errors.ErrUnknownMode),
			"Binder", "Bind", "mode selection")
	}
	return engine, nil
}

// Unbind tears down the binding for key, passing reset to the engine's
// release path, and purges key from the registry. Unbinding a key that is
// not bound is a caller error and returns ErrNotBound.
func (b *Binder) Unbind(key string, reset any) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.WrapInvalid(errors.ErrBinderClosed, "Binder", "Unbind", "lifecycle check")
	}

	src, handle, ok := b.reg.lookup(key)
	if !ok {
		b.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("key %q: %w", key, errors.ErrNotBound),
			"Binder", "Unbind", "registry lookup")
	}
	ref := src.Ref()
	b.reg.drop(key)
	active := b.reg.size()
	b.mu.Unlock()

	releaseErr := handle.Release(reset)

	if b.metrics != nil {
		b.metrics.Unbound()
		b.metrics.SetActive(active)
	}
	b.logger.Debug("binding released", "binder", b.id, "key", key, "ref", ref)
	b.emit(Event{Type: EventUnbound, Key: key, Ref: ref})

	if releaseErr != nil {
		return errors.Wrap(releaseErr, "Binder", "Unbind", "handle release")
	}
	return nil
}

// Refs returns a read-only projection of the canonical references for all
// currently bound keys.
func (b *Binder) Refs() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return map[string]string{}
	}
	return b.reg.refsCopy()
}

// Keys returns the currently bound keys, in no particular order.
func (b *Binder) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	return b.reg.keys()
}

// Bound reports whether key is currently bound.
func (b *Binder) Bound(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	_, _, ok := b.reg.lookup(key)
	return ok
}

// Close destroys the binder: every binding present at the start of the
// call is torn down (without resetting local state), the registry is
// discarded, and the lifetime context is canceled. Teardown of each key is
// independent; failures are joined and returned after all keys have been
// processed. Close is single-pass and synchronous, and may be called
// exactly once.
func (b *Binder) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.WrapInvalid(errors.ErrBinderClosed, "Binder", "Close", "lifecycle check")
	}
	b.closed = true

	var errs []error
	released := 0
	for _, key := range b.reg.keys() {
		_, handle, ok := b.reg.lookup(key)
		if !ok {
			continue
		}
		b.reg.drop(key)
		released++
		if err := handle.Release(nil); err != nil {
			errs = append(errs, errors.Wrap(err, "Binder", "Close", "binding teardown"))
		}
	}
	b.reg = nil
	b.mu.Unlock()

	b.cancel()

	if b.metrics != nil {
		for i := 0; i < released; i++ {
			b.metrics.Unbound()
		}
		b.metrics.SetActive(0)
	}
	b.logger.Debug("binder closed", "binder", b.id, "released", released)
	b.emit(Event{Type: EventClosed})

	return errors.Join(errs...)
}

func (b *Binder) emit(ev Event) {
	if b.observer == nil {
		return
	}
	ev.Binder = b.id
	ev.Timestamp = time.Now().UTC()
	b.observer(ev)
}
