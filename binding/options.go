package binding

import "encoding/json"

// SerializeFunc converts a raw remote snapshot into its local
// representation before it is written into the bound property.
type SerializeFunc func(raw []byte) (any, error)

// ResetFunc produces the value applied to a local property when its
// binding is torn down. Unlike a literal reset value, a ResetFunc is
// honored even when the replacing bind requested Wait (the caller
// designed it for the transition).
type ResetFunc func() any

// JSONSerialize is the default SerializeFunc. Empty payloads decode to nil.
func JSONSerialize(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Options is the effective configuration of one bind call, resolved once
// from the binder defaults and the per-call overrides.
type Options struct {
	// Serialize converts raw remote snapshots into the local
	// representation. Defaults to JSONSerialize.
	Serialize SerializeFunc

	// Reset controls the value applied to the local property at teardown.
	// It is one of:
	//   - bool: true clears the property to the mode's empty shape,
	//     false suppresses the reset entirely
	//   - ResetFunc: called at teardown, its return value is applied
	//   - any other value: applied literally
	Reset any

	// Wait defers local mutation until the new binding's engine delivers
	// its initial snapshot. During a rebind the old value is retained
	// instead of being eagerly reset (unless Reset is a ResetFunc).
	Wait bool
}

// DefaultOptions returns the option defaults used when the binder was
// constructed without explicit defaults.
func DefaultOptions() Options {
	return Options{
		Serialize: JSONSerialize,
		Reset:     true,
		Wait:      false,
	}
}

// BindOption overrides a single field of the effective configuration for
// one bind call.
type BindOption func(*Options)

// WithSerialize overrides the snapshot serializer for this bind.
func WithSerialize(fn SerializeFunc) BindOption {
	return func(o *Options) {
		o.Serialize = fn
	}
}

// WithReset overrides the teardown reset for this bind. Accepts a bool,
// a literal value, or a ResetFunc (see Options.Reset).
func WithReset(reset any) BindOption {
	return func(o *Options) {
		o.Reset = reset
	}
}

// WithResetFunc overrides the teardown reset with a producer function.
func WithResetFunc(fn func() any) BindOption {
	return func(o *Options) {
		o.Reset = ResetFunc(fn)
	}
}

// WithWait overrides the wait behavior for this bind.
func WithWait(wait bool) BindOption {
	return func(o *Options) {
		o.Wait = wait
	}
}

// resolveOptions merges binder defaults with per-call overrides.
// Pure merge: overrides win field-by-field, unspecified fields fall back
// to the defaults.
func resolveOptions(defaults Options, opts ...BindOption) Options {
	resolved := defaults
	if resolved.Serialize == nil {
		resolved.Serialize = JSONSerialize
	}
	for _, opt := range opts {
		opt(&resolved)
	}
	return resolved
}

// isResetFunc reports whether reset is a producer function.
func isResetFunc(reset any) bool {
	switch reset.(type) {
	case ResetFunc, func() any:
		return true
	default:
		return false
	}
}

// teardownReset computes the reset argument used to tear down a prior
// binding when the same key is rebound, from the NEW call's options:
//
//	wait=false            → the literal reset from the new options
//	wait=true, ResetFunc  → that function
//	wait=true, otherwise  → false (suppress)
//
// Suppression avoids visibly clearing the property before the new data
// arrives; an explicit reset function is assumed to be designed for the
// transition and is honored regardless.
func teardownReset(next Options) any {
	if !next.Wait {
		return next.Reset
	}
	if isResetFunc(next.Reset) {
		return next.Reset
	}
	return false
}

// ResolveReset interprets a reset argument for the given mode. It returns
// the value to assign to the local property, and whether any assignment
// should happen at all. Engines call this from their release path.
func ResolveReset(reset any, mode Mode) (any, bool) {
	switch r := reset.(type) {
	case nil:
		return nil, false
	case bool:
		if !r {
			return nil, false
		}
		if mode == ModeList {
			return []any{}, true
		}
		return nil, true
	case ResetFunc:
		return r(), true
	case func() any:
		return r(), true
	default:
		return r, true
	}
}
