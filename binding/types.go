package binding

import (
	"reflect"
	"sync"
)

// Mode selects which synchronizer engine a binding targets. The choice is
// an explicit tag carried by the bind call; the engines never inspect the
// remote source's shape to decide.
type Mode int

const (
	// ModeAuto selects the mode from the bound property's current local
	// value: an ordered sequence selects ModeList, anything else
	// ModeValue. The caller is responsible for initializing the property
	// to the correct shape before binding; prefer the explicit modes.
	ModeAuto Mode = iota
	// ModeValue targets a single addressable remote value
	ModeValue
	// ModeList targets an ordered query over a remote collection
	ModeList
)

// String returns a string representation of the binding mode
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeValue:
		return "value"
	case ModeList:
		return "list"
	default:
		return "unknown"
	}
}

// Source is an opaque handle to either a single addressable remote value
// or an ordered query over a remote collection. Its canonical reference is
// exposed for display and debugging, never for mutation routing.
type Source interface {
	Ref() string
}

// Properties is the host instance's local mutable state, keyed by property
// name. Implementations must make writes visible to concurrent readers;
// the synchronizer engines mutate properties from their own goroutines.
type Properties interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// MapProperties is the default Properties implementation, a mutex-guarded
// map document.
type MapProperties struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewMapProperties creates an empty property store.
func NewMapProperties() *MapProperties {
	return &MapProperties{values: make(map[string]any)}
}

// Get returns the current value of a property.
func (p *MapProperties) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	v, ok := p.values[key]
	return v, ok
}

// Set replaces the value of a property.
func (p *MapProperties) Set(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.values[key] = value
}

// Snapshot returns a shallow copy of all properties.
func (p *MapProperties) Snapshot() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// isSequence reports whether a local value has ordered-sequence shape.
// Used only by ModeAuto.
func isSequence(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return true
	default:
		return false
	}
}
