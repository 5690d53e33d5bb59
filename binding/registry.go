package binding

// registry holds the three parallel per-key mappings of one binder: the
// active source, the active release handle, and the resolved canonical
// reference. A key is present in handles if and only if it is present in
// sources, and a reference exists only while the key is bound; put and
// drop write all three together to keep that invariant.
//
// The registry is exclusively owned by its binder and guarded by the
// binder's mutex; it has no locking of its own.
type registry struct {
	sources map[string]Source
	handles map[string]*Handle
	refs    map[string]string
}

func newRegistry() *registry {
	return &registry{
		sources: make(map[string]Source),
		handles: make(map[string]*Handle),
		refs:    make(map[string]string),
	}
}

// put records a binding under key, overwriting any previous entry.
// Teardown of a previous entry is the caller's responsibility, strictly
// before put.
func (r *registry) put(key string, src Source, h *Handle) {
	r.sources[key] = src
	r.handles[key] = h
	r.refs[key] = src.Ref()
}

// lookup returns the binding recorded under key.
func (r *registry) lookup(key string) (Source, *Handle, bool) {
	h, ok := r.handles[key]
	if !ok {
		return nil, nil, false
	}
	return r.sources[key], h, true
}

// drop removes key from all three mappings.
func (r *registry) drop(key string) {
	delete(r.sources, key)
	delete(r.handles, key)
	delete(r.refs, key)
}

// keys returns the currently bound keys, in no particular order.
func (r *registry) keys() []string {
	out := make([]string, 0, len(r.handles))
	for k := range r.handles {
		out = append(out, k)
	}
	return out
}

// refsCopy returns a read-only projection of the canonical references.
func (r *registry) refsCopy() map[string]string {
	out := make(map[string]string, len(r.refs))
	for k, v := range r.refs {
		out[k] = v
	}
	return out
}

func (r *registry) size() int {
	return len(r.handles)
}
