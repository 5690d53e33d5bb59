package binding

import "sync"

// ReleaseFunc detaches a synchronizer's subscription and applies the given
// reset argument to the bound property. Interpreting the reset argument is
// the engine's responsibility (see ResolveReset).
type ReleaseFunc func(reset any) error

// Handle is the release token for one established binding. It is returned
// by a synchronizer engine and owned by the binder's registry; ownership
// transfers back to the caller of Unbind or Close at teardown.
//
// Release is exactly-once: the first call invokes the engine's release
// path, every later call is a no-op returning nil. Once released the
// engine must stop all further local mutation.
type Handle struct {
	once    sync.Once
	release ReleaseFunc
}

// NewHandle wraps an engine's release path in a Handle.
func NewHandle(release ReleaseFunc) *Handle {
	return &Handle{release: release}
}

// Release invokes the release path with the given reset argument.
func (h *Handle) Release(reset any) error {
	if h == nil || h.release == nil {
		return nil
	}
	var err error
	h.once.Do(func() {
		err = h.release(reset)
	})
	return err
}
