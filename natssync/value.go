package natssync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/livebind/binding"
	"github.com/c360/livebind/errors"
	"github.com/c360/livebind/pkg/retry"
)

// ValueSynchronizer mirrors a single KV key into one local property.
// Puts replace the property value, deletes and purges set it to nil.
type ValueSynchronizer struct {
	// Retry configures watch establishment; zero value uses retry.Quick()
	Retry retry.Config
	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

type valueState struct {
	mu       sync.Mutex
	released bool
	stopped  bool
}

// stop stops the watcher exactly once. Both the run loop (on a terminal
// failure) and the release path call it; whichever arrives second is a
// no-op instead of surfacing a stop error from a dead subscription.
func (st *valueState) stop(w jetstream.KeyWatcher) error {
	st.mu.Lock()
	already := st.stopped
	st.stopped = true
	st.mu.Unlock()
	if already {
		return nil
	}
	return w.Stop()
}

// Sync implements binding.Synchronizer for KeyRef sources.
func (s *ValueSynchronizer) Sync(ctx context.Context, req binding.Request) (*binding.Handle, error) {
	ref, ok := req.Source.(KeyRef)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("source %T is not a KeyRef", req.Source),
			"ValueSynchronizer", "Sync", "source validation")
	}
	if ref.Bucket == nil {
		return nil, errors.WrapInvalid(errors.ErrBucketNotFound,
			"ValueSynchronizer", "Sync", "bucket validation")
	}

	watcher, err := retry.DoWithResult(ctx, s.retryConfig(), func() (jetstream.KeyWatcher, error) {
		return ref.Bucket.Watch(ctx, ref.Key)
	})
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrSubscriptionFailed, err),
			"ValueSynchronizer", "Sync", "watch establishment")
	}

	st := &valueState{}
	go s.run(req, watcher, st)

	handle := binding.NewHandle(func(reset any) error {
		st.mu.Lock()
		st.released = true
		st.mu.Unlock()

		stopErr := st.stop(watcher)
		if v, ok := binding.ResolveReset(reset, binding.ModeValue); ok {
			if err := req.Ops.Set(req.Props, req.Key, v); err != nil {
				return errors.Wrap(err, "ValueSynchronizer", "Release", "reset apply")
			}
		}
		if stopErr != nil {
			return errors.WrapTransient(stopErr, "ValueSynchronizer", "Release", "watcher stop")
		}
		return nil
	})
	return handle, nil
}

// run drains the watcher. Initial values stream first; the nil marker
// signals that all of them have been delivered and resolves the bind
// result. With Wait set, nothing is written locally until the marker.
func (s *ValueSynchronizer) run(req binding.Request, watcher jetstream.KeyWatcher, st *valueState) {
	logger := s.logger()
	resolved := false
	havePending := false
	var pending any

	for entry := range watcher.Updates() {
		st.mu.Lock()
		if st.released {
			st.mu.Unlock()
			return
		}

		if entry == nil {
			if resolved {
				st.mu.Unlock()
				continue
			}
			resolved = true
			if req.Options.Wait && havePending {
				if err := req.Ops.Set(req.Props, req.Key, pending); err != nil {
					logger.Warn("initial value apply failed", "key", req.Key, "error", err)
				}
			}
			cur, _ := req.Props.Get(req.Key)
			st.mu.Unlock()
			req.Resolve(cur)
			continue
		}

		var next any
		switch entry.Operation() {
		case jetstream.KeyValuePut:
			v, err := req.Options.Serialize(entry.Value())
			if err != nil {
				st.mu.Unlock()
				if !resolved {
					req.Reject(errors.WrapInvalid(err, "ValueSynchronizer", "run", "snapshot serialization"))
					_ = st.stop(watcher)
					return
				}
				logger.Warn("snapshot serialization failed", "key", req.Key, "error", err)
				continue
			}
			next = v
		case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
			next = nil
		default:
			st.mu.Unlock()
			continue
		}

		if req.Options.Wait && !resolved {
			pending = next
			havePending = true
		} else if err := req.Ops.Set(req.Props, req.Key, next); err != nil {
			logger.Warn("value apply failed", "key", req.Key, "error", err)
		}
		st.mu.Unlock()
	}

	st.mu.Lock()
	released := st.released
	st.mu.Unlock()
	if !resolved && !released {
		req.Reject(errors.WrapTransient(errors.ErrWatcherStopped, "ValueSynchronizer", "run", "initial snapshot"))
	}
}

func (s *ValueSynchronizer) retryConfig() retry.Config {
	if s.Retry.MaxAttempts == 0 {
		return retry.Quick()
	}
	return s.Retry
}

func (s *ValueSynchronizer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
