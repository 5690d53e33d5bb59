package natssync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/livebind/binding"
	"github.com/c360/livebind/errors"
	"github.com/c360/livebind/pkg/retry"
)

// ListSynchronizer mirrors every key under a QueryRef prefix into an
// ordered local sequence, one element per remote key, ordered
// lexicographically by key. Puts insert or replace at the key's ordered
// index, deletes and purges remove it. The sequence is mutated exclusively
// through the insert/remove mutation ops.
type ListSynchronizer struct {
	// Retry configures watch establishment; zero value uses retry.Quick()
	Retry retry.Config
	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// listState tracks the ordered remote keys backing the local sequence.
// Element i of the local sequence mirrors keys[i].
type listState struct {
	mu       sync.Mutex
	released bool
	stopped  bool
	keys     []string
}

// stop stops the watcher exactly once, from whichever of the run loop and
// the release path gets there first.
func (st *listState) stop(w jetstream.KeyWatcher) error {
	st.mu.Lock()
	already := st.stopped
	st.stopped = true
	st.mu.Unlock()
	if already {
		return nil
	}
	return w.Stop()
}

// indexOf returns the ordered position of key and whether it is present.
func (st *listState) indexOf(key string) (int, bool) {
	idx := sort.SearchStrings(st.keys, key)
	return idx, idx < len(st.keys) && st.keys[idx] == key
}

// Sync implements binding.Synchronizer for QueryRef sources.
func (s *ListSynchronizer) Sync(ctx context.Context, req binding.Request) (*binding.Handle, error) {
	ref, ok := req.Source.(QueryRef)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("source %T is not a QueryRef", req.Source),
			"ListSynchronizer", "Sync", "source validation")
	}
	if ref.Bucket == nil {
		return nil, errors.WrapInvalid(errors.ErrBucketNotFound,
			"ListSynchronizer", "Sync", "bucket validation")
	}

	watcher, err := retry.DoWithResult(ctx, s.retryConfig(), func() (jetstream.KeyWatcher, error) {
		return ref.Bucket.Watch(ctx, ref.pattern())
	})
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrSubscriptionFailed, err),
			"ListSynchronizer", "Sync", "watch establishment")
	}

	st := &listState{}
	go s.run(req, watcher, st)

	handle := binding.NewHandle(func(reset any) error {
		st.mu.Lock()
		st.released = true
		st.mu.Unlock()

		stopErr := st.stop(watcher)
		if v, ok := binding.ResolveReset(reset, binding.ModeList); ok {
			if err := req.Ops.Set(req.Props, req.Key, v); err != nil {
				return errors.Wrap(err, "ListSynchronizer", "Release", "reset apply")
			}
		}
		if stopErr != nil {
			return errors.WrapTransient(stopErr, "ListSynchronizer", "Release", "watcher stop")
		}
		return nil
	})
	return handle, nil
}

// run drains the watcher. With Wait set, initial values are staged and the
// whole sequence is swapped in at the marker; otherwise every change is
// spliced into the local sequence as it arrives.
func (s *ListSynchronizer) run(req binding.Request, watcher jetstream.KeyWatcher, st *listState) {
	logger := s.logger()
	resolved := false
	staged := make(map[string]any)

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
			if req.Options.Wait {
				seq := make([]any, len(st.keys))
				for i, k := range st.keys {
					seq[i] = staged[k]
				}
				staged = nil
				if err := req.Ops.Set(req.Props, req.Key, seq); err != nil {
					logger.Warn("initial sequence apply failed", "key", req.Key, "error", err)
				}
			}
			cur, _ := req.Props.Get(req.Key)
			st.mu.Unlock()
			req.Resolve(cur)
			continue
		}

		switch entry.Operation() {
		case jetstream.KeyValuePut:
			v, err := req.Options.Serialize(entry.Value())
			if err != nil {
				st.mu.Unlock()
				if !resolved {
					req.Reject(errors.WrapInvalid(err, "ListSynchronizer", "run", "snapshot serialization"))
					_ = st.stop(watcher)
					return
				}
				logger.Warn("snapshot serialization failed", "key", entry.Key(), "error", err)
				continue
			}
			s.applyPut(req, st, staged, resolved, entry.Key(), v, logger)
		case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
			s.applyRemove(req, st, staged, resolved, entry.Key(), logger)
		}
		st.mu.Unlock()
	}

	st.mu.Lock()
	released := st.released
	st.mu.Unlock()
	if !resolved && !released {
		req.Reject(errors.WrapTransient(errors.ErrWatcherStopped, "ListSynchronizer", "run", "initial snapshot"))
	}
}

// applyPut inserts or replaces the element mirroring key. Caller holds st.mu.
func (s *ListSynchronizer) applyPut(
	req binding.Request, st *listState, staged map[string]any,
	resolved bool, key string, value any, logger *slog.Logger,
) {
	buffering := req.Options.Wait && !resolved
	idx, exists := st.indexOf(key)

	if !exists {
		st.keys = append(st.keys, "")
		copy(st.keys[idx+1:], st.keys[idx:])
		st.keys[idx] = key
	}
	if buffering {
		staged[key] = value
		return
	}

	if exists {
		if err := req.Ops.Remove(req.Props, req.Key, idx); err != nil {
			logger.Warn("sequence remove failed", "key", key, "index", idx, "error", err)
			return
		}
	}
	if err := req.Ops.Insert(req.Props, req.Key, idx, value); err != nil {
		logger.Warn("sequence insert failed", "key", key, "index", idx, "error", err)
	}
}

// applyRemove removes the element mirroring key. Caller holds st.mu.
func (s *ListSynchronizer) applyRemove(
	req binding.Request, st *listState, staged map[string]any,
	resolved bool, key string, logger *slog.Logger,
) {
	idx, exists := st.indexOf(key)
	if !exists {
		return
	}
	st.keys = append(st.keys[:idx], st.keys[idx+1:]...)

	if req.Options.Wait && !resolved {
		delete(staged, key)
		return
	}
	if err := req.Ops.Remove(req.Props, req.Key, idx); err != nil {
		logger.Warn("sequence remove failed", "key", key, "index", idx, "error", err)
	}
}

func (s *ListSynchronizer) retryConfig() retry.Config {
	if s.Retry.MaxAttempts == 0 {
		return retry.Quick()
	}
	return s.Retry
}

func (s *ListSynchronizer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
