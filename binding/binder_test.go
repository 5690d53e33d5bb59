package binding

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/livebind/errors"
)

// fakeEngine records every request and teardown it sees and lets tests
// settle results on demand.
type fakeEngine struct {
	mu       sync.Mutex
	requests []Request
	releases []releaseRecord
	syncErr  error
	relErr   error
	log      *callLog
	name     string

	// started receives one value when Sync is entered; gate, when set,
	// blocks Sync until closed. Used to hold the engine mid-establishment.
	started chan struct{}
	gate    chan struct{}
}

type releaseRecord struct {
	key   string
	reset any
}

// callLog is shared between engines and handles to assert strict ordering.
type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(entry string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (f *fakeEngine) Sync(_ context.Context, req Request) (*Handle, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	f.log.add(fmt.Sprintf("%s.sync:%s", f.name, req.Key))

	return NewHandle(func(reset any) error {
		f.mu.Lock()
		f.releases = append(f.releases, releaseRecord{key: req.Key, reset: reset})
		f.mu.Unlock()
		f.log.add(fmt.Sprintf("%s.release:%s", f.name, req.Key))
		return f.relErr
	}), nil
}

func (f *fakeEngine) lastRequest(t *testing.T) Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func (f *fakeEngine) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeEngine) lastRelease(t *testing.T) releaseRecord {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.releases)
	return f.releases[len(f.releases)-1]
}

func (f *fakeEngine) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.releases)
}

func newTestBinder(t *testing.T, opts ...BinderOption) (*Binder, *MapProperties, *fakeEngine, *fakeEngine) {
	t.Helper()
	log := &callLog{}
	value := &fakeEngine{name: "value", log: log}
	list := &fakeEngine{name: "list", log: log}
	props := NewMapProperties()

	b, err := New(props, value, list, opts...)
	require.NoError(t, err)
	return b, props, value, list
}

func TestNewRequiresPropertiesAndEngine(t *testing.T) {
	_, err := New(nil, &fakeEngine{}, nil)
	assert.True(t, errors.IsInvalid(err))

	_, err = New(NewMapProperties(), nil, nil)
	assert.True(t, errors.IsInvalid(err))
}

func TestBindRecordsRegistryEntry(t *testing.T) {
	b, props, value, _ := newTestBinder(t)
	props.Set("profile", map[string]any{})

	result, err := b.BindValue("profile", staticSource("kv://users/profile"))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Settled())

	assert.True(t, b.Bound("profile"))
	assert.Equal(t, map[string]string{"profile": "kv://users/profile"}, b.Refs())

	req := value.lastRequest(t)
	assert.Equal(t, "profile", req.Key)
	assert.Equal(t, staticSource("kv://users/profile"), req.Source)
	assert.NotNil(t, req.Ops)
	assert.NotNil(t, req.Resolve)
	assert.NotNil(t, req.Reject)
}

func TestBindNilSource(t *testing.T) {
	b, _, _, _ := newTestBinder(t)

	_, err := b.BindValue("profile", nil)
	assert.True(t, errors.Is(err, errors.ErrNilSource))
}

func TestBindResolution(t *testing.T) {
	b, props, value, _ := newTestBinder(t)

	result, err := b.BindValue("profile", staticSource("ref"))
	require.NoError(t, err)

	req := value.lastRequest(t)
	props.Set("profile", map[string]any{"name": "ada"})
	req.Resolve(map[string]any{"name": "ada"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := result.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada"}, snap)
}

func TestBindRejection(t *testing.T) {
	b, _, value, _ := newTestBinder(t)

	result, err := b.BindValue("profile", staticSource("ref"))
	require.NoError(t, err)

	req := value.lastRequest(t)
	req.Reject(errors.WrapTransient(errors.ErrSubscriptionFailed, "fake", "Sync", "subscribe"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = result.Await(ctx)
	assert.True(t, errors.Is(err, errors.ErrSubscriptionFailed))
}

func TestBindEngineStartFailureRejectsResult(t *testing.T) {
	b, _, value, _ := newTestBinder(t)
	value.syncErr = fmt.Errorf("no such bucket")

	result, err := b.BindValue("profile", staticSource("ref"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = result.Await(ctx)
	assert.ErrorContains(t, err, "no such bucket")

	// No subscription was established, so nothing was recorded.
	assert.False(t, b.Bound("profile"))
	assert.Empty(t, b.Refs())
}

func TestExplicitModeRouting(t *testing.T) {
	b, props, value, list := newTestBinder(t)

	// Explicit mode wins regardless of the property's current shape.
	props.Set("items", "not-a-sequence")
	_, err := b.BindList("items", staticSource("query"))
	require.NoError(t, err)
	assert.Equal(t, 1, list.requestCount())
	assert.Equal(t, 0, value.requestCount())

	props.Set("profile", []any{})
	_, err = b.BindValue("profile", staticSource("ref"))
	require.NoError(t, err)
	assert.Equal(t, 1, value.requestCount())
}

func TestAutoModeFollowsLocalShape(t *testing.T) {
	b, props, value, list := newTestBinder(t)

	props.Set("items", []any{})
	_, err := b.Bind("items", staticSource("queryA"))
	require.NoError(t, err)
	assert.Equal(t, 1, list.requestCount())

	props.Set("profile", map[string]any{})
	_, err = b.Bind("profile", staticSource("refB"))
	require.NoError(t, err)
	assert.Equal(t, 1, value.requestCount())

	// Unset properties bind as single values.
	_, err = b.Bind("missing", staticSource("refC"))
	require.NoError(t, err)
	assert.Equal(t, 2, value.requestCount())
}

func TestBindWithoutEngineForMode(t *testing.T) {
	props := NewMapProperties()
	b, err := New(props, &fakeEngine{name: "value"}, nil)
	require.NoError(t, err)

	_, err = b.BindList("items", staticSource("query"))
	assert.True(t, errors.Is(err, errors.ErrUnknownMode))
}

func TestBindInFlightDoesNotBlockOtherKeys(t *testing.T) {
	b, _, value, _ := newTestBinder(t)
	value.started = make(chan struct{}, 1)
	value.gate = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := b.BindValue("profile", staticSource("slow"))
		assert.NoError(t, err)
	}()

	<-value.started

	// While the value engine is still establishing its watch, the read
	// projections and other keys stay available.
	assert.False(t, b.Bound("profile"))
	assert.Empty(t, b.Refs())
	_, err := b.BindList("items", staticSource("query"))
	require.NoError(t, err)
	require.NoError(t, b.Unbind("items", nil))

	close(value.gate)
	<-done
	assert.True(t, b.Bound("profile"))
	assert.Equal(t, map[string]string{"profile": "slow"}, b.Refs())
}

func TestCloseDuringEngineStart(t *testing.T) {
	b, _, value, _ := newTestBinder(t)
	value.started = make(chan struct{}, 1)
	value.gate = make(chan struct{})

	results := make(chan *Result, 1)
	go func() {
		result, err := b.BindValue("profile", staticSource("ref"))
		assert.NoError(t, err)
		results <- result
	}()

	<-value.started
	require.NoError(t, b.Close())
	close(value.gate)

	result := <-results
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := result.Await(ctx)
	assert.True(t, errors.Is(err, errors.ErrBinderClosed))

	// The binding never reached the registry and its handle was released.
	assert.Equal(t, 1, value.releaseCount())
	assert.False(t, b.Bound("profile"))
}

func TestRebindTearsDownBeforeNewSync(t *testing.T) {
	b, _, value, _ := newTestBinder(t)

	_, err := b.BindValue("profile", staticSource("refB"))
	require.NoError(t, err)

	_, err = b.BindValue("profile", staticSource("refB2"))
	require.NoError(t, err)

	// Exactly one teardown of the prior handle, strictly before the new
	// engine is invoked.
	assert.Equal(t, []string{
		"value.sync:profile",
		"value.release:profile",
		"value.sync:profile",
	}, value.log.all())
	assert.Equal(t, 1, value.releaseCount())
	assert.Equal(t, map[string]string{"profile": "refB2"}, b.Refs())
}

func TestRebindPolicyTable(t *testing.T) {
	t.Run("no wait passes literal reset verbatim", func(t *testing.T) {
		b, _, value, _ := newTestBinder(t)
		_, err := b.BindValue("profile", staticSource("r1"))
		require.NoError(t, err)

		_, err = b.BindValue("profile", staticSource("r2"), WithReset("offline"), WithWait(false))
		require.NoError(t, err)
		assert.Equal(t, "offline", value.lastRelease(t).reset)
	})

	t.Run("wait with reset function passes that function", func(t *testing.T) {
		b, _, value, _ := newTestBinder(t)
		_, err := b.BindValue("profile", staticSource("r1"))
		require.NoError(t, err)

		_, err = b.BindValue("profile", staticSource("r2"),
			WithWait(true), WithResetFunc(func() any { return "transition" }))
		require.NoError(t, err)

		fn, ok := value.lastRelease(t).reset.(ResetFunc)
		require.True(t, ok)
		assert.Equal(t, "transition", fn())
	})

	t.Run("wait with non-function reset suppresses", func(t *testing.T) {
		b, _, value, _ := newTestBinder(t)
		_, err := b.BindValue("profile", staticSource("r1"))
		require.NoError(t, err)

		_, err = b.BindValue("profile", staticSource("r2"), WithWait(true), WithReset(true))
		require.NoError(t, err)
		assert.Equal(t, false, value.lastRelease(t).reset)
	})
}

func TestRebindBeforeFirstResolve(t *testing.T) {
	b, props, value, _ := newTestBinder(t)
	props.Set("profile", map[string]any{})

	first, err := b.BindValue("profile", staticSource("refB"), WithWait(true), WithReset(false))
	require.NoError(t, err)

	second, err := b.BindValue("profile", staticSource("refB2"), WithWait(true), WithReset(false))
	require.NoError(t, err)

	// The new entry exists synchronously, independent of settlement.
	assert.Equal(t, map[string]string{"profile": "refB2"}, b.Refs())
	assert.False(t, first.Settled())
	assert.False(t, second.Settled())
	assert.Equal(t, false, value.lastRelease(t).reset)
}

func TestUnbindReleasesAndPurges(t *testing.T) {
	b, _, value, _ := newTestBinder(t)

	_, err := b.BindValue("profile", staticSource("ref"))
	require.NoError(t, err)

	require.NoError(t, b.Unbind("profile", "offline"))

	assert.Equal(t, "offline", value.lastRelease(t).reset)
	assert.False(t, b.Bound("profile"))
	assert.Empty(t, b.Refs())
	assert.Empty(t, b.Keys())
}

func TestUnbindUnboundKeyIsPreconditionViolation(t *testing.T) {
	b, _, _, _ := newTestBinder(t)

	err := b.Unbind("never-bound", nil)
	assert.True(t, errors.Is(err, errors.ErrNotBound))
	assert.True(t, errors.IsInvalid(err))
}

func TestUnbindPropagatesReleaseFailure(t *testing.T) {
	b, _, value, _ := newTestBinder(t)
	value.relErr = fmt.Errorf("stop failed")

	_, err := b.BindValue("profile", staticSource("ref"))
	require.NoError(t, err)

	err = b.Unbind("profile", nil)
	assert.ErrorContains(t, err, "stop failed")
	// The key is purged regardless.
	assert.False(t, b.Bound("profile"))
}

func TestCloseTearsDownEverything(t *testing.T) {
	b, _, value, list := newTestBinder(t)

	_, err := b.BindValue("profile", staticSource("ref"))
	require.NoError(t, err)
	_, err = b.BindList("items", staticSource("query"))
	require.NoError(t, err)

	require.NoError(t, b.Close())

	assert.Equal(t, 1, value.releaseCount())
	assert.Equal(t, 1, list.releaseCount())
	assert.Empty(t, b.Refs())
	assert.Empty(t, b.Keys())

	_, err = b.BindValue("late", staticSource("ref"))
	assert.True(t, errors.Is(err, errors.ErrBinderClosed))
	assert.True(t, errors.Is(b.Unbind("profile", nil), errors.ErrBinderClosed))
	assert.True(t, errors.Is(b.Close(), errors.ErrBinderClosed))
}

func TestCloseProcessesRemainingKeysOnFailure(t *testing.T) {
	b, _, value, list := newTestBinder(t)
	value.relErr = fmt.Errorf("value teardown failed")

	_, err := b.BindValue("profile", staticSource("ref"))
	require.NoError(t, err)
	_, err = b.BindList("items", staticSource("query"))
	require.NoError(t, err)

	err = b.Close()
	assert.ErrorContains(t, err, "value teardown failed")
	// The failing key did not stop the other teardown.
	assert.Equal(t, 1, list.releaseCount())
}

func TestDeclarationsBoundAtCreation(t *testing.T) {
	log := &callLog{}
	value := &fakeEngine{name: "value", log: log}
	list := &fakeEngine{name: "list", log: log}
	props := NewMapProperties()
	props.Set("items", []any{})

	b, err := New(props, value, list,
		WithDeclarations(
			Declare("items", staticSource("queryA"), ModeList),
			Declare("profile", staticSource("refB"), ModeValue, WithWait(true)),
		),
	)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"items": "queryA", "profile": "refB"}, b.Refs())
	assert.Equal(t, 1, list.requestCount())
	assert.Equal(t, 1, value.requestCount())
	assert.True(t, value.lastRequest(t).Options.Wait)

	// The list engine received the request for the sequence property.
	assert.Equal(t, "items", list.lastRequest(t).Key)
	assert.Equal(t, staticSource("queryA"), list.lastRequest(t).Source)
}

func TestDeclarationFuncEvaluatedAtCreation(t *testing.T) {
	called := false
	b, _, value, _ := newTestBinder(t, WithDeclarationFunc(func() []Declaration {
		called = true
		return []Declaration{Declare("profile", staticSource("ref"), ModeValue)}
	}))

	assert.True(t, called)
	assert.Equal(t, 1, value.requestCount())
	assert.True(t, b.Bound("profile"))
}

func TestNoDeclarationsIsNoOp(t *testing.T) {
	b, _, value, list := newTestBinder(t)

	assert.Empty(t, b.Refs())
	assert.Zero(t, value.requestCount())
	assert.Zero(t, list.requestCount())
}

func TestDefaultsMergeIntoBind(t *testing.T) {
	defaults := DefaultOptions()
	defaults.Wait = true
	b, _, value, _ := newTestBinder(t, WithDefaults(defaults))

	_, err := b.BindValue("a", staticSource("r"))
	require.NoError(t, err)
	assert.True(t, value.lastRequest(t).Options.Wait)

	_, err = b.BindValue("b", staticSource("r"), WithWait(false))
	require.NoError(t, err)
	assert.False(t, value.lastRequest(t).Options.Wait)
}

func TestObserverSeesLifecycleEvents(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	observer := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	b, _, value, _ := newTestBinder(t, WithObserver(observer))

	_, err := b.BindValue("profile", staticSource("ref"))
	require.NoError(t, err)
	value.lastRequest(t).Resolve("snapshot")
	require.NoError(t, b.Unbind("profile", nil))
	require.NoError(t, b.Close())

	mu.Lock()
	defer mu.Unlock()
	var types []EventType
	for _, ev := range events {
		types = append(types, ev.Type)
		assert.Equal(t, b.ID(), ev.Binder)
		assert.False(t, ev.Timestamp.IsZero())
	}
	assert.Equal(t, []EventType{EventBound, EventResolved, EventUnbound, EventClosed}, types)
}

func TestRebindEmitsRebindFlag(t *testing.T) {
	var mu sync.Mutex
	var bound []Event
	b, _, _, _ := newTestBinder(t, WithObserver(func(ev Event) {
		if ev.Type == EventBound {
			mu.Lock()
			bound = append(bound, ev)
			mu.Unlock()
		}
	}))

	_, err := b.BindValue("profile", staticSource("r1"))
	require.NoError(t, err)
	_, err = b.BindValue("profile", staticSource("r2"))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bound, 2)
	assert.False(t, bound[0].Rebind)
	assert.True(t, bound[1].Rebind)
}

// fakeMetrics counts the measurements the binder reports.
type fakeMetrics struct {
	mu      sync.Mutex
	binds   int
	rebinds int
	settled int
	unbinds int
	active  int
}

func (m *fakeMetrics) BindStarted(_ string, rebind bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binds++
	if rebind {
		m.rebinds++
	}
}

func (m *fakeMetrics) BindSettled(string, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settled++
}

func (m *fakeMetrics) Unbound() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unbinds++
}

func (m *fakeMetrics) SetActive(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = n
}

func TestMetricsReporting(t *testing.T) {
	metrics := &fakeMetrics{}
	b, _, value, _ := newTestBinder(t, WithMetrics(metrics))

	_, err := b.BindValue("profile", staticSource("r1"))
	require.NoError(t, err)
	_, err = b.BindValue("profile", staticSource("r2"))
	require.NoError(t, err)
	value.lastRequest(t).Resolve("snap")
	_, err = b.BindValue("items", staticSource("r3"))
	require.NoError(t, err)
	require.NoError(t, b.Unbind("items", nil))
	require.NoError(t, b.Close())

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, 3, metrics.binds)
	assert.Equal(t, 1, metrics.rebinds)
	assert.Equal(t, 1, metrics.settled)
	// One explicit unbind plus the close teardown of "profile".
	assert.Equal(t, 2, metrics.unbinds)
	assert.Equal(t, 0, metrics.active)
}

func TestResultAwaitContextCancel(t *testing.T) {
	b, _, _, _ := newTestBinder(t)
	result, err := b.BindValue("profile", staticSource("ref"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = result.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResultSettlesOnce(t *testing.T) {
	b, _, value, _ := newTestBinder(t)
	result, err := b.BindValue("profile", staticSource("ref"))
	require.NoError(t, err)

	req := value.lastRequest(t)
	req.Resolve("first")
	req.Resolve("second")
	req.Reject(fmt.Errorf("late failure"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := result.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", snap)
}
