package binding

import "time"

// EventType identifies a binding lifecycle transition
type EventType string

const (
	// EventBound fires when a binding is recorded in the registry
	EventBound EventType = "bound"
	// EventResolved fires when a binding delivers its initial snapshot
	EventResolved EventType = "resolved"
	// EventRejected fires when a binding fails to synchronize
	EventRejected EventType = "rejected"
	// EventUnbound fires when a binding is torn down
	EventUnbound EventType = "unbound"
	// EventClosed fires once, when the binder is destroyed
	EventClosed EventType = "closed"
)

// Event describes one binding lifecycle transition. Events are a
// convenience projection for observers (gateways, dashboards), not
// independent binder state.
type Event struct {
	Binder    string    `json:"binder"`
	Type      EventType `json:"type"`
	Key       string    `json:"key,omitempty"`
	Ref       string    `json:"ref,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Rebind    bool      `json:"rebind,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer receives binding lifecycle events. Observers are called
// synchronously from binder and engine goroutines and must not call back
// into the binder.
type Observer func(Event)

// Metrics receives binding lifecycle measurements. The metric package
// provides a Prometheus-backed implementation.
type Metrics interface {
	BindStarted(mode string, rebind bool)
	BindSettled(mode string, d time.Duration, err error)
	Unbound()
	SetActive(n int)
}
