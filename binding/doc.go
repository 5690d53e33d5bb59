// Package binding implements the orchestration layer that keeps a host
// instance's local mutable properties synchronized with live remote
// sources.
//
// The central type is the Binder, a standalone service object created once
// per host instance. The host's lifecycle hooks call into it: creation
// binds every declared property, destruction tears every binding down.
// Between those points the host may bind, rebind, and unbind individual
// keys at will.
//
// # Architecture
//
//	┌──────────────────────────────────┐
//	│             Binder               │  bind / unbind / refs
//	│  (per-instance service object)   │  lifecycle: active → closed
//	└──────────────────────────────────┘
//	           ↓ delegates to
//	┌──────────────────────────────────┐
//	│          Synchronizers           │  value-mode and list-mode
//	│   (external engines, one per     │  engines subscribe to a Source
//	│    binding mode)                 │  and mirror it locally
//	└──────────────────────────────────┘
//	           ↓ mutate via
//	┌──────────────────────────────────┐
//	│   MutationOps over Properties    │  set / insert / remove,
//	│                                  │  the only sanctioned surface
//	└──────────────────────────────────┘
//
// Binding is asynchronous: Bind returns immediately with a *Result that
// settles when the engine delivers its first stable snapshot or fails to
// establish the subscription. Rebinding the same key tears the previous
// binding down synchronously, before the new engine is invoked, with a
// reset argument computed from the new call's options (see Options.Wait).
//
// The orchestration layer never retries. Retry and backoff, if any, belong
// to the synchronizer engines behind the Synchronizer contract.
package binding
