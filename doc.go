// Package livebind keeps a host instance's local mutable properties
// synchronized with live, key-ordered remote data.
//
// # Architecture
//
// The module is split into a small orchestration core and pluggable
// synchronizer engines:
//
//	┌─────────────────────────────────────┐
//	│          binding.Binder             │  per-instance service:
//	│  (bind, rebind, unbind, refs,       │  registry + lifecycle
//	│   declarative map, close)           │
//	└─────────────────────────────────────┘
//	           ↓ Synchronizer contract
//	┌─────────────────────────────────────┐
//	│         natssync engines            │  value mode: one KV key
//	│  (NATS JetStream KV watchers)       │  list mode: ordered prefix
//	└─────────────────────────────────────┘
//	           ↓ MutationOps
//	┌─────────────────────────────────────┐
//	│       binding.Properties            │  the host's local state
//	└─────────────────────────────────────┘
//
// The binder owns a registry of three parallel per-key mappings (source,
// release handle, canonical reference) and guarantees that rebinding a key
// tears the previous binding down synchronously, before the new engine is
// invoked, with a reset argument computed from the new call's options.
// Destruction tears every binding down in a single synchronous pass.
//
// Supporting packages: errors (classification and wrapping), metric
// (Prometheus instrumentation and scrape server), gateway (WebSocket event
// stream and refs projection), config (declarative binding files),
// natsclient (connection management and bucket lookup), pkg/retry
// (backoff for the engines).
//
// The cmd/livebind binary wires all of it together from a configuration
// file.
package livebind
