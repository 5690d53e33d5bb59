// Package natssync provides the reference synchronizer engines over NATS
// JetStream key-value buckets.
//
// ValueSynchronizer mirrors one KV key into a single local property.
// ListSynchronizer mirrors a key-ordered prefix into an ordered local
// sequence, one element per remote key, ordered lexicographically by key.
//
// Both engines implement the binding.Synchronizer contract: they watch the
// bucket, translate change events into mutation-ops calls against the
// host's properties, resolve the bind result once the watcher signals that
// all initial values have been delivered, and stop all local mutation when
// their handle is released. Watch establishment is retried with backoff;
// nothing above this package retries.
package natssync
