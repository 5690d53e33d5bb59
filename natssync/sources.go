package natssync

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Bucket is the slice of the JetStream KeyValue surface the engines
// consume. jetstream.KeyValue satisfies it; tests substitute fakes.
type Bucket interface {
	Watch(ctx context.Context, keys string, opts ...jetstream.WatchOpt) (jetstream.KeyWatcher, error)
}

// KeyRef addresses a single value: one key in one KV bucket. It is the
// source type served by ValueSynchronizer.
type KeyRef struct {
	Bucket     Bucket
	BucketName string
	Key        string
}

// Ref returns the canonical reference, for display and debugging only.
func (r KeyRef) Ref() string {
	return fmt.Sprintf("kv://%s/%s", r.BucketName, r.Key)
}

// QueryRef addresses an ordered query: every key under a prefix in one KV
// bucket, ordered lexicographically. It is the source type served by
// ListSynchronizer. An empty prefix addresses the whole bucket.
type QueryRef struct {
	Bucket     Bucket
	BucketName string
	Prefix     string
}

// Ref returns the canonical reference, for display and debugging only.
func (r QueryRef) Ref() string {
	return fmt.Sprintf("kv://%s/%s", r.BucketName, r.pattern())
}

// pattern returns the watch subject for the query.
func (r QueryRef) pattern() string {
	if r.Prefix == "" {
		return ">"
	}
	return r.Prefix + ".>"
}
