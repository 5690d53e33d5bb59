// Package natsclient manages the NATS connection and the JetStream KV
// bucket handles consumed by the synchronizer engines. It owns reconnect
// handling and caches bucket lookups so every binding for the same bucket
// shares one handle.
package natsclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/livebind/errors"
)

// Status holds runtime connection information.
type Status struct {
	Connected  bool
	Reconnects uint64
	RTT        time.Duration
}

// Client wraps one NATS connection with a JetStream context and a KV
// bucket cache.
type Client struct {
	url    string
	name   string
	logger *slog.Logger

	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration

	conn *nats.Conn
	js   jetstream.JetStream

	mu      sync.Mutex
	buckets map[string]jetstream.KeyValue
}

// Option configures a Client before it connects
type Option func(*Client)

// WithLogger sets the logger for connection lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithName sets the client name advertised to the server.
func WithName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.name = name
		}
	}
}

// WithMaxReconnects sets the reconnection attempt limit (-1 for infinite).
func WithMaxReconnects(n int) Option {
	return func(c *Client) {
		c.maxReconnects = n
	}
}

// WithReconnectWait sets the wait between reconnection attempts.
func WithReconnectWait(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.reconnectWait = d
		}
	}
}

// WithTimeout sets the initial connection timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Connect establishes the NATS connection and JetStream context.
func Connect(url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:           url,
		name:          "livebind",
		logger:        slog.Default(),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		buckets:       make(map[string]jetstream.KeyValue),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, err := nats.Connect(url,
		nats.Name(c.name),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("nats disconnected", "url", c.url, "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			c.logger.Info("nats connection closed", "url", c.url)
		}),
	)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("connect to %s: %w", url, err),
			"Client", "Connect", "connection establishment")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.WrapFatal(err, "Client", "Connect", "jetstream context creation")
	}

	c.conn = conn
	c.js = js
	return c, nil
}

// Bucket returns the KV bucket handle for name, opening it on first use.
func (c *Client) Bucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if kv, ok := c.buckets[name]; ok {
		return kv, nil
	}

	kv, err := c.js.KeyValue(ctx, name)
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, errors.WrapFatal(
				fmt.Errorf("bucket %q: %w", name, errors.ErrBucketNotFound),
				"Client", "Bucket", "bucket lookup")
		}
		return nil, errors.WrapTransient(
			fmt.Errorf("bucket %q: %w", name, err),
			"Client", "Bucket", "bucket lookup")
	}

	c.buckets[name] = kv
	return kv, nil
}

// CreateBucket creates (or opens, when it already exists with the same
// configuration) a KV bucket and caches its handle.
func (c *Client) CreateBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kv, err := c.js.CreateKeyValue(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("bucket %q: %w", cfg.Bucket, err),
			"Client", "CreateBucket", "bucket creation")
	}

	c.buckets[cfg.Bucket] = kv
	return kv, nil
}

// JetStream returns the underlying JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Status reports the current connection state.
func (c *Client) Status() Status {
	if c.conn == nil {
		return Status{}
	}
	st := Status{
		Connected:  c.conn.IsConnected(),
		Reconnects: c.conn.Stats().Reconnects,
	}
	if rtt, err := c.conn.RTT(); err == nil {
		st.RTT = rtt
	}
	return st
}

// Close drains the connection, flushing pending messages before closing.
func (c *Client) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return errors.WrapTransient(err, "Client", "Close", "connection drain")
	}
	return nil
}
