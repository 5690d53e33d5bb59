// Package gateway exposes a debug surface for the binding layer: a
// WebSocket stream of binding lifecycle events, a JSON projection of the
// canonical references, and an optional Prometheus scrape endpoint.
// It observes the binder; it never mutates bound state.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/livebind/binding"
	"github.com/c360/livebind/errors"
)

// RefsFunc returns the read-only canonical-reference projection to serve.
// Typically this is (*binding.Binder).Refs.
type RefsFunc func() map[string]string

// Server serves the gateway endpoints:
//
//	GET /refs    current canonical references as JSON
//	GET /ws      WebSocket stream of binding events
//	GET /metrics Prometheus scrape endpoint, when configured
type Server struct {
	addr     string
	logger   *slog.Logger
	refs     RefsFunc
	metrics  http.Handler
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	server  *http.Server
}

// Option configures a gateway Server
type Option func(*Server)

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsHandler mounts a Prometheus scrape handler at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// NewServer creates a gateway server for the given refs projection.
func NewServer(addr string, refs RefsFunc, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		logger:  slog.Default(),
		refs:    refs,
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the gateway's HTTP handler, for mounting or testing.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/refs", s.handleRefs)
	mux.HandleFunc("/ws", s.handleWS)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Start starts the gateway HTTP server
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(
			fmt.Errorf("server already running"),
			"Server", "Start", "cannot start server that is already running")
	}

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("gateway server failed", "addr", s.addr, "error", err)
		}
	}()

	return nil
}

// Stop closes every WebSocket client and shuts the HTTP server down
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	for conn := range s.clients {
		_ = conn.Close()
	}
	s.clients = make(map[*websocket.Conn]struct{})
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "graceful shutdown")
	}
	return nil
}

// Publish broadcasts a binding event to every connected client. Wire it to
// the binder with binding.WithObserver(gw.Publish).
func (s *Server) Publish(ev binding.Event) {
	data, err := json.Marshal(wsMessage{Type: "event", Event: &ev})
	if err != nil {
		s.logger.Error("event marshal failed", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Debug("dropping gateway client", "error", err)
			_ = conn.Close()
			delete(s.clients, conn)
		}
	}
}

// wsMessage is the envelope sent to WebSocket clients
type wsMessage struct {
	Type  string            `json:"type"` // "refs" or "event"
	Refs  map[string]string `json:"refs,omitempty"`
	Event *binding.Event    `json:"event,omitempty"`
}

func (s *Server) handleRefs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.refs()); err != nil {
		s.logger.Error("refs encode failed", "error", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	snapshot, err := json.Marshal(wsMessage{Type: "refs", Refs: s.refs()})
	if err != nil {
		s.logger.Error("refs marshal failed", "error", err)
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	if err := conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	// Reader loop: clients send nothing meaningful, but reading is the
	// only way to observe the close handshake.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.mu.Lock()
				delete(s.clients, conn)
				s.mu.Unlock()
				_ = conn.Close()
				return
			}
		}
	}()
}
