// Package server exposes a running session over HTTP: a websocket live
// feed of bus events on /ws, Prometheus metrics on /metrics and the
// connection state on /healthz.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/justapithecus/openhrv/adapter"
	"github.com/justapithecus/openhrv/bus"
	"github.com/justapithecus/openhrv/log"
	"github.com/justapithecus/openhrv/types"
)

// DefaultListen is the default listen address.
const DefaultListen = "127.0.0.1:8080"

// Source reports the session the server describes.
// *engine.Engine satisfies it.
type Source interface {
	State() types.ConnectionState
	Address() string
	Meta() *types.SessionMeta
}

// Config configures a Server.
type Config struct {
	// Listen is the TCP address. Defaults to DefaultListen.
	Listen string
	// WriteTimeout bounds websocket writes. Defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration
	// Gatherer serves /metrics. When nil, /metrics is not registered.
	Gatherer prometheus.Gatherer
	// Logger defaults to a no-op logger.
	Logger *log.Logger
}

// Health is the /healthz response body.
type Health struct {
	Status    string `json:"status"`
	State     string `json:"state"`
	Address   string `json:"address,omitempty"`
	SessionID string `json:"session_id"`
	Clients   int    `json:"clients"`
}

// Server serves the HTTP surfaces of one session.
type Server struct {
	cfg    Config
	bus    *bus.Bus
	src    Source
	hub    *Hub
	logger *log.Logger
	mux    *http.ServeMux
}

// New creates a server over b and src.
func New(cfg Config, b *bus.Bus, src Source) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		bus:    b,
		src:    src,
		hub:    NewHub(cfg.WriteTimeout),
		logger: cfg.Logger,
		mux:    http.NewServeMux(),
	}
	s.mux.Handle("/ws", s.hub)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if cfg.Gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Hub returns the websocket client hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := Health{
		Status:  "ok",
		State:   s.src.State().String(),
		Address: s.src.Address(),
		Clients: s.hub.Len(),
	}
	if meta := s.src.Meta(); meta != nil {
		body.SessionID = meta.SessionID
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// Run listens on cfg.Listen and streams bus events to websocket clients
// until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	events := make(chan *types.Event, 256)
	if err := s.bus.Subscribe("websocket", events); err != nil {
		_ = ln.Close()
		return err
	}
	defer func() { _ = s.bus.Unsubscribe("websocket") }()

	broadcastCtx, stopBroadcast := context.WithCancel(ctx)
	defer stopBroadcast()
	broadcastDone := make(chan struct{})
	go func() {
		defer close(broadcastDone)
		s.broadcast(broadcastCtx, events)
	}()

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	s.logger.Info("http server listening", map[string]any{"addr": ln.Addr().String()})

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	stopBroadcast()
	<-broadcastDone
	s.hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown incomplete", map[string]any{"error": err.Error()})
	}

	if errors.Is(runErr, http.ErrServerClosed) {
		return nil
	}
	return runErr
}

func (s *Server) broadcast(ctx context.Context, events <-chan *types.Event) {
	sessionID := ""
	if meta := s.src.Meta(); meta != nil {
		sessionID = meta.SessionID
	}
	for {
		select {
		case e := <-events:
			payload, err := adapter.Marshal(sessionID, e)
			if err != nil {
				s.logger.Warn("websocket marshal failed", map[string]any{"error": err.Error()})
				continue
			}
			if dropped := s.hub.Broadcast(payload); dropped > 0 {
				s.logger.Info("dropped slow websocket clients", map[string]any{"count": dropped})
			}
		case <-ctx.Done():
			return
		}
	}
}
