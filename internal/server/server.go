// Package server exposes the event bus to websocket clients and serves
// health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/behave/internal/core/events/bus"
	"github.com/zeusync/behave/internal/core/manager"
	"github.com/zeusync/behave/internal/core/observability/log"
)

// Config holds server configuration
type Config struct {
	ListenAddr string
	MaxClients int
	// Token, when set, is required from every websocket client.
	Token string

	// Topic receives client events; StatusTopic is relayed to clients.
	Topic       string
	StatusTopic string

	WriteTimeout      time.Duration
	MaxMessageSize    int64
	MessageBufferSize int
	ShutdownTimeout   time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	return Config{
		ListenAddr:        ":8080",
		MaxClients:        10_000,
		Topic:             manager.DefaultTopic,
		StatusTopic:       manager.DefaultStatusTopic,
		WriteTimeout:      5 * time.Second,
		MaxMessageSize:    64 * 1024,
		MessageBufferSize: 64,
		ShutdownTimeout:   5 * time.Second,
	}
}

// Server is the websocket gateway between clients and the event bus.
type Server struct {
	config  Config
	bus     bus.EventBus
	auth    TokenAuth
	metrics http.Handler
	logger  log.Log

	mux        *http.ServeMux
	httpServer *http.Server
	listener   net.Listener
	statusSub  bus.Subscription

	// mu guards clients, listener and httpServer.
	mu          sync.RWMutex
	clients     map[string]*client
	clientCount atomic.Int64

	running atomic.Bool
	closed  atomic.Bool
}

type Option func(*Server)

func WithLogger(l log.Log) Option { return func(s *Server) { s.logger = l } }

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// NewServer subscribes to the status topic of b and builds the routes. The
// handler is usable before Start, e.g. under httptest.
func NewServer(config Config, b bus.EventBus, opts ...Option) (*Server, error) {
	defaults := DefaultServerConfig()
	if config.Topic == "" {
		config.Topic = defaults.Topic
	}
	if config.StatusTopic == "" {
		config.StatusTopic = defaults.StatusTopic
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}
	if config.MessageBufferSize <= 0 {
		config.MessageBufferSize = defaults.MessageBufferSize
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	s := &Server{
		config:  config,
		bus:     b,
		auth:    TokenAuth{Token: config.Token},
		clients: make(map[string]*client),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.NewNop()
	}
	s.logger = s.logger.With(log.String("component", "server"))

	if err := b.CreateTopic(config.StatusTopic, bus.TopicConfig{Description: "tree outcomes"}); err != nil {
		return nil, err
	}
	sub, err := b.SubscribeTopic(config.StatusTopic, manager.StatusEventType, s.relayStatus)
	if err != nil {
		return nil, err
	}
	s.statusSub = sub

	s.mux = http.NewServeMux()
	s.mux.Handle("GET /ws", s.auth.Middleware(http.HandlerFunc(s.handleWebSocket)))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}

	s.logger.Info("Server created",
		log.String("listen_addr", config.ListenAddr),
		log.Int("max_clients", config.MaxClients),
		log.Bool("auth", s.auth.Enabled()))
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.mux }

// Addr is the bound listen address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.config.ListenAddr
	}
	return s.listener.Addr().String()
}

func (s *Server) ClientCount() int { return int(s.clientCount.Load()) }

// Start listens on ListenAddr and serves in the background.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		s.running.Store(false)
		s.logger.Error("Failed to create listener", log.Error(err))
		return fmt.Errorf("%w: %w", ErrListenerFailed, err)
	}
	srv := &http.Server{Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	s.mu.Lock()
	s.listener = ln
	s.httpServer = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server stopped serving", log.Error(err))
		}
	}()
	s.logger.Info("Server listening", log.String("addr", ln.Addr().String()))
	return nil
}

// Stop shuts the listener down, disconnects every client and cancels the
// status subscription. The server cannot be restarted.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrServerClosed
	}
	_ = s.statusSub.Cancel()

	s.mu.RLock()
	httpServer := s.httpServer
	s.mu.RUnlock()
	var err error
	if httpServer != nil {
		err = httpServer.Shutdown(ctx)
	}

	s.mu.Lock()
	for id, c := range s.clients {
		c.close()
		delete(s.clients, id)
	}
	s.mu.Unlock()

	s.running.Store(false)
	s.logger.Info("Server stopped")
	return err
}

// Run starts the server and stops it when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := "ok"
	if s.closed.Load() {
		status = "closing"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(healthResponse{Status: status, Clients: s.ClientCount()})
}

// relayStatus fans a status report out to every client watching the actor.
// Clients whose buffer is full miss the report.
func (s *Server) relayStatus(e bus.Event) error {
	report, ok := e.Data().(manager.StatusReport)
	if !ok {
		return fmt.Errorf("%w: status payload %T", ErrInvalidMessage, e.Data())
	}
	msg, err := json.Marshal(report)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if !c.watches(report.Actor) {
			continue
		}
		if !c.enqueue(msg) {
			s.logger.Warn("Client buffer full, status dropped",
				log.String("client", c.id), log.String("actor", report.Actor))
		}
	}
	return nil
}
