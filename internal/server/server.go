// Package server hosts authoritative environments: it applies transactions to
// their registries and relays them to connected peers over websocket or QUIC.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/umi3d/umisync/internal/core/events/bus"
	"github.com/umi3d/umisync/internal/core/observability/log"
	"github.com/umi3d/umisync/internal/core/observability/metrics"
	"github.com/umi3d/umisync/internal/core/registry"
	"github.com/umi3d/umisync/internal/transport"
)

// Config holds server configuration
type Config struct {
	HTTPAddr string
	// QUICAddr enables the QUIC listener when set.
	QUICAddr string
	// TLS is used by the QUIC listener. A self-signed certificate is
	// generated when nil.
	TLS *tls.Config

	DefaultEnvironment string
	MaxPeers           int
	AuthTokens         []string
	AllowedOrigins     []string

	StrictMissingEntity bool
	WaitTimeout         time.Duration
	SendTimeout         time.Duration

	// RateLimit caps the transactions a peer may send per RateWindow. Extra
	// transactions are dropped. Zero disables the limit.
	RateLimit  int
	RateWindow time.Duration
	// Clock defaults to the real clock.
	Clock clockwork.Clock

	Transport transport.Options
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		HTTPAddr:           "127.0.0.1:8080",
		DefaultEnvironment: "default",
		MaxPeers:           10_000,
		WaitTimeout:        30 * time.Second,
		SendTimeout:        5 * time.Second,
		Transport:          transport.DefaultOptions(),
	}
}

func (c Config) Validate() error {
	switch {
	case c.HTTPAddr == "":
		return fmt.Errorf("%w: empty http address", ErrInvalidConfig)
	case c.DefaultEnvironment == "":
		return fmt.Errorf("%w: empty default environment", ErrInvalidConfig)
	case c.MaxPeers <= 0:
		return fmt.Errorf("%w: max peers must be positive", ErrInvalidConfig)
	case c.SendTimeout <= 0:
		return fmt.Errorf("%w: send timeout must be positive", ErrInvalidConfig)
	case c.RateLimit < 0 || c.RateWindow < 0:
		return fmt.Errorf("%w: negative rate limit", ErrInvalidConfig)
	}
	return nil
}

// Server hosts environments and their peers.
type Server struct {
	config     Config
	logger     log.Log
	bus        bus.EventBus
	federation *registry.Federation
	auth       Authenticator
	upgrader   *transport.WebsocketUpgrader
	observer   *busObserver

	mu   sync.Mutex
	envs map[string]*Environment

	peerCount atomic.Int64
	running   atomic.Bool
	closed    atomic.Bool

	ctx        context.Context
	cancel     context.CancelFunc
	httpServer *http.Server
	httpAddr   net.Addr
	quic       *transport.QUICListener
	workers    sync.WaitGroup
}

// New creates a server. eventBus may be nil.
func New(config Config, logger log.Log, eventBus bus.EventBus) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Provide()
	}
	logger = logger.With(log.Component("server"))
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	opts := []registry.Option{
		registry.WithLogger(logger),
		registry.WithWaitTimeout(config.WaitTimeout),
		registry.WithClock(config.Clock),
	}
	if eventBus != nil {
		opts = append(opts, registry.WithBus(eventBus))
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     config,
		logger:     logger,
		bus:        eventBus,
		federation: registry.NewFederation(opts...),
		auth:       NewTokenAuth(config.AuthTokens...),
		upgrader:   transport.NewWebsocketUpgrader(config.Transport, config.AllowedOrigins, logger),
		envs:       make(map[string]*Environment),
		ctx:        ctx,
		cancel:     cancel,
	}
	if eventBus != nil {
		s.observer = &busObserver{logger: logger}
		eventBus.AddObserver(s.observer)
	}
	s.logger.Info("server created",
		log.String("http_addr", config.HTTPAddr),
		log.String("quic_addr", config.QUICAddr),
		log.Int("max_peers", config.MaxPeers))
	return s, nil
}

// Environment returns the environment with the given id, opening it when
// needed. Environments obtained here stay open until the server closes.
func (s *Server) Environment(id string) (*Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.openLocked(id)
	if err != nil {
		return nil, err
	}
	e.pinned = true
	return e, nil
}

// attach returns the environment a peer joins. Environments opened by peers
// are closed again when their last peer leaves.
func (s *Server) attach(id string) (*Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.openLocked(id)
	if err != nil {
		return nil, err
	}
	e.refs++
	return e, nil
}

// detach closes an environment opened by peers once its last peer leaves. Its
// registry leaves the federation under s.mu.
func (s *Server) detach(e *Environment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs > 0 || e.pinned || e.id == s.config.DefaultEnvironment || s.envs[e.id] != e {
		return
	}
	delete(s.envs, e.id)
	e.close()
	if s.bus != nil {
		s.bus.RemoveTopic(e.id)
	}
	if err := s.federation.CloseEnvironment(e.id); err != nil {
		s.logger.Debug("failed to close environment", log.Environment(e.id), log.Error(err))
	}
	s.logger.Info("environment closed", log.Environment(e.id))
}

func (s *Server) openLocked(id string) (*Environment, error) {
	if s.closed.Load() {
		return nil, ErrServerClosed
	}
	if e, ok := s.envs[id]; ok {
		return e, nil
	}
	reg, err := s.federation.Open(id)
	if err != nil {
		return nil, err
	}
	e, err := newEnvironment(reg, s.bus, s.config, s.logger)
	if err != nil {
		_ = s.federation.CloseEnvironment(id)
		return nil, err
	}
	s.envs[id] = e
	s.logger.Info("environment opened", log.Environment(id))
	return e, nil
}

// Start listens on the configured addresses and returns once they are bound.
func (s *Server) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.HTTPAddr)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("listen %s: %w", s.config.HTTPAddr, err)
	}
	s.httpAddr = ln.Addr()
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", log.Error(err))
		}
	}()

	if s.config.QUICAddr != "" {
		if err := s.startQUIC(); err != nil {
			_ = s.httpServer.Close()
			s.running.Store(false)
			return err
		}
	}

	s.logger.Info("server listening", log.String("addr", s.httpAddr.String()))
	return nil
}

func (s *Server) startQUIC() error {
	tlsConf := s.config.TLS
	if tlsConf == nil {
		var err error
		if tlsConf, err = transport.GenerateSelfSignedTLS(); err != nil {
			return fmt.Errorf("generate certificate: %w", err)
		}
		s.logger.Warn("quic listener uses a self-signed certificate")
	}
	ln, err := transport.ListenQUIC(s.config.QUICAddr, tlsConf, s.config.Transport, s.logger)
	if err != nil {
		return err
	}
	s.quic = ln

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		s.acceptQUIC()
	}()
	return nil
}

// acceptQUIC places every QUIC peer in the default environment.
func (s *Server) acceptQUIC() {
	for {
		conn, err := s.quic.Accept(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("failed to accept quic peer", log.Error(err))
			continue
		}
		if err := s.admit(); err != nil {
			s.logger.Warn("quic peer rejected", log.Error(err))
			_ = conn.Close()
			continue
		}
		env, err := s.attach(s.config.DefaultEnvironment)
		if err != nil {
			s.release()
			_ = conn.Close()
			continue
		}
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			s.servePeer(s.ctx, env, conn)
		}()
	}
}

// Addr returns the bound HTTP address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.httpAddr
}

// QUICAddr returns the bound QUIC address, or nil when QUIC is disabled.
func (s *Server) QUICAddr() net.Addr {
	if s.quic == nil {
		return nil
	}
	return s.quic.Addr()
}

// Stop disconnects every peer and stops listening.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrServerNotRunning
	}
	s.logger.Info("stopping server")
	s.cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.quic != nil {
		_ = s.quic.Close()
	}
	s.disconnectAll()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info("server stopped")
	return err
}

// Close stops the server when running and closes every environment.
func (s *Server) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.running.Load() {
		_ = s.Stop(ctx)
	}
	s.cancel()
	s.disconnectAll()
	if s.observer != nil {
		s.bus.RemoveObserver(s.observer)
	}
	return s.federation.Close(ctx)
}

func (s *Server) disconnectAll() {
	s.mu.Lock()
	envs := make([]*Environment, 0, len(s.envs))
	for _, e := range s.envs {
		envs = append(envs, e)
	}
	s.mu.Unlock()
	for _, e := range envs {
		e.close()
	}
}

func (s *Server) admit() error {
	if s.peerCount.Add(1) > int64(s.config.MaxPeers) {
		s.peerCount.Add(-1)
		return ErrMaxPeersReached
	}
	return nil
}

func (s *Server) release() {
	s.peerCount.Add(-1)
}

// servePeer joins conn to env and relays its frames until it disconnects.
// env must come from attach.
func (s *Server) servePeer(ctx context.Context, env *Environment, conn transport.Conn) {
	defer s.release()
	defer s.detach(env)
	logger := s.logger.With(log.Peer(conn.ID()), log.Environment(env.ID()))

	if err := env.join(ctx, conn); err != nil {
		logger.Warn("peer failed to join", log.Error(err))
		_ = conn.Close()
		return
	}
	s.publishPeer(EventPeerJoined, env, conn)
	defer func() {
		env.leave(conn.ID())
		s.publishPeer(EventPeerLeft, env, conn)
	}()

	limiter := newRateLimiter(s.config.Clock, s.config.RateLimit, s.config.RateWindow)
	for {
		f, err := conn.Receive(ctx)
		if err != nil {
			if !errors.Is(err, transport.ErrConnectionClosed) && ctx.Err() == nil {
				logger.Debug("peer read failed", log.Error(err))
			}
			return
		}
		if !limiter.Allow() {
			metrics.ReportRateLimited(env.ID())
			logger.Warn("rate limit exceeded, transaction dropped", log.Int("limit", s.config.RateLimit))
			continue
		}
		if err := env.relay(ctx, conn.ID(), f); err != nil {
			logger.Warn("peer transaction rejected", log.Error(err))
		}
	}
}

// Stats contains server statistics
type Stats struct {
	Running      bool           `json:"running"`
	Peers        int64          `json:"peers"`
	Environments map[string]int `json:"environments"`
	// Events and Topics describe the event bus, when the server has one.
	Events *bus.EventBusMetrics `json:"events,omitempty"`
	Topics []bus.TopicInfo      `json:"topics,omitempty"`
}

func (s *Server) Stats() Stats {
	st := Stats{
		Running:      s.running.Load(),
		Peers:        s.peerCount.Load(),
		Environments: make(map[string]int),
	}
	if s.bus != nil {
		events := s.bus.GetMetrics()
		st.Events = &events
		st.Topics = s.bus.GetTopics()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.envs {
		st.Environments[id] = e.reg.Len()
	}
	return st
}

// Handler serves /ws, /metrics, /stats and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.Stats())
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Authenticate(r); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	envID := r.URL.Query().Get("env")
	if envID == "" {
		envID = s.config.DefaultEnvironment
	}
	if s.closed.Load() {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	if err := s.admit(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.release()
		s.logger.Debug("websocket upgrade failed", log.Error(err))
		return
	}
	env, err := s.attach(envID)
	if err != nil {
		s.release()
		s.logger.Warn("peer could not join environment", log.Environment(envID), log.Error(err))
		_ = conn.Close()
		return
	}
	s.servePeer(s.ctx, env, conn)
}
