package geminiserver

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/venlock/capsuled/internal/access"
	"github.com/venlock/capsuled/internal/content"
	"github.com/venlock/capsuled/internal/telemetry/metric"
	"github.com/venlock/capsuled/pkg/cmap"
)

// Config holds the Gemini server configuration.
type Config struct {
	// Addr is the listen address.
	Addr string
	// MaxConns is the concurrency ceiling. While this many connections
	// are in flight the accept loop stalls and new clients wait in the
	// kernel backlog.
	MaxConns int
	// HandshakeTimeout bounds the TLS handshake.
	HandshakeTimeout time.Duration
	// ReadTimeout bounds reading the request line after the handshake.
	// Helps prevent slowloris attacks.
	ReadTimeout time.Duration
	// WriteTimeout bounds writing the full response, body included.
	WriteTimeout time.Duration
	// ShutdownGrace is how long Shutdown waits for in-flight
	// connections before force-closing them.
	ShutdownGrace time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:             ":1965",
		MaxConns:         256,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     60 * time.Second,
		ShutdownGrace:    15 * time.Second,
	}
}

// Server represents the Gemini protocol server.
type Server struct {
	cfg       *Config
	tlsConfig *tls.Config
	resolver  *content.Resolver
	auth      *access.Authorizer
	limiter   *access.LimiterRegistry
	metrics   *metric.Registry
	logger    *slog.Logger

	ln      net.Listener
	sem     chan struct{}
	conns   *cmap.Map[string, net.Conn]
	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a new Gemini protocol server. The limiter and metrics
// registry may be nil; rate limiting and instrumentation are then
// disabled.
func New(cfg *Config, tlsConfig *tls.Config, resolver *content.Resolver, auth *access.Authorizer, limiter *access.LimiterRegistry, metrics *metric.Registry, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultConfig().MaxConns
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		cfg:       cfg,
		tlsConfig: tlsConfig,
		resolver:  resolver,
		auth:      auth,
		limiter:   limiter,
		metrics:   metrics,
		logger:    logger,
		sem:       make(chan struct{}, cfg.MaxConns),
		conns:     cmap.New[string, net.Conn](),
	}
}

// Start binds the listener and launches the accept loop. The listen
// error is returned synchronously; accept errors after that are logged.
func (s *Server) Start(ctx context.Context) error {
	ln, err := tls.Listen("tcp", s.cfg.Addr, s.tlsConfig)
	if err != nil {
		return err
	}
	s.ln = ln
	s.running.Store(true)

	s.logger.Info("gemini server listening", "address", ln.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.acceptLoop(ctx); err != nil && s.running.Load() {
			s.logger.Error("accept loop error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ActiveConns returns the number of connections currently in flight.
func (s *Server) ActiveConns() int {
	return s.conns.Len()
}

// Shutdown stops accepting, then waits up to the grace period for
// in-flight connections. Connections still open after the grace period
// are force-closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	var firstErr error
	if s.ln != nil {
		if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			firstErr = err
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := s.cfg.ShutdownGrace
	if grace <= 0 {
		grace = DefaultConfig().ShutdownGrace
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return firstErr
	case <-ctx.Done():
	case <-timer.C:
	}

	// Grace expired: sever the stragglers so the wait can finish.
	forced := 0
	s.conns.Range(func(_ string, c net.Conn) bool {
		_ = c.Close()
		forced++
		return true
	})
	if forced > 0 {
		s.logger.Warn("force-closed connections at shutdown", "count", forced)
	}

	<-done
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	return firstErr
}

// acceptLoop accepts connections, one goroutine each. A concurrency
// slot is acquired before Accept so the ceiling is enforced at the
// accept step, not after.
func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		c, err := s.ln.Accept()
		if err != nil {
			<-s.sem
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		id := ulid.Make().String()
		s.conns.Set(id, c)
		if s.metrics != nil {
			s.metrics.ConnectionsTotal.Inc()
			s.metrics.ConnectionsActive.Inc()
		}

		s.wg.Add(1)
		go func() {
			defer func() {
				s.conns.Delete(id)
				if s.metrics != nil {
					s.metrics.ConnectionsActive.Dec()
				}
				<-s.sem
				s.wg.Done()
			}()
			s.serveConn(ctx, id, c)
		}()
	}
}
