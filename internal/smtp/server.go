package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/shineum/mail-sink/internal/provider"
)

// shutdownTimeout bounds how long ListenAndServe waits for open sessions.
const shutdownTimeout = 30 * time.Second

// ServerConfig holds the configuration for an SMTP server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":2525").
	ListenAddr string

	// Hostname is announced in the greeting and EHLO response.
	Hostname string

	// Handler receives every accepted message, normally the mail dispatcher.
	Handler provider.Provider

	// TLSConfig enables STARTTLS when non-nil.
	TLSConfig *tls.Config

	// AuthUsername and AuthPassword require SMTP AUTH when both are set.
	AuthUsername string
	AuthPassword string

	MaxMessageSize int64

	// ConnectionsPerMinute limits new connections per client IP. Zero
	// disables the limit.
	ConnectionsPerMinute int
}

// Server accepts SMTP connections and runs one Session per connection.
type Server struct {
	config  ServerConfig
	auth    *Authenticator
	limiter *connLimiter

	mu       sync.Mutex
	listener net.Listener

	wg sync.WaitGroup
}

// New creates a Server.
func New(cfg ServerConfig) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	s := &Server{
		config: cfg,
		auth:   NewAuthenticator(cfg.AuthUsername, cfg.AuthPassword),
	}
	if cfg.ConnectionsPerMinute > 0 {
		s.limiter = newConnLimiter(cfg.ConnectionsPerMinute)
	}
	return s
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes ln and
// waits up to 30 seconds for in-flight sessions.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	slog.Info("SMTP server listening",
		"addr", ln.Addr().String(),
		"handler", s.config.Handler.Name(),
		"auth_enabled", s.auth.Enabled(),
		"tls_enabled", s.config.TLSConfig != nil,
		"connections_per_minute", s.config.ConnectionsPerMinute,
	)

	stop := context.AfterFunc(ctx, func() {
		slog.Info("shutting down SMTP server")
		ln.Close()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.waitForSessions()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			slog.Error("accept error", "error", err)
			continue
		}

		if s.limiter != nil && !s.limiter.Allow(conn.RemoteAddr()) {
			slog.Warn("connection rate limit exceeded", "remote", conn.RemoteAddr().String())
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			_, _ = conn.Write([]byte("421 Too many connections, try again later\r\n"))
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			NewSession(conn, SessionOptions{
				Hostname:       s.config.Hostname,
				Auth:           s.auth,
				Handler:        s.config.Handler,
				TLSConfig:      s.config.TLSConfig,
				MaxMessageSize: s.config.MaxMessageSize,
			}).Handle(ctx)
		}()
	}
}

func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all sessions completed")
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timeout reached, forcing close")
	}
}

// Addr returns the listener address, or "" before Serve is called.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
