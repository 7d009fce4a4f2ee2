package smtp

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"sync"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/shineum/smtp-gateway/internal/delivery"
	"github.com/shineum/smtp-gateway/internal/directory"
)

// shutdownTimeout is the maximum time to wait for in-flight connections
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// ServerConfig holds the configuration for an SMTP server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":587").
	ListenAddr string

	// Hostname is the server hostname used in the greeting and EHLO responses.
	Hostname string

	// TLSConfig is the TLS configuration for STARTTLS. Authentication is
	// only offered on connections upgraded with it.
	TLSConfig *tls.Config

	// Directory resolves tenant credentials.
	Directory directory.Directory

	// Delivery is the outbound email backend.
	Delivery delivery.Client

	// Observer receives session events. Defaults to a LogObserver.
	Observer Observer

	// Tracer creates session spans. Defaults to a no-op tracer.
	Tracer trace.Tracer

	// MaxMessageBytes limits the size of a message; zero means no limit.
	MaxMessageBytes int64

	// MaxRecipients limits RCPT commands per message; zero means no limit.
	MaxRecipients int

	// ReadTimeout and WriteTimeout bound a single read or write on a
	// connection; zero means no timeout.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Backend implements gosmtp.Backend. It creates one Session per connection.
type Backend struct {
	deps sessionDeps

	// ctx is the parent of every session context; cancelling it abandons
	// all in-flight deliveries.
	ctx    context.Context
	cancel context.CancelFunc

	// conns holds the connection of every open session, keyed by session.
	conns sync.Map
}

// NewSession implements gosmtp.Backend.
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	_, tlsActive := c.TLSConnectionState()
	conn := c.Conn()

	sess := newSession(b.ctx, b.deps, conn.RemoteAddr().String(), tlsActive)
	b.conns.Store(sess, conn)
	sess.onLogout = func() { b.conns.Delete(sess) }
	return sess, nil
}

// closeAll closes the connection of every open session.
func (b *Backend) closeAll() {
	b.conns.Range(func(_, v any) bool {
		_ = v.(net.Conn).Close()
		return true
	})
}

// Server is an SMTP submission server that authenticates tenants and relays
// their messages to the delivery backend.
type Server struct {
	config  ServerConfig
	backend *Backend
	smtp    *gosmtp.Server

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new SMTP Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.Observer == nil {
		cfg.Observer = NewLogObserver(nil)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("smtp-gateway")
	}

	ctx, cancel := context.WithCancel(context.Background())
	be := &Backend{
		deps: sessionDeps{
			auth:     NewAuthenticator(cfg.Directory),
			delivery: cfg.Delivery,
			observer: cfg.Observer,
			tracer:   cfg.Tracer,
		},
		ctx:    ctx,
		cancel: cancel,
	}

	srv := gosmtp.NewServer(be)
	srv.Addr = cfg.ListenAddr
	srv.Domain = cfg.Hostname
	srv.TLSConfig = cfg.TLSConfig
	srv.AllowInsecureAuth = false
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = cfg.MaxRecipients
	srv.ReadTimeout = cfg.ReadTimeout
	srv.WriteTimeout = cfg.WriteTimeout
	srv.ErrorLog = slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn)

	return &Server{
		config:  cfg,
		backend: be,
		smtp:    srv,
	}
}

// ListenAndServe listens on the configured address and serves until the
// context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and blocks until the context is cancelled.
// On cancellation it stops accepting new connections and waits up to 30
// seconds for open sessions to finish before closing them and abandoning
// their deliveries.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	slog.Info("SMTP server listening",
		"addr", ln.Addr().String(),
		"hostname", s.config.Hostname,
		"directory", s.config.Directory.Name(),
		"delivery", s.config.Delivery.Name(),
		"tls_enabled", s.config.TLSConfig != nil,
	)
	if s.config.TLSConfig == nil {
		slog.Warn("STARTTLS is not configured, no client will be able to authenticate")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.smtp.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.backend.cancel()
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down SMTP server")
	s.shutdown()
	<-errCh
	return nil
}

// shutdown drains open sessions, bounded by shutdownTimeout.
func (s *Server) shutdown() {
	defer s.backend.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.smtp.Shutdown(ctx); err != nil {
		slog.Warn("shutdown timeout reached, forcing close", "error", err)
		s.backend.cancel()
		s.backend.closeAll()
		return
	}
	slog.Info("all sessions completed")
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
