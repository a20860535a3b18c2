package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/teemow/studygroup/internal/instrumentation"
	"github.com/teemow/studygroup/internal/meeting"
	"github.com/teemow/studygroup/internal/session"
	"github.com/teemow/studygroup/internal/store"
)

const (
	// DefaultHTTPAddr is the application listen address.
	DefaultHTTPAddr = ":8080"

	defaultReadHeaderTimeout = 10 * time.Second
	// Writes must outlast the meeting timeout.
	defaultWriteTimeout = 60 * time.Second
	defaultIdleTimeout  = 120 * time.Second
)

// Meetings is the meeting workflow the handlers drive.
type Meetings interface {
	CreateMeeting(ctx context.Context, user store.UserRecord, req meeting.Request) (store.MeetingRecord, error)
	JoinMeeting(ctx context.Context, user store.UserRecord, meetingID string) (string, error)
	Dashboard(ctx context.Context, user store.UserRecord) ([]store.MeetingRecord, error)
	Authorize() (*meeting.RedirectRequiredError, error)
	CompleteAuthorization(ctx context.Context, user store.UserRecord, expectedState, state, code string) error
}

// Config holds the server's collaborators and settings.
type Config struct {
	Addr    string
	Version string

	Store       store.Store
	Meetings    Meetings
	Gate        *session.Gate
	Credentials TokenChecker

	// AuthRate and AuthBurst limit login and register per client IP.
	AuthRate  float64
	AuthBurst int

	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
	Logger  *slog.Logger
}

// Server is the study group HTTP application.
type Server struct {
	store       store.Store
	meetings    Meetings
	gate        *session.Gate
	credentials TokenChecker
	limiter     *RateLimiter
	metrics     *instrumentation.Metrics
	audit       *instrumentation.AuditLogger
	logger      *slog.Logger

	serverContext *ServerContext
	health        *HealthChecker
	handler       http.Handler
	httpServer    *http.Server
}

// New builds the server and its routes. Call Shutdown to release the rate
// limiter's janitor even when the server never started.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Store == nil || cfg.Meetings == nil || cfg.Gate == nil || cfg.Credentials == nil {
		return nil, fmt.Errorf("store, meetings, gate and credentials are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultHTTPAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		store:         cfg.Store,
		meetings:      cfg.Meetings,
		gate:          cfg.Gate,
		credentials:   cfg.Credentials,
		limiter:       NewRateLimiter(cfg.AuthRate, cfg.AuthBurst),
		metrics:       cfg.Metrics,
		audit:         cfg.Audit,
		logger:        cfg.Logger,
		serverContext: NewServerContext(ctx),
	}
	s.health = NewHealthChecker(s.serverContext, cfg.Store, cfg.Credentials, cfg.Version)

	mux := http.NewServeMux()
	s.health.RegisterHealthEndpoints(mux)
	s.routes(mux)
	s.handler = instrument(securityHeaders(mux), cfg.Metrics, cfg.Logger)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.serverContext.Context() },
	}
	return s, nil
}

// Handler returns the fully wrapped application handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Health returns the server's health checker.
func (s *Server) Health() *HealthChecker { return s.health }

// Start listens on the configured address and blocks until shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln and blocks until shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown fails readiness, drains in-flight requests and stops background
// work.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	s.limiter.Stop()

	err := s.httpServer.Shutdown(ctx)
	s.serverContext.Shutdown()
	return err
}
