package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/oauth2"

	"github.com/teemow/studygroup/internal/calendar"
	"github.com/teemow/studygroup/internal/google"
	"github.com/teemow/studygroup/internal/instrumentation"
	"github.com/teemow/studygroup/internal/logging"
	"github.com/teemow/studygroup/internal/meeting"
	"github.com/teemow/studygroup/internal/server"
	"github.com/teemow/studygroup/internal/session"
	"github.com/teemow/studygroup/internal/store"
)

const (
	defaultBaseURL    = "http://localhost:8080"
	defaultJSONPath   = "users.json"
	defaultSQLitePath = "studygroup.db"
	defaultTokenFile  = "token.json"
	oauthCallbackPath = "/oauth2callback"
)

// serveConfig holds every serve setting.
type serveConfig struct {
	httpAddr string
	baseURL  string

	storeBackend string
	storePath    string

	tokenFile          string
	tokenEncryptionKey string

	googleClientID          string
	googleClientSecret      string
	googleClientSecretsFile string

	sessionSecret string
	secureCookies bool
	adminUsername string
	authRate      float64
	authBurst     int

	meetingTimezone      string
	calendarTimeout      time.Duration
	deleteOrphanedEvents bool

	metricsEnabled bool
	metricsAddr    string

	debug     bool
	logFormat string
}

// envBindings maps flags to the environment variables that set them when the
// flag is not given on the command line.
var envBindings = map[string]string{
	"http-addr":                  "HTTP_ADDR",
	"base-url":                   "BASE_URL",
	"store-backend":              "STORE_BACKEND",
	"store-path":                 "STORE_PATH",
	"token-file":                 "TOKEN_FILE",
	"token-encryption-key":       "TOKEN_ENCRYPTION_KEY",
	"google-client-id":           "GOOGLE_CLIENT_ID",
	"google-client-secret":       "GOOGLE_CLIENT_SECRET",
	"google-client-secrets-file": "GOOGLE_CLIENT_SECRETS_FILE",
	"session-secret":             "SESSION_SECRET",
	"secure-cookies":             "SECURE_COOKIES",
	"admin-username":             "ADMIN_USERNAME",
	"auth-rate":                  "AUTH_RATE",
	"auth-burst":                 "AUTH_BURST",
	"meeting-timezone":           "MEETING_TIMEZONE",
	"calendar-timeout":           "CALENDAR_TIMEOUT",
	"delete-orphaned-events":     "DELETE_ORPHANED_EVENTS",
	"metrics-enabled":            "METRICS_ENABLED",
	"metrics-addr":               "METRICS_ADDR",
	"debug":                      "DEBUG",
	"log-format":                 "LOG_FORMAT",
}

func newServeCmd() *cobra.Command {
	cfg := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the studygroup HTTP server",
		Long: `Start the studygroup HTTP server.

The server needs a Google OAuth client (id and secret, or a client secrets
JSON file) with ` + "`<base-url>/oauth2callback`" + ` registered as redirect URI,
and a session secret of at least 32 bytes. The first meeting creation sends
the user through Google consent once; the granted token is stored in the
token file and refreshed automatically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadDotEnv(".env"); err != nil {
				return err
			}
			if err := applyEnv(cmd.Flags(), os.LookupEnv); err != nil {
				return err
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.httpAddr, "http-addr", server.DefaultHTTPAddr, "HTTP server address. Can also use HTTP_ADDR env var.")
	f.StringVar(&cfg.baseURL, "base-url", defaultBaseURL, "Public base URL; the OAuth redirect URI is <base-url>/oauth2callback. Can also use BASE_URL env var.")
	f.StringVar(&cfg.storeBackend, "store-backend", instrumentation.BackendJSON, "User store backend: json or sqlite. Can also use STORE_BACKEND env var.")
	f.StringVar(&cfg.storePath, "store-path", "", "User store file (default users.json or studygroup.db by backend). Can also use STORE_PATH env var.")
	f.StringVar(&cfg.tokenFile, "token-file", defaultTokenFile, "File holding the calendar OAuth token. Can also use TOKEN_FILE env var.")
	f.StringVar(&cfg.tokenEncryptionKey, "token-encryption-key", "", "AES-256 key for the token file (32 bytes, base64 encoded). Generate with: openssl rand -base64 32. Can also use TOKEN_ENCRYPTION_KEY env var.")
	f.StringVar(&cfg.googleClientID, "google-client-id", "", "Google OAuth client ID. Can also use GOOGLE_CLIENT_ID env var.")
	f.StringVar(&cfg.googleClientSecret, "google-client-secret", "", "Google OAuth client secret. Can also use GOOGLE_CLIENT_SECRET env var.")
	f.StringVar(&cfg.googleClientSecretsFile, "google-client-secrets-file", "", "Google client secrets JSON downloaded from the cloud console, instead of id and secret. Can also use GOOGLE_CLIENT_SECRETS_FILE env var.")
	f.StringVar(&cfg.sessionSecret, "session-secret", "", "HMAC secret for session cookies, at least 32 bytes. Can also use SESSION_SECRET env var.")
	f.BoolVar(&cfg.secureCookies, "secure-cookies", false, "Mark session cookies Secure; implied by an https base URL. Can also use SECURE_COOKIES env var.")
	f.StringVar(&cfg.adminUsername, "admin-username", session.DefaultAdminUsername, "Username allowed to list all users. Can also use ADMIN_USERNAME env var.")
	f.Float64Var(&cfg.authRate, "auth-rate", server.DefaultAuthRate, "Login/register requests per second per client IP. Can also use AUTH_RATE env var.")
	f.IntVar(&cfg.authBurst, "auth-burst", server.DefaultAuthBurst, "Login/register burst per client IP. Can also use AUTH_BURST env var.")
	f.StringVar(&cfg.meetingTimezone, "meeting-timezone", "UTC", "IANA time zone meeting dates and times are entered in. Can also use MEETING_TIMEZONE env var.")
	f.DurationVar(&cfg.calendarTimeout, "calendar-timeout", meeting.DefaultTimeout, "Upper bound for one meeting creation including token refresh. Can also use CALENDAR_TIMEOUT env var.")
	f.BoolVar(&cfg.deleteOrphanedEvents, "delete-orphaned-events", false, "Delete a calendar event again when its meeting could not be saved. Can also use DELETE_ORPHANED_EVENTS env var.")
	f.BoolVar(&cfg.metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	f.StringVar(&cfg.metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")
	f.BoolVar(&cfg.debug, "debug", false, "Enable debug logging. Can also use DEBUG env var.")
	f.StringVar(&cfg.logFormat, "log-format", logging.FormatText, "Log format: text or json. Can also use LOG_FORMAT env var.")

	return cmd
}

// loadDotEnv loads path into the environment. Variables already set win.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

// applyEnv sets every flag not given on the command line from its
// environment variable.
func applyEnv(flags *pflag.FlagSet, lookup func(string) (string, bool)) error {
	for name, env := range envBindings {
		if flags.Changed(name) {
			continue
		}
		value, ok := lookup(env)
		if !ok || value == "" {
			continue
		}
		if err := flags.Set(name, value); err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
	}
	return nil
}

func (c *serveConfig) validate() error {
	switch c.storeBackend {
	case instrumentation.BackendJSON, instrumentation.BackendSQLite:
	default:
		return fmt.Errorf("invalid store backend %q, must be json or sqlite", c.storeBackend)
	}

	if c.googleClientSecretsFile == "" && (c.googleClientID == "" || c.googleClientSecret == "") {
		return fmt.Errorf("google client id and secret (or --google-client-secrets-file) are required")
	}

	if len(c.sessionSecret) < session.MinSecretLength {
		return fmt.Errorf("session secret must be at least %d bytes", session.MinSecretLength)
	}

	if _, err := c.location(); err != nil {
		return err
	}
	if _, err := c.redirectURL(); err != nil {
		return err
	}

	switch c.logFormat {
	case logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("invalid log format %q, must be text or json", c.logFormat)
	}
	return nil
}

func (c *serveConfig) location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.meetingTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid meeting timezone %q: %w", c.meetingTimezone, err)
	}
	if loc.String() == "Local" {
		return nil, fmt.Errorf("meeting timezone must be a named IANA zone")
	}
	return loc, nil
}

// redirectURL is the OAuth callback registered with Google.
func (c *serveConfig) redirectURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid base URL scheme %q, must be http or https", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base URL %q has no host", c.baseURL)
	}
	return strings.TrimSuffix(u.String(), "/") + oauthCallbackPath, nil
}

func (c *serveConfig) resolvedStorePath() string {
	if c.storePath != "" {
		return c.storePath
	}
	if c.storeBackend == instrumentation.BackendSQLite {
		return defaultSQLitePath
	}
	return defaultJSONPath
}

func (c *serveConfig) cookiesSecure() bool {
	return c.secureCookies || strings.HasPrefix(c.baseURL, "https://")
}

func (c *serveConfig) oauthConfig() (*oauth2.Config, error) {
	redirect, err := c.redirectURL()
	if err != nil {
		return nil, err
	}
	if c.googleClientSecretsFile != "" {
		return google.OAuthConfigFromFile(c.googleClientSecretsFile, redirect)
	}
	return google.NewOAuthConfig(c.googleClientID, c.googleClientSecret, redirect), nil
}

func openStore(ctx context.Context, c *serveConfig, logger *slog.Logger, metrics *instrumentation.Metrics) (store.Store, error) {
	opts := []store.Option{store.WithLogger(logging.NewSlogAdapter(logging.WithComponent(logger, "store")))}
	path := c.resolvedStorePath()

	var (
		s   store.Store
		err error
	)
	switch c.storeBackend {
	case instrumentation.BackendSQLite:
		s, err = store.NewSQLiteStore(ctx, path, opts...)
	default:
		s, err = store.NewJSONStore(path, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store at %s: %w", c.storeBackend, path, err)
	}
	return store.NewInstrumented(s, c.storeBackend, metrics), nil
}

func openCredentials(c *serveConfig, logger *slog.Logger, metrics *instrumentation.Metrics) (*google.CredentialStore, error) {
	oauthCfg, err := c.oauthConfig()
	if err != nil {
		return nil, err
	}

	var enc *google.TokenEncryption
	if c.tokenEncryptionKey != "" {
		key, err := google.EncryptionKeyFromBase64(c.tokenEncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid token encryption key: %w", err)
		}
		if enc, err = google.NewTokenEncryption(key); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("token file is stored unencrypted; set --token-encryption-key for production")
	}

	tokens, err := google.NewFileTokenStore(c.tokenFile, enc)
	if err != nil {
		return nil, err
	}
	return google.NewCredentialStore(oauthCfg, tokens,
		google.WithMetrics(metrics),
		google.WithLogger(logging.NewSlogAdapter(logging.WithComponent(logger, "google"))),
	), nil
}

func runServe(cfg *serveConfig) error {
	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logging.New(os.Stderr, cfg.logFormat, cfg.debug)
	slog.SetDefault(logger)

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("instrumentation shutdown failed", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()
	audit := provider.AuditLogger(logger)

	st, err := openStore(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close store", logging.Err(err))
		}
	}()

	creds, err := openCredentials(cfg, logger, metrics)
	if err != nil {
		return err
	}

	loc, err := cfg.location()
	if err != nil {
		return err
	}

	cal := calendar.NewClient(
		calendar.WithMetrics(metrics),
		calendar.WithLogger(logging.NewSlogAdapter(logging.WithComponent(logger, "calendar"))),
	)

	orchestrator := meeting.New(creds, cal, st,
		meeting.WithLocation(loc),
		meeting.WithTimeout(cfg.calendarTimeout),
		meeting.WithDeleteOrphanedEvents(cfg.deleteOrphanedEvents),
		meeting.WithMetrics(metrics),
		meeting.WithAuditLogger(audit),
		meeting.WithLogger(logging.NewSlogAdapter(logging.WithComponent(logger, "meeting"))),
	)

	sessions, err := session.NewManager([]byte(cfg.sessionSecret), session.WithSecureCookie(cfg.cookiesSecure()))
	if err != nil {
		return err
	}
	gate := session.NewGate(sessions, st,
		session.WithAdminUsername(cfg.adminUsername),
		session.WithGateLogger(logging.NewSlogAdapter(logging.WithComponent(logger, "session"))),
	)

	srv, err := server.New(ctx, server.Config{
		Addr:        cfg.httpAddr,
		Version:     version,
		Store:       st,
		Meetings:    orchestrator,
		Gate:        gate,
		Credentials: creds,
		AuthRate:    cfg.authRate,
		AuthBurst:   cfg.authBurst,
		Metrics:     metrics,
		Audit:       audit,
		Logger:      logging.WithComponent(logger, "http"),
	})
	if err != nil {
		return err
	}

	var metricsServer *server.MetricsServer
	if cfg.metricsEnabled && provider.Handler() != nil {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.metricsAddr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
	}

	errs := make(chan error, 2)
	if metricsServer != nil {
		go func() { errs <- metricsServer.Start() }()
	}
	go func() { errs <- srv.Start() }()

	redirect, _ := cfg.redirectURL()
	logger.Info("studygroup started",
		"version", version,
		"addr", cfg.httpAddr,
		"store_backend", cfg.storeBackend,
		"oauth_redirect_url", redirect,
		"calendar_authorized", creds.HasToken())

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errs:
		logger.Error("server stopped unexpectedly", logging.Err(serveErr))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancelShutdown()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", logging.Err(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", logging.Err(err))
	}
	return serveErr
}
