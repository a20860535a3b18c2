package google

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teemow/studygroup/internal/instrumentation"
	"github.com/teemow/studygroup/internal/logging"
)

var (
	// ErrAuthorizationRequired means no usable token exists and the user
	// must go through consent.
	ErrAuthorizationRequired = errors.New("google: authorization required")

	// ErrAuthFlowMismatch means the callback's state did not match the
	// state issued for this session, or the code was missing.
	ErrAuthFlowMismatch = errors.New("google: authorization state mismatch")
)

// refreshThreshold refreshes tokens that expire within this window.
const refreshThreshold = time.Minute

// NewOAuthConfig returns the OAuth2 configuration for the calendar scope
// against Google's endpoints.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       DefaultOAuthScopes,
	}
}

// OAuthConfigFromFile loads a client_secret.json downloaded from the Google
// Cloud console. redirectURL overrides the file's redirect URIs when set.
func OAuthConfigFromFile(path, redirectURL string) (*oauth2.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read client secrets file: %w", err)
	}
	conf, err := google.ConfigFromJSON(raw, DefaultOAuthScopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client secrets file: %w", err)
	}
	if redirectURL != "" {
		conf.RedirectURL = redirectURL
	}
	return conf, nil
}

// CredentialStore owns the deployment's single calendar credential.
type CredentialStore struct {
	config     *oauth2.Config
	tokens     TokenStore
	httpClient *http.Client
	metrics    *instrumentation.Metrics
	logger     logging.Logger
	now        func() time.Time

	// mu serializes load/refresh/save so concurrent requests refresh once.
	mu sync.Mutex
}

// Option configures a CredentialStore.
type Option func(*CredentialStore)

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *CredentialStore) { s.httpClient = c }
}

// WithMetrics enables OAuth metrics.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(s *CredentialStore) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *CredentialStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *CredentialStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewCredentialStore returns a store that uses config for consent, exchange
// and refresh and persists through tokens.
func NewCredentialStore(config *oauth2.Config, tokens TokenStore, opts ...Option) *CredentialStore {
	s := &CredentialStore{
		config: config,
		tokens: tokens,
		logger: logging.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HasToken reports whether a token has been persisted.
func (s *CredentialStore) HasToken() bool {
	return s.tokens.Exists()
}

// Valid returns a usable access token, refreshing it first when it has
// expired. A refreshed token is persisted before it is returned; if that
// save fails the token is not returned. When no token exists or refresh
// fails, ErrAuthorizationRequired is returned.
func (s *CredentialStore) Valid(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.tokens.Load()
	if errors.Is(err, ErrNoToken) {
		return nil, ErrAuthorizationRequired
	}
	if err != nil {
		s.logger.Warn("stored token unreadable, re-consent required", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrAuthorizationRequired, err)
	}

	if !s.expired(tok) {
		return tok, nil
	}

	if tok.RefreshToken == "" {
		s.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultExpired)
		return nil, ErrAuthorizationRequired
	}

	refreshed, err := s.refresh(ctx, tok)
	if err != nil {
		s.logger.Warn("token refresh failed, re-consent required", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrAuthorizationRequired, err)
	}

	if err := s.tokens.Save(refreshed); err != nil {
		s.logger.Error("failed to save refreshed token",
			"access_token", logging.SanitizeToken(refreshed.AccessToken),
			"error", err)
		return nil, fmt.Errorf("failed to save refreshed token: %w", err)
	}
	return refreshed, nil
}

func (s *CredentialStore) expired(tok *oauth2.Token) bool {
	if tok.AccessToken == "" {
		return true
	}
	if tok.Expiry.IsZero() {
		return false
	}
	return s.now().Add(refreshThreshold).After(tok.Expiry)
}

func (s *CredentialStore) clientContext(ctx context.Context) context.Context {
	if s.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}
	return ctx
}

func (s *CredentialStore) refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceOAuth, instrumentation.OperationRefresh)
	defer span.End()
	start := time.Now()

	// Only the refresh token is handed over so the source always hits the
	// token endpoint regardless of the wall clock.
	ts := s.config.TokenSource(s.clientContext(ctx), &oauth2.Token{
		RefreshToken: tok.RefreshToken,
		Expiry:       time.Unix(1, 0),
	})
	newToken, err := ts.Token()
	if err != nil {
		instrumentation.SetSpanError(span, err)
		s.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		s.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceOAuth, instrumentation.OperationRefresh, instrumentation.StatusError, time.Since(start))
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	if newToken.RefreshToken == "" {
		newToken.RefreshToken = tok.RefreshToken
	}

	instrumentation.SetSpanSuccess(span)
	s.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultSuccess)
	s.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceOAuth, instrumentation.OperationRefresh, instrumentation.StatusSuccess, time.Since(start))
	s.logger.Info("refreshed calendar token",
		"access_token", logging.SanitizeToken(newToken.AccessToken),
		"expiry", newToken.Expiry)
	return newToken, nil
}

// NewState returns a fresh opaque state value for one consent round trip.
func (s *CredentialStore) NewState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// AuthCodeURL returns the consent URL for state. Offline access is requested
// so the grant includes a refresh token.
func (s *CredentialStore) AuthCodeURL(state string) string {
	return s.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// CompleteAuthorization validates the callback against expectedState,
// exchanges code and persists the resulting token.
func (s *CredentialStore) CompleteAuthorization(ctx context.Context, expectedState, state, code string) (*oauth2.Token, error) {
	if expectedState == "" || code == "" ||
		subtle.ConstantTimeCompare([]byte(expectedState), []byte(state)) != 1 {
		s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		return nil, ErrAuthFlowMismatch
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceOAuth, instrumentation.OperationExchange)
	defer span.End()
	start := time.Now()

	tok, err := s.config.Exchange(s.clientContext(ctx), code)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		s.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceOAuth, instrumentation.OperationExchange, instrumentation.StatusError, time.Since(start))
		return nil, fmt.Errorf("failed to exchange auth code: %w", err)
	}
	s.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceOAuth, instrumentation.OperationExchange, instrumentation.StatusSuccess, time.Since(start))

	s.mu.Lock()
	err = s.tokens.Save(tok)
	s.mu.Unlock()
	if err != nil {
		instrumentation.SetSpanError(span, err)
		s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		return nil, fmt.Errorf("failed to save token: %w", err)
	}

	instrumentation.SetSpanSuccess(span)
	s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)
	s.logger.Info("calendar access granted", "has_refresh_token", tok.RefreshToken != "")
	s.logger.Debug("stored exchanged token",
		"access_token", logging.SanitizeToken(tok.AccessToken),
		"expiry", tok.Expiry)
	return tok, nil
}
