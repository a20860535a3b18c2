package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultCookieName is the session cookie's name.
	DefaultCookieName = "studygroup_session"

	// DefaultTTL is how long an issued session stays valid.
	DefaultTTL = 24 * time.Hour

	// MinSecretLength is the minimum HMAC secret length in bytes.
	MinSecretLength = 32
)

var (
	// ErrNoSession means the request carries no session cookie.
	ErrNoSession = errors.New("session: no session cookie")

	// ErrInvalidSession means the cookie is malformed, expired or not
	// signed with the server's secret.
	ErrInvalidSession = errors.New("session: invalid session")
)

// Session is the state carried in the session cookie.
type Session struct {
	// UserID is the signed-in user; empty for an anonymous session.
	UserID string
	// OAuthState is the state of the consent round trip started by this
	// session, if any.
	OAuthState string
}

type claims struct {
	UserID     string `json:"uid,omitempty"`
	OAuthState string `json:"oauth_state,omitempty"`
	jwt.RegisteredClaims
}

// Manager issues and reads signed session cookies.
type Manager struct {
	secret     []byte
	cookieName string
	ttl        time.Duration
	secure     bool
	now        func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCookieName overrides the cookie name.
func WithCookieName(name string) ManagerOption {
	return func(m *Manager) {
		if name != "" {
			m.cookieName = name
		}
	}
}

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithSecureCookie marks the cookie Secure (HTTPS only).
func WithSecureCookie(secure bool) ManagerOption {
	return func(m *Manager) { m.secure = secure }
}

// WithClock overrides the clock used for issuing and validating tokens.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager returns a Manager signing with secret (HS256).
func NewManager(secret []byte, opts ...ManagerOption) (*Manager, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}

	m := &Manager{
		secret:     secret,
		cookieName: DefaultCookieName,
		ttl:        DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue signs s and sets it as the session cookie on w.
func (m *Manager) Issue(w http.ResponseWriter, s Session) error {
	now := m.now()
	c := claims{
		UserID:     s.UserID,
		OAuthState: s.OAuthState,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return fmt.Errorf("failed to sign session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    signed,
		Path:     "/",
		Expires:  now.Add(m.ttl),
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Read returns the session carried by r.
func (m *Manager) Read(r *http.Request) (Session, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return Session{}, ErrNoSession
	}

	tok, err := jwt.ParseWithClaims(cookie.Value, &claims{}, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return Session{}, ErrInvalidSession
	}
	return Session{UserID: c.UserID, OAuthState: c.OAuthState}, nil
}

// Clear expires the session cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
