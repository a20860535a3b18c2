package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/teemow/studygroup/internal/logging"
	"github.com/teemow/studygroup/internal/store"
)

// DefaultAdminUsername is the username granted admin pages.
const DefaultAdminUsername = "admin"

// UserFinder resolves a session's user id to a record.
type UserFinder interface {
	FindUserByID(ctx context.Context, id string) (store.UserRecord, error)
}

type contextKey struct{}

// ContextWithUser returns ctx carrying user.
func ContextWithUser(ctx context.Context, user store.UserRecord) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns the user stored by RequireUser.
func UserFromContext(ctx context.Context) (store.UserRecord, bool) {
	user, ok := ctx.Value(contextKey{}).(store.UserRecord)
	return user, ok
}

// Gate decides who the current user is and guards handlers.
type Gate struct {
	sessions      *Manager
	users         UserFinder
	adminUsername string
	logger        logging.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithAdminUsername sets the username that counts as admin.
func WithAdminUsername(username string) GateOption {
	return func(g *Gate) {
		if username != "" {
			g.adminUsername = username
		}
	}
}

// WithGateLogger sets the logger.
func WithGateLogger(l logging.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGate returns a Gate reading sessions from sessions and users from users.
func NewGate(sessions *Manager, users UserFinder, opts ...GateOption) *Gate {
	g := &Gate{
		sessions:      sessions,
		users:         users,
		adminUsername: DefaultAdminUsername,
		logger:        logging.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Sessions returns the underlying session manager.
func (g *Gate) Sessions() *Manager { return g.sessions }

// CurrentUser resolves the request's user. A missing or invalid cookie, an
// anonymous session or a user that no longer exists all mean no user.
func (g *Gate) CurrentUser(r *http.Request) (store.UserRecord, bool) {
	s, err := g.sessions.Read(r)
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			g.logger.Debug("rejected session cookie", logging.Err(err))
		}
		return store.UserRecord{}, false
	}
	if s.UserID == "" {
		return store.UserRecord{}, false
	}

	user, err := g.users.FindUserByID(r.Context(), s.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			g.logger.Error("failed to load session user", logging.UserID(s.UserID), logging.Err(err))
		}
		return store.UserRecord{}, false
	}
	return user, true
}

// IsAdmin reports whether user may see admin pages.
func (g *Gate) IsAdmin(user store.UserRecord) bool {
	return user.Username == g.adminUsername
}

// RequireUser rejects unauthenticated requests with 401 and passes the user
// to next through the request context.
func (g *Gate) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := g.CurrentUser(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "login required")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// RequireAdmin is RequireUser plus a 403 for non-admin users.
func (g *Gate) RequireAdmin(next http.Handler) http.Handler {
	return g.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		if !g.IsAdmin(user) {
			writeError(w, http.StatusForbidden, "forbidden", "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
