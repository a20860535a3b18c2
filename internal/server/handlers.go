package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/teemow/studygroup/internal/instrumentation"
	"github.com/teemow/studygroup/internal/logging"
	"github.com/teemow/studygroup/internal/meeting"
	"github.com/teemow/studygroup/internal/session"
	"github.com/teemow/studygroup/internal/store"
)

// routes registers every application route on mux.
func (s *Server) routes(mux *http.ServeMux) {
	requireUser := s.gate.RequireUser
	requireAdmin := s.gate.RequireAdmin

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("POST /register", s.rateLimited(instrumentation.AuthKindRegister, http.HandlerFunc(s.handleRegister)))
	mux.Handle("POST /login", s.rateLimited(instrumentation.AuthKindLogin, http.HandlerFunc(s.handleLogin)))
	mux.Handle("POST /logout", requireUser(http.HandlerFunc(s.handleLogout)))
	mux.Handle("GET /dashboard", requireUser(http.HandlerFunc(s.handleDashboard)))
	mux.Handle("GET /create-meeting", requireUser(http.HandlerFunc(s.handleCreateMeetingForm)))
	mux.Handle("POST /create-meeting", requireUser(http.HandlerFunc(s.handleCreateMeeting)))
	mux.Handle("GET /join-meeting/{id}", requireUser(http.HandlerFunc(s.handleJoinMeeting)))
	mux.Handle("GET /admin/users", requireAdmin(http.HandlerFunc(s.handleAdminUsers)))
	mux.Handle("GET /authorize", requireUser(http.HandlerFunc(s.handleAuthorize)))
	mux.Handle("GET /oauth2callback", requireUser(http.HandlerFunc(s.handleOAuthCallback)))
}

// rateLimited rejects requests over the per-IP budget with 429.
func (s *Server) rateLimited(kind string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			s.metrics.RecordAccountAuth(r.Context(), kind, instrumentation.AuthResultLimited)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests, please slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.gate.CurrentUser(r); ok {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": "studygroup"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	f, err := readFields(w, r, "username", "password")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if blank(f["username"], f["password"]) {
		writeError(w, http.StatusBadRequest, "missing_fields", "Username and password are required")
		return
	}

	user, err := s.store.CreateUser(r.Context(), f["username"], f["password"])
	if err != nil {
		s.metrics.RecordAccountAuth(r.Context(), instrumentation.AuthKindRegister, instrumentation.AuthResultFailure)
		if !errors.Is(err, store.ErrUsernameTaken) {
			s.logger.Error("failed to register user", logging.UserHash(f["username"]), logging.Err(err))
		}
		writeDomainError(w, err)
		return
	}

	s.metrics.RecordAccountAuth(r.Context(), instrumentation.AuthKindRegister, instrumentation.AuthResultSuccess)
	s.logger.Info("user registered", logging.UserID(user.ID))
	writeJSON(w, http.StatusCreated, newUserView(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	f, err := readFields(w, r, "username", "password")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if blank(f["username"], f["password"]) {
		writeError(w, http.StatusBadRequest, "missing_fields", "Username and password are required")
		return
	}

	user, err := s.store.VerifyUser(r.Context(), f["username"], f["password"])
	if err != nil {
		s.metrics.RecordAccountAuth(r.Context(), instrumentation.AuthKindLogin, instrumentation.AuthResultFailure)
		if !errors.Is(err, store.ErrInvalidCredentials) {
			s.logger.Error("failed to verify user", logging.UserHash(f["username"]), logging.Err(err))
		}
		writeDomainError(w, err)
		return
	}

	if err := s.gate.Sessions().Issue(w, session.Session{UserID: user.ID}); err != nil {
		s.logger.Error("failed to issue session", logging.UserID(user.ID), logging.Err(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}

	s.metrics.RecordAccountAuth(r.Context(), instrumentation.AuthKindLogin, instrumentation.AuthResultSuccess)
	writeJSON(w, http.StatusOK, newUserView(user))
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.gate.Sessions().Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user, _ := session.UserFromContext(r.Context())

	meetings, err := s.meetings.Dashboard(r.Context(), user)
	if err != nil {
		s.logger.Error("failed to load meetings", logging.UserID(user.ID), logging.Err(err))
		writeDomainError(w, err)
		return
	}
	user.Meetings = meetings
	writeJSON(w, http.StatusOK, newUserView(user))
}

// createMeetingForm describes what POST /create-meeting expects.
type createMeetingForm struct {
	Fields             []string `json:"fields"`
	CalendarAuthorized bool     `json:"calendar_authorized"`
}

func (s *Server) handleCreateMeetingForm(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, createMeetingForm{
		Fields:             []string{"meeting_name", "meeting_date", "meeting_time"},
		CalendarAuthorized: s.credentials.HasToken(),
	})
}

func (s *Server) handleCreateMeeting(w http.ResponseWriter, r *http.Request) {
	user, _ := session.UserFromContext(r.Context())

	f, err := readFields(w, r, "meeting_name", "meeting_date", "meeting_time")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	rec, err := s.meetings.CreateMeeting(r.Context(), user, meeting.Request{
		Name: f["meeting_name"],
		Date: f["meeting_date"],
		Time: f["meeting_time"],
	})

	var redirect *meeting.RedirectRequiredError
	if errors.As(err, &redirect) {
		s.startConsent(w, r, user, redirect)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleJoinMeeting(w http.ResponseWriter, r *http.Request) {
	user, _ := session.UserFromContext(r.Context())

	link, err := s.meetings.JoinMeeting(r.Context(), user, r.PathValue("id"))
	if err != nil {
		if !errors.Is(err, store.ErrMeetingNotFound) {
			s.logger.Error("failed to look up meeting", logging.UserID(user.ID), logging.Err(err))
		}
		writeDomainError(w, err)
		return
	}
	http.Redirect(w, r, link, http.StatusFound)
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	admin, _ := session.UserFromContext(r.Context())
	audit := instrumentation.NewAuditEvent(instrumentation.ActionAdminList).
		WithUser(admin.ID, admin.Username).
		WithSpanContext(r.Context())

	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.audit.Log(audit.CompleteWithError(err))
		s.logger.Error("failed to list users", logging.Err(err))
		writeDomainError(w, err)
		return
	}
	s.audit.Log(audit.CompleteSuccess())

	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, newUserView(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": views})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	user, _ := session.UserFromContext(r.Context())

	redirect, err := s.meetings.Authorize()
	if err != nil {
		s.logger.Error("failed to start authorization", logging.Err(err))
		writeDomainError(w, err)
		return
	}
	s.startConsent(w, r, user, redirect)
}

// startConsent binds the consent state to the caller's session and sends
// the browser to the provider.
func (s *Server) startConsent(w http.ResponseWriter, r *http.Request, user store.UserRecord, redirect *meeting.RedirectRequiredError) {
	if err := s.gate.Sessions().Issue(w, session.Session{UserID: user.ID, OAuthState: redirect.State}); err != nil {
		s.logger.Error("failed to store authorization state", logging.UserID(user.ID), logging.Err(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}
	http.Redirect(w, r, redirect.URL, http.StatusFound)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	user, _ := session.UserFromContext(r.Context())

	// A missing cookie state fails closed in CompleteAuthorization.
	sess, _ := s.gate.Sessions().Read(r)

	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		s.logger.Warn("calendar authorization denied", logging.UserID(user.ID), slog.String("provider_error", errParam))
	}

	err := s.meetings.CompleteAuthorization(r.Context(), user, sess.OAuthState, q.Get("state"), q.Get("code"))

	// The state is single use.
	if issueErr := s.gate.Sessions().Issue(w, session.Session{UserID: user.ID}); issueErr != nil {
		s.logger.Error("failed to clear authorization state", logging.UserID(user.ID), logging.Err(issueErr))
	}

	if err != nil {
		writeDomainError(w, err)
		return
	}
	http.Redirect(w, r, "/create-meeting", http.StatusFound)
}
