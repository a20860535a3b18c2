package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/teemow/studygroup/internal/calendar"
	"github.com/teemow/studygroup/internal/google"
	"github.com/teemow/studygroup/internal/meeting"
	"github.com/teemow/studygroup/internal/store"
)

const maxBodyBytes = 1 << 20

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// userView is a UserRecord without its password hash.
type userView struct {
	ID        string                `json:"id"`
	Username  string                `json:"username"`
	CreatedAt time.Time             `json:"created_at"`
	Meetings  []store.MeetingRecord `json:"meetings"`
}

func newUserView(u store.UserRecord) userView {
	meetings := u.Meetings
	if meetings == nil {
		meetings = []store.MeetingRecord{}
	}
	return userView{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt, Meetings: meetings}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// errorStatus maps a domain error to an HTTP status, an error code and a
// message that is safe to show.
func errorStatus(err error) (int, string, string) {
	var calErr *calendar.CalendarError
	switch {
	case errors.Is(err, meeting.ErrMissingFields):
		return http.StatusBadRequest, "missing_fields", "Please fill all fields"
	case errors.Is(err, meeting.ErrInvalidSchedule):
		return http.StatusBadRequest, "invalid_schedule", "Date must be YYYY-MM-DD and time HH:MM"
	case errors.Is(err, google.ErrAuthFlowMismatch):
		return http.StatusBadRequest, "auth_flow_mismatch", "Authorization state mismatch, please try again"
	case errors.Is(err, store.ErrUsernameTaken):
		return http.StatusConflict, "username_taken", "Username already exists"
	case errors.Is(err, store.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "Invalid username or password"
	case errors.Is(err, store.ErrMeetingNotFound):
		return http.StatusNotFound, "meeting_not_found", "Meeting not found"
	case errors.Is(err, calendar.ErrConferencingLinkMissing):
		return http.StatusBadGateway, "conferencing_link_missing", "The calendar did not return a meeting link"
	case errors.As(err, &calErr):
		return http.StatusBadGateway, "calendar_error", fmt.Sprintf("Error creating meeting: %s", calErr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "The operation timed out"
	case errors.Is(err, store.ErrStoreWriteFailed), errors.Is(err, store.ErrUserNotFound):
		return http.StatusInternalServerError, "store_write_failed", "Could not save your changes"
	default:
		return http.StatusInternalServerError, "internal_error", "Internal server error"
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code, message := errorStatus(err)
	writeError(w, status, code, message)
}

// readFields returns the named fields from a JSON object or form body.
// Missing fields are returned as empty strings.
func readFields(w http.ResponseWriter, r *http.Request, names ...string) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	out := make(map[string]string, len(names))

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		for _, name := range names {
			if s, ok := raw[name].(string); ok {
				out[name] = s
			}
		}
		return out, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form body: %w", err)
	}
	for _, name := range names {
		out[name] = r.PostForm.Get(name)
	}
	return out, nil
}

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}
