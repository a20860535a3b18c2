package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teemow/studygroup/internal/calendar"
	"github.com/teemow/studygroup/internal/google"
	"github.com/teemow/studygroup/internal/meeting"
	"github.com/teemow/studygroup/internal/store"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"missing fields", meeting.ErrMissingFields, http.StatusBadRequest, "missing_fields"},
		{"invalid schedule", fmt.Errorf("%w: bad date", meeting.ErrInvalidSchedule), http.StatusBadRequest, "invalid_schedule"},
		{"state mismatch", google.ErrAuthFlowMismatch, http.StatusBadRequest, "auth_flow_mismatch"},
		{"username taken", store.ErrUsernameTaken, http.StatusConflict, "username_taken"},
		{"invalid credentials", store.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{"meeting not found", store.ErrMeetingNotFound, http.StatusNotFound, "meeting_not_found"},
		{"calendar error", &calendar.CalendarError{Code: 500, Message: "backend"}, http.StatusBadGateway, "calendar_error"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"registration write failure", fmt.Errorf("%w: rename: disk full", store.ErrStoreWriteFailed), http.StatusInternalServerError, "store_write_failed"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, message := errorStatus(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
			assert.NotEmpty(t, message)
		})
	}
}

func TestErrorStatus_WriteFailureMessageFitsEveryOperation(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("%w: users.json", store.ErrStoreWriteFailed),
		&meeting.StageError{Stage: meeting.StatePersistingRecord, Err: store.ErrStoreWriteFailed},
	} {
		_, _, message := errorStatus(err)
		assert.NotContains(t, message, "meeting")
		assert.Equal(t, "Could not save your changes", message)
	}
}
