package calendar

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/googleapi"
)

// PrimaryCalendarID is the calendar events are inserted into by default.
const PrimaryCalendarID = "primary"

// ConferenceSolutionMeet requests a Google Meet conference for the event.
const ConferenceSolutionMeet = "hangoutsMeet"

// ErrConferencingLinkMissing is returned when conferencing was requested but
// the created event carries no entry point.
var ErrConferencingLinkMissing = errors.New("calendar: created event has no conferencing link")

// EventInput describes the event to create.
type EventInput struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	// TimeZone is an IANA zone name sent along with start and end.
	// Empty means UTC.
	TimeZone string
	// AttachConferencing asks the provider to create a Meet conference.
	AttachConferencing bool
}

// CreatedEvent is the part of the provider's response the server keeps.
type CreatedEvent struct {
	ID       string
	HTMLLink string
	// MeetLink is the first conferencing entry point URI.
	MeetLink string
}

// CalendarError is a failure reported by the calendar provider or the
// transport in front of it. Code is the HTTP status when one was received.
type CalendarError struct {
	Code    int
	Message string
	Err     error
}

func (e *CalendarError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("calendar: provider error (code %d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("calendar: %s", e.Message)
}

func (e *CalendarError) Unwrap() error { return e.Err }

// wrapError converts a client library error into a *CalendarError.
func wrapError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = op + " failed"
		}
		return &CalendarError{Code: apiErr.Code, Message: msg, Err: err}
	}
	return &CalendarError{Message: fmt.Sprintf("%s failed: %v", op, err), Err: err}
}
