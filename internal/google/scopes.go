package google

import (
	calendar "google.golang.org/api/calendar/v3"
)

// DefaultOAuthScopes are the scopes requested on consent. Creating events
// with conferencing needs read/write access to the calendar.
var DefaultOAuthScopes = []string{
	calendar.CalendarScope,
}
