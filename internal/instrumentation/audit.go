package instrumentation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Audited actions.
const (
	ActionMeetingCreate = "meeting.create"
	ActionMeetingJoin   = "meeting.join"
	ActionAdminList     = "admin.list_users"
	ActionCalendarGrant = "calendar.authorize"
)

// AuditEvent captures one user-visible action for the audit trail.
//
// # Privacy Considerations
//
// Username is PII. Unless the AuditLogger is configured with IncludePII,
// only a hash of it is logged.
type AuditEvent struct {
	Action string

	// Acting user
	UserID   string
	Username string

	// Target of the action
	MeetingID       string
	CalendarEventID string

	// Execution details
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	// Tracing context
	TraceID string
	SpanID  string
}

// NewAuditEvent creates an AuditEvent with timing started.
// Call Complete when the action finishes.
func NewAuditEvent(action string) *AuditEvent {
	return &AuditEvent{
		Action:    action,
		StartTime: time.Now(),
	}
}

// WithUser sets the acting user.
func (ev *AuditEvent) WithUser(id, username string) *AuditEvent {
	ev.UserID = id
	ev.Username = username
	return ev
}

// WithMeeting sets the meeting and its calendar event.
func (ev *AuditEvent) WithMeeting(meetingID, calendarEventID string) *AuditEvent {
	ev.MeetingID = meetingID
	ev.CalendarEventID = calendarEventID
	return ev
}

// WithSpanContext extracts trace context from the current span.
func (ev *AuditEvent) WithSpanContext(ctx context.Context) *AuditEvent {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		ev.TraceID = span.SpanContext().TraceID().String()
		ev.SpanID = span.SpanContext().SpanID().String()
	}
	return ev
}

// Complete marks the event as finished and calculates duration.
func (ev *AuditEvent) Complete(success bool, err error) *AuditEvent {
	ev.Duration = time.Since(ev.StartTime)
	ev.Success = success
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// CompleteWithError marks the event as failed with the given error.
func (ev *AuditEvent) CompleteWithError(err error) *AuditEvent {
	return ev.Complete(false, err)
}

// CompleteSuccess marks the event as successful.
func (ev *AuditEvent) CompleteSuccess() *AuditEvent {
	return ev.Complete(true, nil)
}

// Status returns "success" or "error" based on the Success field.
func (ev *AuditEvent) Status() string {
	if ev.Success {
		return StatusSuccess
	}
	return StatusError
}

// UserHash returns a short stable hash of the username.
func (ev *AuditEvent) UserHash() string {
	if ev.Username == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ev.Username))
	return "user:" + hex.EncodeToString(sum[:8])
}

// LogAttrs returns slog attributes for the event. The username is included
// verbatim only when includePII is set.
func (ev *AuditEvent) LogAttrs(includePII bool) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("action", ev.Action),
		slog.String("user_id", ev.UserID),
		slog.Duration("duration", ev.Duration),
		slog.Bool("success", ev.Success),
	}

	if includePII {
		attrs = append(attrs, slog.String("username", ev.Username))
	} else if h := ev.UserHash(); h != "" {
		attrs = append(attrs, slog.String("user_hash", h))
	}
	if ev.MeetingID != "" {
		attrs = append(attrs, slog.String("meeting_id", ev.MeetingID))
	}
	if ev.CalendarEventID != "" {
		attrs = append(attrs, slog.String("calendar_event_id", ev.CalendarEventID))
	}
	if ev.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ev.TraceID))
	}
	if ev.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", ev.SpanID))
	}
	if ev.Error != "" {
		attrs = append(attrs, slog.String("error", ev.Error))
	}

	return attrs
}

// AuditLogger writes audit events as structured log records.
// A nil *AuditLogger is valid and logs nothing.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates a new AuditLogger with the given slog.Logger.
// By default, usernames are hashed.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:  logger,
		enabled: true,
	}
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// SetIncludePII sets whether to include plain usernames in audit logs.
func (al *AuditLogger) SetIncludePII(include bool) {
	al.includePII = include
}

// SetEnabled sets whether audit logging is enabled.
func (al *AuditLogger) SetEnabled(enabled bool) {
	al.enabled = enabled
}

// Log writes ev at info level when it succeeded and warn level otherwise.
func (al *AuditLogger) Log(ev *AuditEvent) {
	if al == nil || !al.enabled || ev == nil {
		return
	}

	attrs := ev.LogAttrs(al.includePII)
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if ev.Success {
		al.logger.Info("audit", args...)
	} else {
		al.logger.Warn("audit", args...)
	}
}
