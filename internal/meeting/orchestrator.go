package meeting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/teemow/studygroup/internal/calendar"
	"github.com/teemow/studygroup/internal/google"
	"github.com/teemow/studygroup/internal/instrumentation"
	"github.com/teemow/studygroup/internal/logging"
	"github.com/teemow/studygroup/internal/store"
)

const (
	// DefaultTimeout bounds one create-meeting attempt, including token
	// refresh and the calendar call.
	DefaultTimeout = 20 * time.Second

	// DefaultDuration is the length of every created meeting.
	DefaultDuration = time.Hour

	// ScheduleLayout is the expected format of Date + " " + Time.
	ScheduleLayout = "2006-01-02 15:04"

	orphanCleanupTimeout = 5 * time.Second
)

// Credentials hands out the operator's calendar token.
type Credentials interface {
	Valid(ctx context.Context) (*oauth2.Token, error)
	NewState() (string, error)
	AuthCodeURL(state string) string
	CompleteAuthorization(ctx context.Context, expectedState, state, code string) (*oauth2.Token, error)
}

// Calendar creates and removes calendar events.
type Calendar interface {
	CreateEvent(ctx context.Context, token *oauth2.Token, input calendar.EventInput) (*calendar.CreatedEvent, error)
	DeleteEvent(ctx context.Context, token *oauth2.Token, eventID string) error
}

// Store is the part of store.Store the orchestrator needs.
type Store interface {
	AppendMeeting(ctx context.Context, userID string, meeting store.MeetingRecord) (bool, error)
	FindMeeting(ctx context.Context, userID, meetingID string) (store.MeetingRecord, error)
	UserMeetings(ctx context.Context, userID string) ([]store.MeetingRecord, error)
}

// Request is a submitted create-meeting form.
type Request struct {
	Name string `json:"meeting_name"`
	Date string `json:"meeting_date"`
	Time string `json:"meeting_time"`
}

// Orchestrator sequences credential lookup, event creation and record
// persistence for meetings.
type Orchestrator struct {
	credentials Credentials
	calendar    Calendar
	store       Store

	location     *time.Location
	duration     time.Duration
	timeout      time.Duration
	deleteOrphan bool

	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
	logger  logging.Logger
	now     func() time.Time
	newID   func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLocation sets the zone meeting dates and times are read in. It must be
// a named IANA location.
func WithLocation(loc *time.Location) Option {
	return func(o *Orchestrator) {
		if loc != nil {
			o.location = loc
		}
	}
}

// WithTimeout bounds each create-meeting attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithDeleteOrphanedEvents makes the orchestrator delete a calendar event
// whose meeting record could not be saved.
func WithDeleteOrphanedEvents(enabled bool) Option {
	return func(o *Orchestrator) { o.deleteOrphan = enabled }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithAuditLogger sets the audit trail.
func WithAuditLogger(a *instrumentation.AuditLogger) Option {
	return func(o *Orchestrator) { o.audit = a }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDFunc overrides meeting id generation.
func WithIDFunc(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// New returns an Orchestrator.
func New(credentials Credentials, cal Calendar, st Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		credentials: credentials,
		calendar:    cal,
		store:       st,
		location:    time.UTC,
		duration:    DefaultDuration,
		timeout:     DefaultTimeout,
		logger:      logging.Discard(),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateMeeting creates a calendar event with a Meet link for req and saves
// the meeting under user.
//
// When no usable calendar credential exists a *RedirectRequiredError is
// returned and nothing else happens. Calendar and store failures are
// returned as a *StageError wrapping the cause.
func (o *Orchestrator) CreateMeeting(ctx context.Context, user store.UserRecord, req Request) (store.MeetingRecord, error) {
	started := time.Now()
	audit := instrumentation.NewAuditEvent(instrumentation.ActionMeetingCreate).WithUser(user.ID, user.Username)

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	ctx, span := instrumentation.StartSpan(ctx, "meeting.create",
		instrumentation.NewSpanAttributeBuilder().WithOperation("create_meeting").WithUser(user.ID).Build()...)
	defer span.End()

	r := &run{state: StateIdle, span: span, logger: o.logger}
	rec, err := o.create(ctx, r, user, req)

	var redirect *RedirectRequiredError
	if errors.As(err, &redirect) {
		o.metrics.RecordMeetingCreated(ctx, instrumentation.MeetingStatusRedirect, time.Since(started))
		o.logger.Info("calendar authorization required before creating meeting", logging.UserID(user.ID))
		return store.MeetingRecord{}, err
	}

	audit.WithMeeting(rec.ID, rec.CalendarEventID).WithSpanContext(ctx)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		o.metrics.RecordMeetingCreated(ctx, instrumentation.StatusError, time.Since(started))
		o.audit.Log(audit.CompleteWithError(err))
		o.logger.Error("failed to create meeting",
			logging.UserID(user.ID),
			"stage", FailedStage(err).String(),
			logging.Err(err))
		return store.MeetingRecord{}, err
	}

	instrumentation.SetSpanSuccess(span)
	o.metrics.RecordMeetingCreated(ctx, instrumentation.StatusSuccess, time.Since(started))
	o.audit.Log(audit.CompleteSuccess())
	o.logger.Info("meeting created",
		logging.UserID(user.ID),
		logging.MeetingID(rec.ID),
		logging.EventID(rec.CalendarEventID))
	return rec, nil
}

// create runs the workflow. On failure the returned record carries whatever
// identifiers were assigned before the failure.
func (o *Orchestrator) create(ctx context.Context, r *run, user store.UserRecord, req Request) (store.MeetingRecord, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)
	if req.Name == "" || req.Date == "" || req.Time == "" {
		return store.MeetingRecord{}, ErrMissingFields
	}

	start, err := time.ParseInLocation(ScheduleLayout, req.Date+" "+req.Time, o.location)
	if err != nil {
		return store.MeetingRecord{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	token, err := o.credentials.Valid(ctx)
	if err != nil {
		r.enter(StateAwaitingCredential)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return store.MeetingRecord{}, r.fail(ctxErr)
		}
		if !errors.Is(err, google.ErrAuthorizationRequired) {
			return store.MeetingRecord{}, r.fail(err)
		}
		redirect, err := o.newRedirect()
		if err != nil {
			return store.MeetingRecord{}, r.fail(err)
		}
		return store.MeetingRecord{}, redirect
	}

	r.enter(StateCreatingEvent)
	created, err := o.calendar.CreateEvent(ctx, token, calendar.EventInput{
		Summary:            req.Name,
		Start:              start,
		End:                start.Add(o.duration),
		TimeZone:           o.location.String(),
		AttachConferencing: true,
	})
	if err != nil {
		var rec store.MeetingRecord
		if created != nil && created.ID != "" {
			rec.CalendarEventID = created.ID
			o.orphaned(ctx, token, user, created.ID, err)
		}
		return rec, r.fail(err)
	}

	r.enter(StatePersistingRecord)
	rec := store.MeetingRecord{
		ID:              o.newID(),
		Name:            req.Name,
		Date:            req.Date,
		Time:            req.Time,
		MeetLink:        created.MeetLink,
		CreatedBy:       user.Username,
		CreatedAt:       o.now(),
		CalendarEventID: created.ID,
	}

	ok, err := o.store.AppendMeeting(ctx, user.ID, rec)
	if err == nil && !ok {
		err = store.ErrUserNotFound
	}
	if err != nil {
		o.orphaned(ctx, token, user, created.ID, err)
		return rec, r.fail(err)
	}

	r.enter(StateDone)
	return rec, nil
}

func (o *Orchestrator) newRedirect() (*RedirectRequiredError, error) {
	state, err := o.credentials.NewState()
	if err != nil {
		return nil, err
	}
	return &RedirectRequiredError{URL: o.credentials.AuthCodeURL(state), State: state}, nil
}

// orphaned reports a calendar event that has no meeting record and, when
// enabled, tries once to delete it.
func (o *Orchestrator) orphaned(ctx context.Context, token *oauth2.Token, user store.UserRecord, eventID string, cause error) {
	o.logger.Error("calendar event has no meeting record",
		logging.UserID(user.ID),
		logging.EventID(eventID),
		logging.Err(cause))

	if !o.deleteOrphan {
		return
	}

	// The request context may already be past its deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), orphanCleanupTimeout)
	defer cancel()

	if err := o.calendar.DeleteEvent(ctx, token, eventID); err != nil {
		o.logger.Error("failed to delete orphaned calendar event", logging.EventID(eventID), logging.Err(err))
		return
	}
	o.logger.Info("deleted orphaned calendar event", logging.EventID(eventID))
}

// JoinMeeting returns the meeting link of one of user's meetings.
// Meetings of other users are reported as store.ErrMeetingNotFound.
func (o *Orchestrator) JoinMeeting(ctx context.Context, user store.UserRecord, meetingID string) (string, error) {
	audit := instrumentation.NewAuditEvent(instrumentation.ActionMeetingJoin).
		WithUser(user.ID, user.Username).
		WithSpanContext(ctx)

	m, err := o.store.FindMeeting(ctx, user.ID, meetingID)
	if err != nil {
		o.metrics.RecordMeetingJoin(ctx, instrumentation.StatusError, user.ID)
		o.audit.Log(audit.WithMeeting(meetingID, "").CompleteWithError(err))
		return "", err
	}

	o.metrics.RecordMeetingJoin(ctx, instrumentation.StatusSuccess, user.ID)
	o.audit.Log(audit.WithMeeting(m.ID, m.CalendarEventID).CompleteSuccess())
	return m.MeetLink, nil
}

// Dashboard returns user's meetings in creation order.
func (o *Orchestrator) Dashboard(ctx context.Context, user store.UserRecord) ([]store.MeetingRecord, error) {
	return o.store.UserMeetings(ctx, user.ID)
}

// Authorize starts a consent round trip.
func (o *Orchestrator) Authorize() (*RedirectRequiredError, error) {
	redirect, err := o.newRedirect()
	if err != nil {
		return nil, fmt.Errorf("failed to start authorization: %w", err)
	}
	return redirect, nil
}

// CompleteAuthorization finishes a consent round trip started with state
// expectedState. A mismatch fails in StateAwaitingCredential and wraps
// google.ErrAuthFlowMismatch.
func (o *Orchestrator) CompleteAuthorization(ctx context.Context, user store.UserRecord, expectedState, state, code string) error {
	audit := instrumentation.NewAuditEvent(instrumentation.ActionCalendarGrant).
		WithUser(user.ID, user.Username).
		WithSpanContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if _, err := o.credentials.CompleteAuthorization(ctx, expectedState, state, code); err != nil {
		err = &StageError{Stage: StateAwaitingCredential, Err: err}
		o.audit.Log(audit.CompleteWithError(err))
		o.logger.Warn("calendar authorization failed", logging.UserID(user.ID), logging.Err(err))
		return err
	}

	o.audit.Log(audit.CompleteSuccess())
	return nil
}
