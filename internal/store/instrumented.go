package store

import (
	"context"
	"errors"
	"time"

	"github.com/teemow/studygroup/internal/instrumentation"
)

// Instrumented wraps a Store and records an operation metric for every call.
type Instrumented struct {
	next    Store
	backend string
	metrics *instrumentation.Metrics
}

var _ Store = (*Instrumented)(nil)

// NewInstrumented wraps next. backend labels the metrics (json or sqlite).
func NewInstrumented(next Store, backend string, metrics *instrumentation.Metrics) *Instrumented {
	return &Instrumented{next: next, backend: backend, metrics: metrics}
}

func (s *Instrumented) record(ctx context.Context, op string, start time.Time, err error) {
	status := instrumentation.StatusSuccess
	// Expected outcomes are not storage failures.
	if err != nil && !isExpected(err) {
		status = instrumentation.StatusError
	}
	s.metrics.RecordStoreOperation(ctx, s.backend, op, status, time.Since(start))
}

func isExpected(err error) bool {
	return errors.Is(err, ErrUsernameTaken) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrMeetingNotFound)
}

func (s *Instrumented) CreateUser(ctx context.Context, username, password string) (UserRecord, error) {
	start := time.Now()
	rec, err := s.next.CreateUser(ctx, username, password)
	s.record(ctx, instrumentation.OperationCreateUser, start, err)
	return rec, err
}

func (s *Instrumented) VerifyUser(ctx context.Context, username, password string) (UserRecord, error) {
	start := time.Now()
	rec, err := s.next.VerifyUser(ctx, username, password)
	s.record(ctx, instrumentation.OperationVerifyUser, start, err)
	return rec, err
}

func (s *Instrumented) FindUserByID(ctx context.Context, id string) (UserRecord, error) {
	start := time.Now()
	rec, err := s.next.FindUserByID(ctx, id)
	s.record(ctx, instrumentation.OperationFindUser, start, err)
	return rec, err
}

func (s *Instrumented) ListUsers(ctx context.Context) ([]UserRecord, error) {
	start := time.Now()
	users, err := s.next.ListUsers(ctx)
	s.record(ctx, instrumentation.OperationListUsers, start, err)
	return users, err
}

func (s *Instrumented) AppendMeeting(ctx context.Context, userID string, meeting MeetingRecord) (bool, error) {
	start := time.Now()
	ok, err := s.next.AppendMeeting(ctx, userID, meeting)
	s.record(ctx, instrumentation.OperationAppend, start, err)
	return ok, err
}

func (s *Instrumented) FindMeeting(ctx context.Context, userID, meetingID string) (MeetingRecord, error) {
	start := time.Now()
	m, err := s.next.FindMeeting(ctx, userID, meetingID)
	s.record(ctx, instrumentation.OperationFindMeeting, start, err)
	return m, err
}

func (s *Instrumented) UserMeetings(ctx context.Context, userID string) ([]MeetingRecord, error) {
	start := time.Now()
	meetings, err := s.next.UserMeetings(ctx, userID)
	s.record(ctx, instrumentation.OperationUserMeetings, start, err)
	return meetings, err
}

func (s *Instrumented) Ping(ctx context.Context) error { return s.next.Ping(ctx) }

func (s *Instrumented) Close() error { return s.next.Close() }
