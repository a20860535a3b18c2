package store

import (
	"context"
	"errors"
	"time"

	"github.com/teemow/studygroup/internal/logging"
)

// Sentinel errors returned by Store implementations.
var (
	ErrUsernameTaken = errors.New("store: username already exists")
	// ErrInvalidCredentials covers both an unknown username and a wrong
	// password so callers cannot tell the two apart.
	ErrInvalidCredentials = errors.New("store: invalid username or password")
	ErrUserNotFound       = errors.New("store: user not found")
	ErrMeetingNotFound    = errors.New("store: meeting not found")
	ErrStoreWriteFailed   = errors.New("store: write failed")
)

// UserRecord is a registered account together with its meetings.
type UserRecord struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"password_hash"`
	CreatedAt    time.Time       `json:"created_at"`
	Meetings     []MeetingRecord `json:"meetings,omitempty"`
}

// MeetingRecord is a meeting created by one user.
type MeetingRecord struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	MeetLink        string    `json:"meet_link"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
	CalendarEventID string    `json:"calendar_event_id"`
}

// Store is the user and meeting persistence contract.
type Store interface {
	// CreateUser registers username with a freshly hashed password.
	// Returns ErrUsernameTaken when the username exists (exact match).
	CreateUser(ctx context.Context, username, password string) (UserRecord, error)

	// VerifyUser returns the record when password matches.
	VerifyUser(ctx context.Context, username, password string) (UserRecord, error)

	// FindUserByID returns ErrUserNotFound when no record has the id.
	FindUserByID(ctx context.Context, id string) (UserRecord, error)

	// ListUsers returns every record ordered by id.
	ListUsers(ctx context.Context) ([]UserRecord, error)

	// AppendMeeting adds meeting to the end of the user's meetings.
	// Returns false without error when the user does not exist.
	AppendMeeting(ctx context.Context, userID string, meeting MeetingRecord) (bool, error)

	// FindMeeting looks up meetingID among the meetings of userID only.
	FindMeeting(ctx context.Context, userID, meetingID string) (MeetingRecord, error)

	// UserMeetings returns the user's meetings in creation order.
	UserMeetings(ctx context.Context, userID string) ([]MeetingRecord, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Option configures a Store backend.
type Option func(*options)

type options struct {
	hasher *PasswordHasher
	logger logging.Logger
	now    func() time.Time
}

func defaultOptions() options {
	return options{
		hasher: NewPasswordHasher(0),
		logger: logging.Discard(),
		now:    time.Now,
	}
}

// WithPasswordHasher overrides the password hasher.
func WithPasswordHasher(h *PasswordHasher) Option {
	return func(o *options) {
		if h != nil {
			o.hasher = h
		}
	}
}

// WithLogger sets the logger used for store diagnostics.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the clock used for created_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// lessID orders decimal id strings numerically.
func lessID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
