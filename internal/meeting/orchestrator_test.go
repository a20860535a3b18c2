package meeting

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/teemow/studygroup/internal/calendar"
	"github.com/teemow/studygroup/internal/google"
	"github.com/teemow/studygroup/internal/store"
)

type fakeCredentials struct {
	token    *oauth2.Token
	validErr error

	mu        sync.Mutex
	completed []string
}

func (f *fakeCredentials) Valid(ctx context.Context) (*oauth2.Token, error) {
	if f.validErr != nil {
		return nil, f.validErr
	}
	return f.token, nil
}

func (f *fakeCredentials) NewState() (string, error) { return "state-1", nil }

func (f *fakeCredentials) AuthCodeURL(state string) string {
	return "https://accounts.example/auth?state=" + state
}

func (f *fakeCredentials) CompleteAuthorization(_ context.Context, expected, state, code string) (*oauth2.Token, error) {
	if expected == "" || expected != state || code == "" {
		return nil, google.ErrAuthFlowMismatch
	}
	f.mu.Lock()
	f.completed = append(f.completed, code)
	f.mu.Unlock()
	return &oauth2.Token{AccessToken: "granted"}, nil
}

type fakeCalendar struct {
	mu      sync.Mutex
	inputs  []calendar.EventInput
	deleted []string

	created   *calendar.CreatedEvent
	createErr error
	deleteErr error
}

func (f *fakeCalendar) CreateEvent(_ context.Context, _ *oauth2.Token, in calendar.EventInput) (*calendar.CreatedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.createErr != nil {
		return f.created, f.createErr
	}
	if f.created != nil {
		return f.created, nil
	}
	return &calendar.CreatedEvent{ID: "E1", MeetLink: "https://meet.example/abc"}, nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, _ *oauth2.Token, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, eventID)
	return f.deleteErr
}

// failingStore wraps a Store and fails appends.
type failingStore struct {
	Store
	appendErr error
}

func (f *failingStore) AppendMeeting(context.Context, string, store.MeetingRecord) (bool, error) {
	return false, f.appendErr
}

func newTestStore(t *testing.T) *store.JSONStore {
	t.Helper()
	s, err := store.NewJSONStore(filepath.Join(t.TempDir(), "users.json"),
		store.WithPasswordHasher(store.NewPasswordHasher(bcrypt.MinCost)))
	require.NoError(t, err)
	return s
}

func validToken() *oauth2.Token {
	return &oauth2.Token{AccessToken: "access", Expiry: time.Now().Add(time.Hour)}
}

func testRequest() Request {
	return Request{Name: "Algebra", Date: "2024-05-01", Time: "14:00"}
}

func TestCreateMeeting(t *testing.T) {
	st := newTestStore(t)
	alice, err := st.CreateUser(context.Background(), "alice", "p@ss1")
	require.NoError(t, err)

	cal := &fakeCalendar{}
	created := time.Date(2024, 4, 30, 9, 0, 0, 0, time.UTC)
	o := New(&fakeCredentials{token: validToken()}, cal, st,
		WithClock(func() time.Time { return created }),
		WithIDFunc(func() string { return "m-1" }))

	rec, err := o.CreateMeeting(context.Background(), alice, testRequest())
	require.NoError(t, err)
	assert.Equal(t, store.MeetingRecord{
		ID:              "m-1",
		Name:            "Algebra",
		Date:            "2024-05-01",
		Time:            "14:00",
		MeetLink:        "https://meet.example/abc",
		CreatedBy:       "alice",
		CreatedAt:       created,
		CalendarEventID: "E1",
	}, rec)

	require.Len(t, cal.inputs, 1)
	in := cal.inputs[0]
	assert.Equal(t, "Algebra", in.Summary)
	assert.True(t, in.AttachConferencing)
	assert.Equal(t, time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC), in.Start)
	assert.Equal(t, time.Hour, in.End.Sub(in.Start))
	assert.Equal(t, "UTC", in.TimeZone)

	meetings, err := o.Dashboard(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, meetings, 1)
	assert.Equal(t, "m-1", meetings[0].ID)
}

func TestCreateMeeting_Location(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	st := newTestStore(t)
	alice, err := st.CreateUser(context.Background(), "alice", "p@ss1")
	require.NoError(t, err)

	cal := &fakeCalendar{}
	o := New(&fakeCredentials{token: validToken()}, cal, st, WithLocation(loc))

	_, err = o.CreateMeeting(context.Background(), alice, testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cal.inputs[0].TimeZone)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), cal.inputs[0].Start.UTC())
}

func TestCreateMeeting_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"missing name", Request{Date: "2024-05-01", Time: "14:00"}, ErrMissingFields},
		{"blank date", Request{Name: "Algebra", Date: "  ", Time: "14:00"}, ErrMissingFields},
		{"missing time", Request{Name: "Algebra", Date: "2024-05-01"}, ErrMissingFields},
		{"bad date", Request{Name: "Algebra", Date: "01/05/2024", Time: "14:00"}, ErrInvalidSchedule},
		{"bad time", Request{Name: "Algebra", Date: "2024-05-01", Time: "2pm"}, ErrInvalidSchedule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal := &fakeCalendar{}
			o := New(&fakeCredentials{token: validToken()}, cal, newTestStore(t))

			_, err := o.CreateMeeting(context.Background(), store.UserRecord{ID: "1"}, tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, cal.inputs, "calendar must not be called")
		})
	}
}

func TestCreateMeeting_RedirectWhenUnauthorized(t *testing.T) {
	cal := &fakeCalendar{}
	creds := &fakeCredentials{validErr: google.ErrAuthorizationRequired}
	o := New(creds, cal, newTestStore(t))

	_, err := o.CreateMeeting(context.Background(), store.UserRecord{ID: "1"}, testRequest())

	var redirect *RedirectRequiredError
	require.True(t, errors.As(err, &redirect))
	assert.Equal(t, "state-1", redirect.State)
	assert.Equal(t, "https://accounts.example/auth?state=state-1", redirect.URL)
	assert.Empty(t, cal.inputs)
}

func TestCreateMeeting_CredentialSaveFailureIsNotARedirect(t *testing.T) {
	cal := &fakeCalendar{}
	saveErr := errors.New("failed to save refreshed token: disk full")
	o := New(&fakeCredentials{validErr: saveErr}, cal, newTestStore(t))

	_, err := o.CreateMeeting(context.Background(), store.UserRecord{ID: "1"}, testRequest())

	var redirect *RedirectRequiredError
	assert.False(t, errors.As(err, &redirect))
	assert.ErrorIs(t, err, saveErr)
	assert.Equal(t, StateAwaitingCredential, FailedStage(err))
	assert.Empty(t, cal.inputs)
}

func TestCreateMeeting_CalendarFailure(t *testing.T) {
	st := newTestStore(t)
	alice, err := st.CreateUser(context.Background(), "alice", "p@ss1")
	require.NoError(t, err)

	calErr := &calendar.CalendarError{Code: 403, Message: "quota"}
	o := New(&fakeCredentials{token: validToken()}, &fakeCalendar{createErr: calErr}, st)

	_, err = o.CreateMeeting(context.Background(), alice, testRequest())
	assert.ErrorIs(t, err, calErr)
	assert.Equal(t, StateCreatingEvent, FailedStage(err))

	meetings, err := st.UserMeetings(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Empty(t, meetings)
}

func TestCreateMeeting_MissingLinkOrphansEvent(t *testing.T) {
	cal := &fakeCalendar{
		created:   &calendar.CreatedEvent{ID: "E7"},
		createErr: calendar.ErrConferencingLinkMissing,
	}
	o := New(&fakeCredentials{token: validToken()}, cal, newTestStore(t), WithDeleteOrphanedEvents(true))

	_, err := o.CreateMeeting(context.Background(), store.UserRecord{ID: "1"}, testRequest())
	assert.ErrorIs(t, err, calendar.ErrConferencingLinkMissing)
	assert.Equal(t, []string{"E7"}, cal.deleted)
}

func TestCreateMeeting_PersistFailure(t *testing.T) {
	tests := []struct {
		name         string
		appendErr    error
		deleteOrphan bool
		wantErr      error
		wantDeleted  []string
	}{
		{
			name:      "write failure keeps event",
			appendErr: store.ErrStoreWriteFailed,
			wantErr:   store.ErrStoreWriteFailed,
		},
		{
			name:         "write failure deletes event",
			appendErr:    store.ErrStoreWriteFailed,
			deleteOrphan: true,
			wantErr:      store.ErrStoreWriteFailed,
			wantDeleted:  []string{"E1"},
		},
		{
			name:         "vanished user",
			deleteOrphan: true,
			wantErr:      store.ErrUserNotFound,
			wantDeleted:  []string{"E1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal := &fakeCalendar{}
			st := &failingStore{Store: newTestStore(t), appendErr: tt.appendErr}
			o := New(&fakeCredentials{token: validToken()}, cal, st, WithDeleteOrphanedEvents(tt.deleteOrphan))

			_, err := o.CreateMeeting(context.Background(), store.UserRecord{ID: "1"}, testRequest())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, StatePersistingRecord, FailedStage(err))
			assert.Equal(t, tt.wantDeleted, cal.deleted)
		})
	}
}

func TestCreateMeeting_OrphanDeleteFailureKeepsCause(t *testing.T) {
	cal := &fakeCalendar{deleteErr: errors.New("gone")}
	st := &failingStore{Store: newTestStore(t), appendErr: store.ErrStoreWriteFailed}
	o := New(&fakeCredentials{token: validToken()}, cal, st, WithDeleteOrphanedEvents(true))

	_, err := o.CreateMeeting(context.Background(), store.UserRecord{ID: "1"}, testRequest())
	assert.ErrorIs(t, err, store.ErrStoreWriteFailed)
	assert.Equal(t, []string{"E1"}, cal.deleted)
}

// blockingCalendar waits for the context to end.
type blockingCalendar struct{ fakeCalendar }

func (b *blockingCalendar) CreateEvent(ctx context.Context, _ *oauth2.Token, _ calendar.EventInput) (*calendar.CreatedEvent, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCreateMeeting_Timeout(t *testing.T) {
	o := New(&fakeCredentials{token: validToken()}, &blockingCalendar{}, newTestStore(t),
		WithTimeout(20*time.Millisecond))

	_, err := o.CreateMeeting(context.Background(), store.UserRecord{ID: "1"}, testRequest())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateCreatingEvent, FailedStage(err))
}

func TestJoinMeeting(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	alice, err := st.CreateUser(ctx, "alice", "p@ss1")
	require.NoError(t, err)
	bob, err := st.CreateUser(ctx, "bob", "hunter2")
	require.NoError(t, err)

	o := New(&fakeCredentials{token: validToken()}, &fakeCalendar{}, st)
	rec, err := o.CreateMeeting(ctx, alice, testRequest())
	require.NoError(t, err)

	link, err := o.JoinMeeting(ctx, alice, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://meet.example/abc", link)

	_, err = o.JoinMeeting(ctx, bob, rec.ID)
	assert.ErrorIs(t, err, store.ErrMeetingNotFound)

	_, err = o.JoinMeeting(ctx, alice, "no-such-meeting")
	assert.ErrorIs(t, err, store.ErrMeetingNotFound)
}

func TestAuthorize(t *testing.T) {
	o := New(&fakeCredentials{}, &fakeCalendar{}, newTestStore(t))

	redirect, err := o.Authorize()
	require.NoError(t, err)
	assert.Equal(t, "state-1", redirect.State)
	assert.Contains(t, redirect.URL, "state=state-1")
}

func TestCompleteAuthorization(t *testing.T) {
	creds := &fakeCredentials{}
	o := New(creds, &fakeCalendar{}, newTestStore(t))
	user := store.UserRecord{ID: "1", Username: "admin"}

	require.NoError(t, o.CompleteAuthorization(context.Background(), user, "st", "st", "code-1"))
	assert.Equal(t, []string{"code-1"}, creds.completed)

	err := o.CompleteAuthorization(context.Background(), user, "", "st", "code-2")
	assert.ErrorIs(t, err, google.ErrAuthFlowMismatch)
	assert.Equal(t, StateAwaitingCredential, FailedStage(err))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_credential", StateAwaitingCredential.String())
	assert.Equal(t, "persisting_record", StatePersistingRecord.String())
	assert.Equal(t, "unknown", State(42).String())
}
