package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type backend struct {
	name string
	open func(t *testing.T, dir string) Store
}

func testOptions() []Option {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []Option{
		WithPasswordHasher(NewPasswordHasher(bcrypt.MinCost)),
		WithClock(func() time.Time { return fixed }),
	}
}

func backends() []backend {
	return []backend{
		{
			name: "json",
			open: func(t *testing.T, dir string) Store {
				s, err := NewJSONStore(filepath.Join(dir, "users.json"), testOptions()...)
				require.NoError(t, err)
				return s
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T, dir string) Store {
				s, err := NewSQLiteStore(context.Background(), filepath.Join(dir, "studygroup.db"), testOptions()...)
				require.NoError(t, err)
				return s
			},
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store, dir string)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			dir := t.TempDir()
			s := b.open(t, dir)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s, dir)
		})
	}
}

func meeting(id, name, createdBy string) MeetingRecord {
	return MeetingRecord{
		ID:              id,
		Name:            name,
		Date:            "2024-05-01",
		Time:            "14:00",
		MeetLink:        "https://meet.google.com/" + id,
		CreatedBy:       createdBy,
		CreatedAt:       time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC),
		CalendarEventID: "evt-" + id,
	}
}

func TestCreateUser(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()

		alice, err := s.CreateUser(ctx, "alice", "pw1")
		require.NoError(t, err)
		assert.Equal(t, "1", alice.ID)
		assert.Equal(t, "alice", alice.Username)
		assert.NotEqual(t, "pw1", alice.PasswordHash)
		assert.Empty(t, alice.Meetings)

		bob, err := s.CreateUser(ctx, "bob", "pw2")
		require.NoError(t, err)
		assert.Equal(t, "2", bob.ID)
	})
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()

		_, err := s.CreateUser(ctx, "alice", "pw1")
		require.NoError(t, err)

		_, err = s.CreateUser(ctx, "alice", "other")
		assert.ErrorIs(t, err, ErrUsernameTaken)

		// Username match is exact.
		_, err = s.CreateUser(ctx, "Alice", "pw1")
		assert.NoError(t, err)

		users, err := s.ListUsers(ctx)
		require.NoError(t, err)
		assert.Len(t, users, 2)
	})
}

func TestCreateUser_PasswordOverBcryptLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()
		password := strings.Repeat("x", 73)

		u, err := s.CreateUser(ctx, "alice", password)
		require.NoError(t, err)

		got, err := s.VerifyUser(ctx, "alice", password)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)

		_, err = s.VerifyUser(ctx, "alice", password[:72])
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestVerifyUser(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()

		created, err := s.CreateUser(ctx, "alice", "pw1")
		require.NoError(t, err)

		got, err := s.VerifyUser(ctx, "alice", "pw1")
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)

		_, wrongPassword := s.VerifyUser(ctx, "alice", "nope")
		_, unknownUser := s.VerifyUser(ctx, "mallory", "pw1")
		assert.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
		assert.ErrorIs(t, unknownUser, ErrInvalidCredentials)
		assert.Equal(t, wrongPassword.Error(), unknownUser.Error())
	})
}

func TestFindUserByID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()

		created, err := s.CreateUser(ctx, "alice", "pw1")
		require.NoError(t, err)

		got, err := s.FindUserByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Username)
		assert.True(t, created.CreatedAt.Equal(got.CreatedAt))

		_, err = s.FindUserByID(ctx, "99")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestListUsers_OrderedByID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()

		for i := 0; i < 11; i++ {
			_, err := s.CreateUser(ctx, fmt.Sprintf("user%02d", i), "pw")
			require.NoError(t, err)
		}

		users, err := s.ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 11)
		for i, u := range users {
			assert.Equal(t, fmt.Sprint(i+1), u.ID)
		}
	})
}

func TestAppendMeeting_PreservesOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()

		alice, err := s.CreateUser(ctx, "alice", "pw1")
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			ok, err := s.AppendMeeting(ctx, alice.ID, meeting(fmt.Sprintf("m%d", i), fmt.Sprintf("Session %d", i), alice.ID))
			require.NoError(t, err)
			require.True(t, ok)
		}

		meetings, err := s.UserMeetings(ctx, alice.ID)
		require.NoError(t, err)
		require.Len(t, meetings, 5)
		for i, m := range meetings {
			assert.Equal(t, fmt.Sprintf("m%d", i), m.ID)
		}
		assert.Equal(t, "evt-m0", meetings[0].CalendarEventID)
	})
}

func TestAppendMeeting_UnknownUser(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ok, err := s.AppendMeeting(context.Background(), "42", meeting("m1", "Orphan", "42"))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestFindMeeting_ScopedToOwner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()

		alice, err := s.CreateUser(ctx, "alice", "pw1")
		require.NoError(t, err)
		bob, err := s.CreateUser(ctx, "bob", "pw2")
		require.NoError(t, err)

		ok, err := s.AppendMeeting(ctx, alice.ID, meeting("abc", "Algebra", alice.ID))
		require.NoError(t, err)
		require.True(t, ok)

		got, err := s.FindMeeting(ctx, alice.ID, "abc")
		require.NoError(t, err)
		assert.Equal(t, "Algebra", got.Name)
		assert.Equal(t, "https://meet.google.com/abc", got.MeetLink)

		_, err = s.FindMeeting(ctx, bob.ID, "abc")
		assert.ErrorIs(t, err, ErrMeetingNotFound)

		_, err = s.FindMeeting(ctx, alice.ID, "missing")
		assert.ErrorIs(t, err, ErrMeetingNotFound)

		_, err = s.FindMeeting(ctx, "99", "abc")
		assert.ErrorIs(t, err, ErrMeetingNotFound)
	})
}

func TestStore_SurvivesReopen(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			s := b.open(t, dir)
			alice, err := s.CreateUser(ctx, "alice", "pw1")
			require.NoError(t, err)
			_, err = s.AppendMeeting(ctx, alice.ID, meeting("abc", "Algebra", alice.ID))
			require.NoError(t, err)
			require.NoError(t, s.Close())

			reopened := b.open(t, dir)
			defer reopened.Close()

			got, err := reopened.VerifyUser(ctx, "alice", "pw1")
			require.NoError(t, err)
			require.Len(t, got.Meetings, 1)
			assert.Equal(t, "abc", got.Meetings[0].ID)
		})
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		ctx := context.Background()

		alice, err := s.CreateUser(ctx, "alice", "pw1")
		require.NoError(t, err)

		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.AppendMeeting(ctx, alice.ID, meeting(fmt.Sprintf("m%d", i), "Concurrent", alice.ID))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		meetings, err := s.UserMeetings(ctx, alice.ID)
		require.NoError(t, err)
		assert.Len(t, meetings, n)
	})
}

func TestPing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string) {
		assert.NoError(t, s.Ping(context.Background()))
	})
}
