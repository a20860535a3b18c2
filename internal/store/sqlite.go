package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT NOT NULL PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS meetings (
    id                TEXT NOT NULL PRIMARY KEY,
    user_id           TEXT NOT NULL REFERENCES users(id),
    seq               INTEGER NOT NULL,
    name              TEXT NOT NULL,
    date              TEXT NOT NULL,
    time              TEXT NOT NULL,
    meet_link         TEXT NOT NULL,
    created_by        TEXT NOT NULL,
    created_at        TEXT NOT NULL,
    calendar_event_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS meetings_user_seq ON meetings(user_id, seq);
`

const meetingColumns = `id, name, date, time, meet_link, created_by, created_at, calendar_event_id`

// SQLiteStore keeps users and meetings in an embedded SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex
	opts options
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// The store mutex already serializes access; one connection keeps
	// pragmas and transactions on the same handle.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("error applying %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing tables: %w", err)
	}

	return &SQLiteStore{db: db, opts: applyOptions(opts)}, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.opts.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStoreWriteFailed, err)
	}
	return nil
}

// CreateUser implements Store.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, password string) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec UserRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE username = ?`, username).Scan(&exists)
		switch {
		case err == nil:
			return ErrUsernameTaken
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check username: %w", err)
		}

		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
			return fmt.Errorf("failed to count users: %w", err)
		}

		hash, err := s.opts.hasher.Hash(password)
		if err != nil {
			return err
		}

		rec = UserRecord{
			ID:           strconv.Itoa(count + 1),
			Username:     username,
			PasswordHash: hash,
			CreatedAt:    s.opts.now().UTC(),
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
			rec.ID, rec.Username, rec.PasswordHash, formatTime(rec.CreatedAt))
		if err != nil {
			return fmt.Errorf("%w: insert user: %w", ErrStoreWriteFailed, err)
		}
		return nil
	})
	if err != nil {
		return UserRecord{}, err
	}

	s.opts.logger.Debug("user created", "user_id", rec.ID)
	return rec, nil
}

// VerifyUser implements Store.
func (s *SQLiteStore) VerifyUser(ctx context.Context, username, password string) (UserRecord, error) {
	s.mu.Lock()
	rec, err := s.userBy(ctx, s.db, `username = ?`, username)
	s.mu.Unlock()

	if errors.Is(err, ErrUserNotFound) {
		s.opts.hasher.Burn(password)
		return UserRecord{}, ErrInvalidCredentials
	}
	if err != nil {
		return UserRecord{}, err
	}
	if !s.opts.hasher.Check(rec.PasswordHash, password) {
		return UserRecord{}, ErrInvalidCredentials
	}
	return rec, nil
}

// FindUserByID implements Store.
func (s *SQLiteStore) FindUserByID(ctx context.Context, id string) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userBy(ctx, s.db, `id = ?`, id)
}

// ListUsers implements Store.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	rows.Close()

	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })

	users := make([]UserRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.userBy(ctx, s.db, `id = ?`, id)
		if err != nil {
			return nil, err
		}
		users = append(users, rec)
	}
	return users, nil
}

// AppendMeeting implements Store.
func (s *SQLiteStore) AppendMeeting(ctx context.Context, userID string, meeting MeetingRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to look up user: %w", err)
		}
		found = true

		var seq int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM meetings WHERE user_id = ?`, userID).Scan(&seq); err != nil {
			return fmt.Errorf("failed to allocate meeting sequence: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO meetings (id, user_id, seq, name, date, time, meet_link, created_by, created_at, calendar_event_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			meeting.ID, userID, seq, meeting.Name, meeting.Date, meeting.Time, meeting.MeetLink,
			meeting.CreatedBy, formatTime(meeting.CreatedAt), meeting.CalendarEventID)
		if err != nil {
			return fmt.Errorf("%w: insert meeting: %w", ErrStoreWriteFailed, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// FindMeeting implements Store.
func (s *SQLiteStore) FindMeeting(ctx context.Context, userID, meetingID string) (MeetingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE user_id = ? AND id = ?`, userID, meetingID)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MeetingRecord{}, ErrMeetingNotFound
	}
	if err != nil {
		return MeetingRecord{}, err
	}
	return m, nil
}

// UserMeetings implements Store.
func (s *SQLiteStore) UserMeetings(ctx context.Context, userID string) ([]MeetingRecord, error) {
	rec, err := s.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rec.Meetings, nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) userBy(ctx context.Context, q queryer, where string, arg any) (UserRecord, error) {
	var (
		rec       UserRecord
		createdAt string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE `+where, arg).
		Scan(&rec.ID, &rec.Username, &rec.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, ErrUserNotFound
	}
	if err != nil {
		return UserRecord{}, fmt.Errorf("failed to load user: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return UserRecord{}, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE user_id = ? ORDER BY seq`, rec.ID)
	if err != nil {
		return UserRecord{}, fmt.Errorf("failed to load meetings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return UserRecord{}, err
		}
		rec.Meetings = append(rec.Meetings, m)
	}
	if err := rows.Err(); err != nil {
		return UserRecord{}, fmt.Errorf("failed to load meetings: %w", err)
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row scanner) (MeetingRecord, error) {
	var (
		m         MeetingRecord
		createdAt string
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Date, &m.Time, &m.MeetLink, &m.CreatedBy, &createdAt, &m.CalendarEventID); err != nil {
		return MeetingRecord{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return MeetingRecord{}, err
	}
	m.CreatedAt = t
	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}
