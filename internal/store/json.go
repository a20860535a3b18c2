package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
)

// fileData is the on-disk layout: {"users": {username: record}}.
type fileData struct {
	Users map[string]*UserRecord `json:"users"`
}

// JSONStore keeps every user in a single JSON file. Each operation loads the
// whole file and, when it mutates, rewrites the whole file.
type JSONStore struct {
	path string
	mu   sync.Mutex
	opts options
}

var _ Store = (*JSONStore)(nil)

// NewJSONStore opens the store at path, creating an empty file if needed.
func NewJSONStore(path string, opts ...Option) (*JSONStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}

	s := &JSONStore{
		path: path,
		opts: applyOptions(opts),
	}

	if err := s.ensureFile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONStore) ensureFile() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat store file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	return s.save(&fileData{Users: map[string]*UserRecord{}})
}

func (s *JSONStore) load() (*fileData, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode store file %s: %w", s.path, err)
	}
	if data.Users == nil {
		data.Users = map[string]*UserRecord{}
	}
	return &data, nil
}

// save writes data to a temp file in the same directory and renames it over
// the store file, so readers see either the old or the new file.
func (s *JSONStore) save(data *fileData) error {
	raw, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrStoreWriteFailed, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrStoreWriteFailed, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: write: %w", ErrStoreWriteFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: sync: %w", ErrStoreWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close: %w", ErrStoreWriteFailed, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("%w: chmod: %w", ErrStoreWriteFailed, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("%w: rename: %w", ErrStoreWriteFailed, err)
	}
	return nil
}

// CreateUser implements Store.
func (s *JSONStore) CreateUser(ctx context.Context, username, password string) (UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return UserRecord{}, err
	}

	if _, exists := data.Users[username]; exists {
		return UserRecord{}, ErrUsernameTaken
	}

	hash, err := s.opts.hasher.Hash(password)
	if err != nil {
		return UserRecord{}, err
	}

	rec := &UserRecord{
		ID:           strconv.Itoa(len(data.Users) + 1),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.opts.now().UTC(),
	}
	data.Users[username] = rec

	if err := s.save(data); err != nil {
		return UserRecord{}, err
	}

	s.opts.logger.Debug("user created", "user_id", rec.ID)
	return *rec, nil
}

// VerifyUser implements Store.
func (s *JSONStore) VerifyUser(ctx context.Context, username, password string) (UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}

	s.mu.Lock()
	data, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return UserRecord{}, err
	}

	rec, ok := data.Users[username]
	if !ok {
		s.opts.hasher.Burn(password)
		return UserRecord{}, ErrInvalidCredentials
	}
	if !s.opts.hasher.Check(rec.PasswordHash, password) {
		return UserRecord{}, ErrInvalidCredentials
	}
	return *rec, nil
}

// FindUserByID implements Store.
func (s *JSONStore) FindUserByID(ctx context.Context, id string) (UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return UserRecord{}, err
	}

	if rec := findByID(data, id); rec != nil {
		return *rec, nil
	}
	return UserRecord{}, ErrUserNotFound
}

// ListUsers implements Store.
func (s *JSONStore) ListUsers(ctx context.Context) ([]UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return nil, err
	}

	users := make([]UserRecord, 0, len(data.Users))
	for _, rec := range data.Users {
		users = append(users, *rec)
	}
	sort.Slice(users, func(i, j int) bool { return lessID(users[i].ID, users[j].ID) })
	return users, nil
}

// AppendMeeting implements Store.
func (s *JSONStore) AppendMeeting(ctx context.Context, userID string, meeting MeetingRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return false, err
	}

	rec := findByID(data, userID)
	if rec == nil {
		return false, nil
	}
	rec.Meetings = append(rec.Meetings, meeting)

	if err := s.save(data); err != nil {
		return false, err
	}
	return true, nil
}

// FindMeeting implements Store.
func (s *JSONStore) FindMeeting(ctx context.Context, userID, meetingID string) (MeetingRecord, error) {
	meetings, err := s.UserMeetings(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return MeetingRecord{}, ErrMeetingNotFound
		}
		return MeetingRecord{}, err
	}
	for _, m := range meetings {
		if m.ID == meetingID {
			return m, nil
		}
	}
	return MeetingRecord{}, ErrMeetingNotFound
}

// UserMeetings implements Store.
func (s *JSONStore) UserMeetings(ctx context.Context, userID string) ([]MeetingRecord, error) {
	rec, err := s.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rec.Meetings, nil
}

// Ping implements Store.
func (s *JSONStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.load()
	return err
}

// Close implements Store. The file store holds no open handles.
func (s *JSONStore) Close() error { return nil }

// Path returns the store file location.
func (s *JSONStore) Path() string { return s.path }

func findByID(data *fileData, id string) *UserRecord {
	for _, rec := range data.Users {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}
