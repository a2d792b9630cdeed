package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oshokin/guardian-engine/internal/config"
	"github.com/oshokin/guardian-engine/internal/domain/alert"
)

// FileStore persists sessions to a JSON file on disk so an engine restart can
// resume in-flight emergencies (the notifier's idempotent resume depends on
// the attempt records surviving the process).
//
// It layers file persistence over MemoryStore: every mutation updates memory
// first and then rewrites the snapshot file.
type FileStore struct {
	// mem holds the authoritative in-memory state.
	mem *MemoryStore
	// path is the filesystem location of the JSON snapshot.
	path string
	// mu serializes snapshot writes.
	mu sync.Mutex
}

// fileSnapshot is the on-disk JSON layout.
type fileSnapshot struct {
	// SavedAt is when the snapshot was written.
	SavedAt time.Time `json:"saved_at"`
	// Sessions is every known session, terminal ones included.
	Sessions []*alert.AlertSession `json:"sessions"`
}

// NewFileStore creates a file-backed store, loading any existing snapshot.
func NewFileStore(path string) (*FileStore, error) {
	f := &FileStore{
		mem:  NewMemoryStore(),
		path: filepath.Clean(path),
	}

	contents, err := os.ReadFile(f.path)

	switch {
	case err == nil:
		var snap fileSnapshot
		if err = json.Unmarshal(contents, &snap); err != nil {
			return nil, fmt.Errorf("decode session file: %w", err)
		}

		f.mem.restore(snap.Sessions)
	case errors.Is(err, os.ErrNotExist):
		// Fresh store.
	default:
		return nil, fmt.Errorf("read session file: %w", err)
	}

	return f, nil
}

// persist rewrites the snapshot file from the current memory state.
func (f *FileStore) persist() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := fileSnapshot{
		SavedAt:  time.Now().UTC(),
		Sessions: f.mem.snapshot(),
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}

	if err = os.WriteFile(f.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}

	return nil
}

// CreateIfAbsent persists the session unless the user already has an active one.
func (f *FileStore) CreateIfAbsent(ctx context.Context, s *alert.AlertSession) (*alert.AlertSession, error) {
	created, err := f.mem.CreateIfAbsent(ctx, s)
	if err != nil {
		return created, err
	}

	if err = f.persist(); err != nil {
		return nil, err
	}

	return created, nil
}

// Get returns the session by ID.
func (f *FileStore) Get(ctx context.Context, sessionID string) (*alert.AlertSession, error) {
	return f.mem.Get(ctx, sessionID)
}

// ActiveSessionFor returns the user's non-terminal session.
func (f *FileStore) ActiveSessionFor(ctx context.Context, userID string) (*alert.AlertSession, error) {
	return f.mem.ActiveSessionFor(ctx, userID)
}

// AppendLocation appends a position sample to the session history.
func (f *FileStore) AppendLocation(ctx context.Context, sessionID string, sample alert.LocationSample) error {
	if err := f.mem.AppendLocation(ctx, sessionID, sample); err != nil {
		return err
	}

	return f.persist()
}

// UpsertAttempt creates or replaces the record for the attempt's (contact, channel) pair.
func (f *FileStore) UpsertAttempt(ctx context.Context, sessionID string, attempt alert.NotificationAttempt) error {
	if err := f.mem.UpsertAttempt(ctx, sessionID, attempt); err != nil {
		return err
	}

	return f.persist()
}

// CompareAndSetState advances the session state, enforcing the transition table.
func (f *FileStore) CompareAndSetState(
	ctx context.Context,
	sessionID string,
	from, to alert.SessionState,
	at time.Time,
) (*alert.AlertSession, error) {
	updated, err := f.mem.CompareAndSetState(ctx, sessionID, from, to, at)
	if err != nil {
		return nil, err
	}

	if err = f.persist(); err != nil {
		return nil, err
	}

	return updated, nil
}

// SnapshotContacts fixes the session's contact list.
func (f *FileStore) SnapshotContacts(
	ctx context.Context,
	sessionID string,
	contacts []alert.EmergencyContact,
) error {
	if err := f.mem.SnapshotContacts(ctx, sessionID, contacts); err != nil {
		return err
	}

	return f.persist()
}

// SetFallbackRequired marks the session as needing fallback dispatch.
func (f *FileStore) SetFallbackRequired(ctx context.Context, sessionID string) error {
	if err := f.mem.SetFallbackRequired(ctx, sessionID); err != nil {
		return err
	}

	return f.persist()
}
