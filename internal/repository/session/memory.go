package session

import (
	"context"
	"sync"
	"time"

	"github.com/oshokin/guardian-engine/internal/domain/alert"
)

// MemoryStore keeps sessions in process memory.
// It is the reference Store implementation: the per-user active index makes
// the single-active-session invariant a single map lookup under one mutex,
// never a global lock across unrelated operations on the same user's data.
type MemoryStore struct {
	// mu protects both maps.
	mu sync.Mutex
	// sessions maps session ID to the authoritative session record.
	sessions map[string]*alert.AlertSession
	// activeByUser maps user ID to their non-terminal session ID.
	activeByUser map[string]string
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[string]*alert.AlertSession),
		activeByUser: make(map[string]string),
	}
}

// CreateIfAbsent persists the session unless the user already has an active one.
func (m *MemoryStore) CreateIfAbsent(_ context.Context, s *alert.AlertSession) (*alert.AlertSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if activeID, ok := m.activeByUser[s.UserID]; ok {
		return m.sessions[activeID].Clone(), alert.ErrSessionAlreadyActive
	}

	stored := s.Clone()
	m.sessions[stored.SessionID] = stored
	m.activeByUser[stored.UserID] = stored.SessionID

	return stored.Clone(), nil
}

// Get returns the session by ID.
func (m *MemoryStore) Get(_ context.Context, sessionID string) (*alert.AlertSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}

	return s.Clone(), nil
}

// ActiveSessionFor returns the user's non-terminal session.
func (m *MemoryStore) ActiveSessionFor(_ context.Context, userID string) (*alert.AlertSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	activeID, ok := m.activeByUser[userID]
	if !ok {
		return nil, ErrNotFound
	}

	return m.sessions[activeID].Clone(), nil
}

// AppendLocation appends a position sample to the session history.
func (m *MemoryStore) AppendLocation(_ context.Context, sessionID string, sample alert.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}

	s.LocationHistory = append(s.LocationHistory, sample)

	return nil
}

// UpsertAttempt creates or replaces the record for the attempt's (contact, channel) pair.
func (m *MemoryStore) UpsertAttempt(_ context.Context, sessionID string, attempt alert.NotificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}

	for i := range s.Attempts {
		if s.Attempts[i].ContactID == attempt.ContactID && s.Attempts[i].Channel == attempt.Channel {
			s.Attempts[i] = *attempt.Clone()

			return nil
		}
	}

	s.Attempts = append(s.Attempts, *attempt.Clone())

	return nil
}

// CompareAndSetState advances the session state, enforcing the transition table.
func (m *MemoryStore) CompareAndSetState(
	_ context.Context,
	sessionID string,
	from, to alert.SessionState,
	at time.Time,
) (*alert.AlertSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}

	if err := applyTransition(s, from, to, at); err != nil {
		return nil, err
	}

	if to.IsTerminal() {
		delete(m.activeByUser, s.UserID)
	}

	return s.Clone(), nil
}

// SnapshotContacts fixes the session's contact list.
func (m *MemoryStore) SnapshotContacts(
	_ context.Context,
	sessionID string,
	contacts []alert.EmergencyContact,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}

	s.ContactsSnapshot = append([]alert.EmergencyContact(nil), contacts...)

	return nil
}

// SetFallbackRequired marks the session as needing fallback dispatch.
func (m *MemoryStore) SetFallbackRequired(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}

	s.FallbackRequired = true

	return nil
}

// snapshot returns deep copies of every stored session, for persistence layers
// built on top of the memory store.
func (m *MemoryStore) snapshot() []*alert.AlertSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*alert.AlertSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, s.Clone())
	}

	return result
}

// restore loads the provided sessions, rebuilding the active index.
func (m *MemoryStore) restore(sessions []*alert.AlertSession) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range sessions {
		stored := s.Clone()
		m.sessions[stored.SessionID] = stored

		if !stored.State.IsTerminal() {
			m.activeByUser[stored.UserID] = stored.SessionID
		}
	}
}
