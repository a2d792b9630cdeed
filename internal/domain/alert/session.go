package alert

import "time"

// EmergencyContact is a read-only snapshot entry of a user's contact.
// Contact data is owned by user settings outside the engine; the engine
// never mutates a contact.
type EmergencyContact struct {
	// ID identifies the contact within the owning user's contact list.
	ID string
	// DisplayName is the human-readable contact name.
	DisplayName string
	// PhoneNumber is the contact's phone number in E.164 form.
	PhoneNumber string
	// Relationship describes how the contact relates to the user.
	Relationship string
	// Verified indicates the contact has confirmed they accept alerts.
	Verified bool
}

// Clone returns a copy of the contact.
func (c *EmergencyContact) Clone() *EmergencyContact {
	if c == nil {
		return nil
	}

	cloned := *c

	return &cloned
}

// LocationSample is one position fix, append-only and ordered by capture time.
type LocationSample struct {
	// Latitude in decimal degrees.
	Latitude float64
	// Longitude in decimal degrees.
	Longitude float64
	// AccuracyMeters is the fix accuracy radius.
	AccuracyMeters float64
	// CapturedAt is when the fix was taken.
	CapturedAt time.Time
}

// AlertSession is the full lifecycle record of one emergency episode.
// At most one session per user may be in a non-terminal state.
type AlertSession struct {
	// SessionID uniquely identifies the session.
	SessionID string
	// UserID is the owner of the emergency episode.
	UserID string
	// State is the current lifecycle phase.
	State SessionState
	// CreatedAt is when the trigger opened the session.
	CreatedAt time.Time
	// ConfirmedAt is when the session left the grace window, zero until then.
	ConfirmedAt time.Time
	// ResolvedAt is when the session reached a terminal state, zero until then.
	ResolvedAt time.Time
	// FallbackRequired marks that fallback dispatch has been requested.
	// Once set it is never cleared, even after resolution.
	FallbackRequired bool
	// ContactsSnapshot is the contact set fixed at confirmation time.
	// Later edits to the user's contact list never affect it.
	ContactsSnapshot []EmergencyContact
	// LocationHistory is the append-only ordered list of position samples.
	LocationHistory []LocationSample
	// Attempts holds one evolving record per (contact, channel).
	Attempts []NotificationAttempt
}

// Clone returns a deep copy of the session to avoid leaking internal references.
func (s *AlertSession) Clone() *AlertSession {
	if s == nil {
		return nil
	}

	cloned := *s

	if s.ContactsSnapshot != nil {
		cloned.ContactsSnapshot = make([]EmergencyContact, len(s.ContactsSnapshot))
		copy(cloned.ContactsSnapshot, s.ContactsSnapshot)
	}

	if s.LocationHistory != nil {
		cloned.LocationHistory = make([]LocationSample, len(s.LocationHistory))
		copy(cloned.LocationHistory, s.LocationHistory)
	}

	if s.Attempts != nil {
		cloned.Attempts = make([]NotificationAttempt, len(s.Attempts))
		for i := range s.Attempts {
			cloned.Attempts[i] = *s.Attempts[i].Clone()
		}
	}

	return &cloned
}

// LastKnownLocation returns the most recent sample, nil when none was captured.
func (s *AlertSession) LastKnownLocation() *LocationSample {
	if len(s.LocationHistory) == 0 {
		return nil
	}

	last := s.LocationHistory[len(s.LocationHistory)-1]

	return &last
}

// AttemptFor returns the delivery record for the given contact and channel, nil when absent.
func (s *AlertSession) AttemptFor(contactID string, channel Channel) *NotificationAttempt {
	for i := range s.Attempts {
		a := &s.Attempts[i]
		if a.ContactID == contactID && a.Channel == channel {
			return a.Clone()
		}
	}

	return nil
}

// ContactReached reports whether any channel reached the contact.
func (s *AlertSession) ContactReached(contactID string) bool {
	for i := range s.Attempts {
		if s.Attempts[i].ContactID == contactID && s.Attempts[i].Status == AttemptSent {
			return true
		}
	}

	return false
}

// AnyContactReached reports whether at least one contact was reached.
func (s *AlertSession) AnyContactReached() bool {
	for i := range s.Attempts {
		if s.Attempts[i].Status == AttemptSent {
			return true
		}
	}

	return false
}

// AllContactsExhausted reports whether every snapshot contact has failed on
// every channel that was tried, with no contact reached. An empty snapshot
// reports false so the caller relies on the fallback ceiling instead.
func (s *AlertSession) AllContactsExhausted() bool {
	if len(s.ContactsSnapshot) == 0 || s.AnyContactReached() {
		return false
	}

	terminalContacts := make(map[string]bool, len(s.ContactsSnapshot))

	for i := range s.Attempts {
		a := &s.Attempts[i]
		if a.Status != AttemptExhausted {
			// A pending or retrying record means the contact may still be reached.
			if !a.Terminal() {
				return false
			}

			continue
		}

		terminalContacts[a.ContactID] = true
	}

	for i := range s.ContactsSnapshot {
		if !terminalContacts[s.ContactsSnapshot[i].ID] {
			return false
		}
	}

	return true
}
