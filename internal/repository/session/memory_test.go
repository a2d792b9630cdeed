package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/guardian-engine/internal/domain/alert"
)

// newTestSession builds a minimal session in the given state.
func newTestSession(id, userID string, state alert.SessionState) *alert.AlertSession {
	return &alert.AlertSession{
		SessionID: id,
		UserID:    userID,
		State:     state,
		CreatedAt: time.Now().UTC(),
		ContactsSnapshot: []alert.EmergencyContact{
			{ID: "c-1", DisplayName: "Ann", PhoneNumber: "+15550001", Verified: true},
		},
	}
}

// TestCreateIfAbsent_SingleActivePerUser verifies the atomic check-and-create.
func TestCreateIfAbsent_SingleActivePerUser(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.CreateIfAbsent(ctx, newTestSession("s-1", "u-1", alert.StateAwaitingConfirmation))
	require.NoError(t, err)
	require.Equal(t, "s-1", first.SessionID)

	// Duplicate trigger surfaces the existing session unchanged.
	existing, err := store.CreateIfAbsent(ctx, newTestSession("s-2", "u-1", alert.StateAwaitingConfirmation))
	require.ErrorIs(t, err, alert.ErrSessionAlreadyActive)
	require.Equal(t, "s-1", existing.SessionID)

	// A different user is unaffected.
	_, err = store.CreateIfAbsent(ctx, newTestSession("s-3", "u-2", alert.StateAwaitingConfirmation))
	require.NoError(t, err)
}

// TestCreateIfAbsent_ConcurrentTriggers hammers the invariant from many goroutines.
func TestCreateIfAbsent_ConcurrentTriggers(t *testing.T) {
	t.Parallel()

	const attempts = 32

	store := NewMemoryStore()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		winners = make(map[string]bool)
		errs    []error
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			s, err := store.CreateIfAbsent(ctx, newTestSession(
				"s-"+string(rune('a'+n%26))+string(rune('a'+n/26)), "u-1", alert.StateAwaitingConfirmation))

			mu.Lock()
			defer mu.Unlock()

			winners[s.SessionID] = true

			if err == nil {
				created++
			} else {
				errs = append(errs, err)
			}
		}(i)
	}

	wg.Wait()

	// Exactly one creation won; every loser saw the same session.
	require.Equal(t, 1, created)
	require.Len(t, winners, 1)

	for _, err := range errs {
		require.ErrorIs(t, err, alert.ErrSessionAlreadyActive)
	}
}

// TestCompareAndSetState covers forward transitions, mismatches and timestamps.
func TestCompareAndSetState(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreateIfAbsent(ctx, newTestSession("s-1", "u-1", alert.StateAwaitingConfirmation))
	require.NoError(t, err)

	confirmedAt := time.Now().UTC()

	updated, err := store.CompareAndSetState(ctx, "s-1", alert.StateAwaitingConfirmation, alert.StateConfirmed, confirmedAt)
	require.NoError(t, err)
	require.Equal(t, alert.StateConfirmed, updated.State)
	require.Equal(t, confirmedAt, updated.ConfirmedAt)

	// Backward write is rejected and leaves the session unchanged.
	_, err = store.CompareAndSetState(ctx, "s-1", alert.StateConfirmed, alert.StateAwaitingConfirmation, time.Now())
	require.ErrorIs(t, err, alert.ErrInvalidStateTransition)

	// Stale "from" is rejected.
	_, err = store.CompareAndSetState(ctx, "s-1", alert.StateAwaitingConfirmation, alert.StateConfirmed, time.Now())
	require.ErrorIs(t, err, alert.ErrInvalidStateTransition)

	current, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, alert.StateConfirmed, current.State)

	// Terminal transition stamps ResolvedAt and frees the active slot.
	_, err = store.CompareAndSetState(ctx, "s-1", alert.StateConfirmed, alert.StateResolved, time.Now().UTC())
	require.NoError(t, err)

	_, err = store.ActiveSessionFor(ctx, "u-1")
	require.ErrorIs(t, err, ErrNotFound)

	// The slot is free for a brand-new emergency.
	_, err = store.CreateIfAbsent(ctx, newTestSession("s-2", "u-1", alert.StateAwaitingConfirmation))
	require.NoError(t, err)
}

// TestAppendsAndFallback covers location/attempt writes and the fallback flag.
func TestAppendsAndFallback(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreateIfAbsent(ctx, newTestSession("s-1", "u-1", alert.StateDispatching))
	require.NoError(t, err)

	require.NoError(t, store.AppendLocation(ctx, "s-1", alert.LocationSample{
		Latitude: 55.75, Longitude: 37.61, AccuracyMeters: 8, CapturedAt: time.Unix(100, 0),
	}))
	require.NoError(t, store.AppendLocation(ctx, "s-1", alert.LocationSample{
		Latitude: 55.76, Longitude: 37.62, AccuracyMeters: 9, CapturedAt: time.Unix(110, 0),
	}))

	attempt := alert.NotificationAttempt{
		ContactID:     "c-1",
		Channel:       alert.ChannelPush,
		AttemptNumber: 1,
		Status:        alert.AttemptPending,
		UpdatedAt:     time.Unix(100, 0),
	}
	require.NoError(t, store.UpsertAttempt(ctx, "s-1", attempt))

	// Upsert replaces the same (contact, channel) record instead of appending.
	attempt.Status = alert.AttemptSent
	attempt.AttemptNumber = 2
	require.NoError(t, store.UpsertAttempt(ctx, "s-1", attempt))

	require.NoError(t, store.SetFallbackRequired(ctx, "s-1"))

	s, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, s.LocationHistory, 2)
	require.True(t, s.LocationHistory[0].CapturedAt.Before(s.LocationHistory[1].CapturedAt))
	require.Len(t, s.Attempts, 1)
	require.Equal(t, alert.AttemptSent, s.Attempts[0].Status)
	require.Equal(t, 2, s.Attempts[0].AttemptNumber)
	require.True(t, s.FallbackRequired)

	// Unknown sessions are reported as such.
	require.ErrorIs(t, store.AppendLocation(ctx, "nope", alert.LocationSample{}), ErrNotFound)
	require.ErrorIs(t, store.SetFallbackRequired(ctx, "nope"), ErrNotFound)

	_, err = store.Get(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
}
