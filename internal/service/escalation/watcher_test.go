package escalation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/guardian-engine/internal/audit"
	"github.com/oshokin/guardian-engine/internal/domain/alert"
	"github.com/oshokin/guardian-engine/internal/repository/session"
	"github.com/oshokin/guardian-engine/internal/service/escalation"
	"github.com/oshokin/guardian-engine/internal/service/notifier"
)

// recordingCaller counts dispatch invocations.
type recordingCaller struct {
	mu    sync.Mutex
	calls int
	last  *alert.LocationSample
}

func (r *recordingCaller) Call(_ context.Context, _ string, last *alert.LocationSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	r.last = last

	return nil
}

func (r *recordingCaller) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.calls
}

// recordingSink captures emitted audit records.
type recordingSink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (r *recordingSink) Emit(_ context.Context, record audit.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, record)
}

func (r *recordingSink) kinds() []audit.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]audit.Kind, 0, len(r.records))
	for _, record := range r.records {
		result = append(result, record.Kind)
	}

	return result
}

// dispatchingSession stores a session already past confirmation.
func dispatchingSession(t *testing.T, store session.Store, contacts int) *alert.AlertSession {
	t.Helper()

	now := time.Now().UTC()
	s := &alert.AlertSession{
		SessionID:   "sess-1",
		UserID:      "user-1",
		State:       alert.StateDispatching,
		CreatedAt:   now,
		ConfirmedAt: now,
	}

	for i := 0; i < contacts; i++ {
		s.ContactsSnapshot = append(s.ContactsSnapshot, alert.EmergencyContact{
			ID:          string(rune('a' + i)),
			DisplayName: "Contact " + string(rune('A'+i)),
		})
	}

	_, err := store.CreateIfAbsent(context.Background(), s)
	require.NoError(t, err)

	return s
}

func TestWatcherEscalatesWhenCeilingPassesUnreached(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	caller := &recordingCaller{}
	sink := &recordingSink{}
	s := dispatchingSession(t, store, 2)

	err := store.AppendLocation(context.Background(), s.SessionID, alert.LocationSample{
		Latitude:   59.93,
		Longitude:  30.33,
		CapturedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	w := escalation.New(store, caller, sink, 50*time.Millisecond)
	outcomes := make(chan notifier.Outcome)
	done := make(chan struct{})

	go func() {
		defer close(done)

		w.Watch(context.Background(), s.SessionID, s.ConfirmedAt, outcomes)
	}()

	require.Eventually(t, func() bool {
		return caller.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	close(outcomes)
	<-done

	updated, err := store.Get(context.Background(), s.SessionID)
	require.NoError(t, err)
	require.True(t, updated.FallbackRequired)

	// The dispatch call carries the last known position.
	require.NotNil(t, caller.last)
	require.InDelta(t, 59.93, caller.last.Latitude, 1e-9)

	require.Equal(t, []audit.Kind{audit.KindFallbackRequired, audit.KindDispatchCalled}, sink.kinds())
}

func TestWatcherDoesNotEscalateWhenContactReached(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	caller := &recordingCaller{}
	s := dispatchingSession(t, store, 1)

	w := escalation.New(store, caller, &recordingSink{}, 30*time.Millisecond)
	outcomes := make(chan notifier.Outcome, 1)
	outcomes <- notifier.Outcome{
		SessionID: s.SessionID,
		ContactID: "a",
		Channel:   alert.ChannelPush,
		Status:    alert.AttemptSent,
	}
	close(outcomes)

	done := make(chan struct{})

	go func() {
		defer close(done)

		w.Watch(context.Background(), s.SessionID, s.ConfirmedAt, outcomes)
	}()

	<-done
	time.Sleep(60 * time.Millisecond)

	require.Zero(t, caller.count())

	updated, err := store.Get(context.Background(), s.SessionID)
	require.NoError(t, err)
	require.False(t, updated.FallbackRequired)
}

func TestWatcherEscalatesImmediatelyWhenAllExhausted(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	caller := &recordingCaller{}
	s := dispatchingSession(t, store, 1)

	// Every channel for the only contact ran out of retries.
	for _, channel := range []alert.Channel{alert.ChannelPush, alert.ChannelSMS} {
		err := store.UpsertAttempt(context.Background(), s.SessionID, alert.NotificationAttempt{
			ContactID:     "a",
			Channel:       channel,
			AttemptNumber: 5,
			Status:        alert.AttemptExhausted,
			UpdatedAt:     time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	// Ceiling far away: escalation must come from exhaustion, not the timer.
	w := escalation.New(store, caller, &recordingSink{}, time.Hour)
	outcomes := make(chan notifier.Outcome, 1)
	outcomes <- notifier.Outcome{
		SessionID: s.SessionID,
		ContactID: "a",
		Channel:   alert.ChannelSMS,
		Status:    alert.AttemptExhausted,
	}
	close(outcomes)

	done := make(chan struct{})

	go func() {
		defer close(done)

		w.Watch(context.Background(), s.SessionID, s.ConfirmedAt, outcomes)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not return after exhaustion escalation")
	}

	require.Equal(t, 1, caller.count())
}

func TestWatcherEscalatesAtMostOnce(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	caller := &recordingCaller{}
	s := dispatchingSession(t, store, 1)

	for _, channel := range []alert.Channel{alert.ChannelPush, alert.ChannelSMS} {
		err := store.UpsertAttempt(context.Background(), s.SessionID, alert.NotificationAttempt{
			ContactID:     "a",
			Channel:       channel,
			AttemptNumber: 5,
			Status:        alert.AttemptExhausted,
			UpdatedAt:     time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	w := escalation.New(store, caller, &recordingSink{}, 20*time.Millisecond)
	outcomes := make(chan notifier.Outcome)
	done := make(chan struct{})

	go func() {
		defer close(done)

		w.Watch(context.Background(), s.SessionID, s.ConfirmedAt, outcomes)
	}()

	// Let the ceiling escalate first, then deliver the exhaustion outcome.
	require.Eventually(t, func() bool {
		return caller.count() == 1
	}, 2*time.Second, 5*time.Millisecond)

	outcomes <- notifier.Outcome{
		SessionID: s.SessionID,
		ContactID: "a",
		Channel:   alert.ChannelSMS,
		Status:    alert.AttemptExhausted,
	}
	close(outcomes)
	<-done

	require.Equal(t, 1, caller.count())
}
