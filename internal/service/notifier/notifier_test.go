package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/guardian-engine/internal/audit"
	"github.com/oshokin/guardian-engine/internal/domain/alert"
	"github.com/oshokin/guardian-engine/internal/repository/session"
)

var errSendFailed = errors.New("send failed")

// scriptedSender fails or succeeds per (contact, channel, attempt) script and
// counts every send it receives.
type scriptedSender struct {
	// mu protects the counters.
	mu sync.Mutex
	// sends counts issued sends per contact+channel key.
	sends map[string]int
	// succeedOnAttempt maps contact+channel key to the attempt that succeeds.
	// Missing keys always fail.
	succeedOnAttempt map[string]int
}

func newScriptedSender(succeedOnAttempt map[string]int) *scriptedSender {
	return &scriptedSender{
		sends:            make(map[string]int),
		succeedOnAttempt: succeedOnAttempt,
	}
}

func key(contactID string, channel alert.Channel) string {
	return contactID + "/" + string(channel)
}

func (f *scriptedSender) Send(
	_ context.Context,
	channel alert.Channel,
	contact alert.EmergencyContact,
	_ Payload,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key(contact.ID, channel)
	f.sends[k]++

	if winAt, ok := f.succeedOnAttempt[k]; ok && f.sends[k] >= winAt {
		return nil
	}

	return errSendFailed
}

func (f *scriptedSender) sendCount(contactID string, channel alert.Channel) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.sends[key(contactID, channel)]
}

// dispatchingSession seeds a store with a session holding the given contacts.
func dispatchingSession(t *testing.T, store session.Store, contacts ...string) *alert.AlertSession {
	t.Helper()

	snapshot := make([]alert.EmergencyContact, 0, len(contacts))
	for _, id := range contacts {
		snapshot = append(snapshot, alert.EmergencyContact{ID: id, DisplayName: id, Verified: true})
	}

	s := &alert.AlertSession{
		SessionID:        "s-1",
		UserID:           "u-1",
		State:            alert.StateDispatching,
		CreatedAt:        time.Now().UTC(),
		ContactsSnapshot: snapshot,
	}

	_, err := store.CreateIfAbsent(context.Background(), s)
	require.NoError(t, err)

	return s
}

// drain collects outcomes until the channel closes.
func drain(outcomes <-chan Outcome) []Outcome {
	var all []Outcome
	for o := range outcomes {
		all = append(all, o)
	}

	return all
}

// testConfig returns a retry policy fast enough for tests.
func testConfig(channels ...alert.Channel) Config {
	if len(channels) == 0 {
		channels = []alert.Channel{alert.ChannelPush}
	}

	return Config{
		BackoffBase:   2 * time.Millisecond,
		MaxAttempts:   5,
		Channels:      channels,
		ShareLinkBase: "https://guardian.local/track/",
	}
}

// TestRun_IndependentContacts reproduces the three-contact scenario:
// A succeeds immediately, B exhausts all attempts, C succeeds on the third.
func TestRun_IndependentContacts(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	dispatchingSession(t, store, "a", "b", "c")

	sender := newScriptedSender(map[string]int{
		key("a", alert.ChannelPush): 1,
		key("c", alert.ChannelPush): 3,
	})

	n := New(store, sender, audit.NewLogSink(), testConfig())
	outcomes := make(chan Outcome, 64)

	n.Run(context.Background(), "s-1", outcomes)
	drain(outcomes)

	s, err := store.Get(context.Background(), "s-1")
	require.NoError(t, err)

	requireStatus := func(contactID string, want alert.AttemptStatus) {
		a := s.AttemptFor(contactID, alert.ChannelPush)
		require.NotNil(t, a, contactID)
		require.Equal(t, want, a.Status, contactID)
	}

	requireStatus("a", alert.AttemptSent)
	requireStatus("b", alert.AttemptExhausted)
	requireStatus("c", alert.AttemptSent)

	require.Equal(t, 1, sender.sendCount("a", alert.ChannelPush))
	require.Equal(t, 5, sender.sendCount("b", alert.ChannelPush))
	require.Equal(t, 3, sender.sendCount("c", alert.ChannelPush))

	// B's exhaustion never blocked A or C.
	require.True(t, s.ContactReached("a"))
	require.True(t, s.ContactReached("c"))
	require.False(t, s.ContactReached("b"))
}

// TestRun_FirstSuccessWinsAcrossChannels verifies that a Sent on one channel
// cancels the contact's other channel.
func TestRun_FirstSuccessWinsAcrossChannels(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	dispatchingSession(t, store, "a")

	// Push succeeds immediately; SMS would need many slow retries.
	sender := newScriptedSender(map[string]int{
		key("a", alert.ChannelPush): 1,
	})

	n := New(store, sender, audit.NewLogSink(), testConfig(alert.ChannelPush, alert.ChannelSMS))
	outcomes := make(chan Outcome, 64)

	n.Run(context.Background(), "s-1", outcomes)
	drain(outcomes)

	s, err := store.Get(context.Background(), "s-1")
	require.NoError(t, err)
	require.True(t, s.ContactReached("a"))

	// The SMS channel was cancelled well before its five attempts.
	require.Less(t, sender.sendCount("a", alert.ChannelSMS), 5)
}

// TestRun_IdempotentResume verifies no new sends go to a contact already Sent.
func TestRun_IdempotentResume(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	dispatchingSession(t, store, "a", "b")

	// Simulate a previous run: A was reached before the restart.
	require.NoError(t, store.UpsertAttempt(context.Background(), "s-1", alert.NotificationAttempt{
		ContactID:     "a",
		Channel:       alert.ChannelPush,
		AttemptNumber: 1,
		Status:        alert.AttemptSent,
		UpdatedAt:     time.Now().UTC(),
	}))

	sender := newScriptedSender(map[string]int{
		key("b", alert.ChannelPush): 1,
	})

	n := New(store, sender, audit.NewLogSink(), testConfig())
	outcomes := make(chan Outcome, 64)

	n.Run(context.Background(), "s-1", outcomes)
	drain(outcomes)

	// A received zero new sends; B was delivered normally.
	require.Equal(t, 0, sender.sendCount("a", alert.ChannelPush))
	require.Equal(t, 1, sender.sendCount("b", alert.ChannelPush))
}

// TestRun_ResumeContinuesAttemptCount verifies a restart resumes the attempt
// numbering instead of granting a fresh budget.
func TestRun_ResumeContinuesAttemptCount(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	dispatchingSession(t, store, "a")

	// Three attempts already burned before the restart.
	retryAt := time.Now().UTC()
	require.NoError(t, store.UpsertAttempt(context.Background(), "s-1", alert.NotificationAttempt{
		ContactID:     "a",
		Channel:       alert.ChannelPush,
		AttemptNumber: 3,
		Status:        alert.AttemptFailed,
		NextRetryAt:   &retryAt,
		UpdatedAt:     retryAt,
	}))

	sender := newScriptedSender(nil) // always fails

	n := New(store, sender, audit.NewLogSink(), testConfig())
	outcomes := make(chan Outcome, 64)

	n.Run(context.Background(), "s-1", outcomes)
	drain(outcomes)

	// Only attempts 4 and 5 were issued.
	require.Equal(t, 2, sender.sendCount("a", alert.ChannelPush))

	s, err := store.Get(context.Background(), "s-1")
	require.NoError(t, err)

	a := s.AttemptFor("a", alert.ChannelPush)
	require.NotNil(t, a)
	require.Equal(t, alert.AttemptExhausted, a.Status)
	require.Equal(t, 5, a.AttemptNumber)
}

// TestRun_CancelStopsBackoffPromptly verifies cancellation is observed during
// a backoff wait, leaving the record in its last stored status.
func TestRun_CancelStopsBackoffPromptly(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	dispatchingSession(t, store, "a")

	sender := newScriptedSender(nil) // always fails

	cfg := testConfig()
	cfg.BackoffBase = 10 * time.Second // cancellation must shortcut this

	n := New(store, sender, audit.NewLogSink(), cfg)
	outcomes := make(chan Outcome, 64)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		// Let the first attempt fail into its backoff, then resolve.
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan struct{})

	go func() {
		n.Run(ctx, "s-1", outcomes)
		close(done)
	}()

	drain(outcomes)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier did not observe cancellation promptly")
	}

	// Exactly one send was issued; the backoff wait never completed.
	require.Equal(t, 1, sender.sendCount("a", alert.ChannelPush))

	s, err := store.Get(context.Background(), "s-1")
	require.NoError(t, err)

	a := s.AttemptFor("a", alert.ChannelPush)
	require.NotNil(t, a)
	require.Equal(t, alert.AttemptFailed, a.Status)
}
