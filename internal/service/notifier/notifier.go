package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/oshokin/guardian-engine/internal/audit"
	"github.com/oshokin/guardian-engine/internal/domain/alert"
	"github.com/oshokin/guardian-engine/internal/logger"
	"github.com/oshokin/guardian-engine/internal/metrics"
	"github.com/oshokin/guardian-engine/internal/repository/session"
)

// Payload is what a channel sender delivers to a contact. It references the
// session's live location by link instead of embedding raw coordinates.
type Payload struct {
	// SessionID identifies the emergency the notification belongs to.
	SessionID string `json:"session_id"`
	// LocationLink points at the session's live location stream.
	LocationLink string `json:"location_link"`
}

// Sender delivers one notification over one channel.
// Implementations are external (push gateway, SMS provider).
type Sender interface {
	Send(ctx context.Context, channel alert.Channel, contact alert.EmergencyContact, payload Payload) error
}

// Outcome is one terminal or scheduled delivery result, streamed to the
// escalation watcher.
type Outcome struct {
	// SessionID identifies the session the attempt belongs to.
	SessionID string
	// ContactID identifies the contact.
	ContactID string
	// Channel is the delivery route.
	Channel alert.Channel
	// Status is the attempt status after the outcome.
	Status alert.AttemptStatus
	// AttemptNumber is the send count so far.
	AttemptNumber int
}

// Config holds the notifier's retry policy.
type Config struct {
	// BackoffBase is the first retry delay; each retry doubles it.
	BackoffBase time.Duration
	// MaxAttempts caps sends per (contact, channel) before exhaustion.
	MaxAttempts int
	// Channels are the delivery routes tried for every contact.
	Channels []alert.Channel
	// ShareLinkBase is the prefix of the live-location link put in payloads.
	ShareLinkBase string
}

// Notifier drives alert delivery to a session's contact snapshot.
// Contacts are independent: one contact's failures never delay another's
// delivery. Within one (contact, channel) record attempts are strictly
// sequential.
type Notifier struct {
	// store is the session registry receiving attempt records.
	store session.Store
	// sender performs the actual channel delivery.
	sender Sender
	// sink receives an audit record per outcome.
	sink audit.Sink
	// cfg is the retry policy.
	cfg Config
}

// New creates a notifier with the provided collaborators and retry policy.
func New(store session.Store, sender Sender, sink audit.Sink, cfg Config) *Notifier {
	if len(cfg.Channels) == 0 {
		cfg.Channels = []alert.Channel{alert.ChannelPush, alert.ChannelSMS}
	}

	return &Notifier{
		store:  store,
		sender: sender,
		sink:   sink,
		cfg:    cfg,
	}
}

// Run delivers notifications for the session until every contact is terminal
// or the context is cancelled, then closes the outcomes channel. It is safe
// to invoke again for the same session after a restart: contacts already
// reached and channels already exhausted are skipped based on the stored
// attempt records.
func (n *Notifier) Run(ctx context.Context, sessionID string, outcomes chan<- Outcome) {
	defer close(outcomes)

	current, err := n.store.Get(ctx, sessionID)
	if err != nil {
		logger.ErrorKV(ctx, "Notifier failed to load session", "session_id", sessionID, "error", err)

		return
	}

	var wg sync.WaitGroup

	for i := range current.ContactsSnapshot {
		contact := current.ContactsSnapshot[i]

		// Idempotent resume: a contact already reached gets no new sends.
		if current.ContactReached(contact.ID) {
			logger.InfoKV(ctx, "Contact already reached, skipping",
				"session_id", sessionID, "contact_id", contact.ID)

			continue
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			n.notifyContact(ctx, current, contact, outcomes)
		}()
	}

	wg.Wait()
}

// notifyContact races the configured channels for one contact.
// The first successful channel cancels the others.
func (n *Notifier) notifyContact(
	ctx context.Context,
	s *alert.AlertSession,
	contact alert.EmergencyContact,
	outcomes chan<- Outcome,
) {
	// contactCtx implements first-success-wins: a Sent on any channel
	// cancels the remaining channel attempts for this contact.
	contactCtx, reached := context.WithCancel(ctx)
	defer reached()

	var wg sync.WaitGroup

	for _, channel := range n.cfg.Channels {
		resumed := s.AttemptFor(contact.ID, channel)

		// A channel that already ran out of retries stays exhausted forever.
		if resumed != nil && resumed.Status == alert.AttemptExhausted {
			continue
		}

		startFrom := 0
		if resumed != nil {
			startFrom = resumed.AttemptNumber
		}

		wg.Add(1)

		go func(channel alert.Channel, startFrom int) {
			defer wg.Done()

			if n.deliver(contactCtx, s, contact, channel, startFrom, outcomes) {
				reached()
			}
		}(channel, startFrom)
	}

	wg.Wait()
}

// deliver runs the sequential attempt loop for one (contact, channel) record.
// It returns true when a send succeeded.
func (n *Notifier) deliver(
	ctx context.Context,
	s *alert.AlertSession,
	contact alert.EmergencyContact,
	channel alert.Channel,
	startFrom int,
	outcomes chan<- Outcome,
) bool {
	payload := Payload{
		SessionID:    s.SessionID,
		LocationLink: n.cfg.ShareLinkBase + s.SessionID,
	}

	for attempt := startFrom + 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}

		// Mark the send as issued before it goes out, so a crash mid-send
		// counts the attempt on resume instead of double-delivering.
		n.record(ctx, s.SessionID, alert.NotificationAttempt{
			ContactID:     contact.ID,
			Channel:       channel,
			AttemptNumber: attempt,
			Status:        alert.AttemptPending,
			UpdatedAt:     time.Now().UTC(),
		}, outcomes)

		// The send itself is past the point of no return: once issued, its
		// outcome is recorded even if the session resolves meanwhile.
		err := n.sender.Send(ctx, channel, contact, payload)

		if err == nil {
			n.record(ctx, s.SessionID, alert.NotificationAttempt{
				ContactID:     contact.ID,
				Channel:       channel,
				AttemptNumber: attempt,
				Status:        alert.AttemptSent,
				UpdatedAt:     time.Now().UTC(),
			}, outcomes)

			return true
		}

		if attempt == n.cfg.MaxAttempts {
			logger.WarnKV(ctx, "Contact channel exhausted",
				"session_id", s.SessionID, "contact_id", contact.ID, "channel", string(channel), "error", err)

			n.record(ctx, s.SessionID, alert.NotificationAttempt{
				ContactID:     contact.ID,
				Channel:       channel,
				AttemptNumber: attempt,
				Status:        alert.AttemptExhausted,
				UpdatedAt:     time.Now().UTC(),
			}, outcomes)

			return false
		}

		// Exponential backoff: base, 2x, 4x, ...
		delay := n.cfg.BackoffBase << (attempt - 1)
		retryAt := time.Now().UTC().Add(delay)

		n.record(ctx, s.SessionID, alert.NotificationAttempt{
			ContactID:     contact.ID,
			Channel:       channel,
			AttemptNumber: attempt,
			Status:        alert.AttemptFailed,
			NextRetryAt:   &retryAt,
			UpdatedAt:     time.Now().UTC(),
		}, outcomes)

		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()

			return false
		case <-timer.C:
		}
	}

	return false
}

// record persists the attempt, reports it upward and audits it.
// Cancellation must not lose an outcome already earned, so the write uses a
// context detached from cancellation.
func (n *Notifier) record(
	ctx context.Context,
	sessionID string,
	attempt alert.NotificationAttempt,
	outcomes chan<- Outcome,
) {
	writeCtx := context.WithoutCancel(ctx)

	if err := n.store.UpsertAttempt(writeCtx, sessionID, attempt); err != nil {
		logger.ErrorKV(ctx, "Failed to persist notification attempt",
			"session_id", sessionID, "contact_id", attempt.ContactID, "error", err)
	}

	metrics.ObserveAttempt(string(attempt.Channel), string(attempt.Status))

	n.sink.Emit(writeCtx, audit.Record{
		RecordedAt: attempt.UpdatedAt,
		Kind:       audit.KindNotificationOutcome,
		SessionID:  sessionID,
		ContactID:  attempt.ContactID,
		Channel:    attempt.Channel,
		Status:     attempt.Status,
	})

	// The watcher stops reading once the session context is cancelled;
	// dropping the report then is fine because the record is already stored.
	select {
	case outcomes <- Outcome{
		SessionID:     sessionID,
		ContactID:     attempt.ContactID,
		Channel:       attempt.Channel,
		Status:        attempt.Status,
		AttemptNumber: attempt.AttemptNumber,
	}:
	case <-ctx.Done():
	}
}
