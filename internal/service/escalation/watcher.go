package escalation

import (
	"context"
	"time"

	"github.com/oshokin/guardian-engine/internal/audit"
	"github.com/oshokin/guardian-engine/internal/domain/alert"
	"github.com/oshokin/guardian-engine/internal/logger"
	"github.com/oshokin/guardian-engine/internal/metrics"
	"github.com/oshokin/guardian-engine/internal/repository/session"
	"github.com/oshokin/guardian-engine/internal/service/dispatch"
	"github.com/oshokin/guardian-engine/internal/service/notifier"
)

// Watcher observes a dispatching session's notification outcomes and flags
// fallback dispatch when contacts are not being reached. It never resolves
// a session; resolution is always an explicit signal.
type Watcher struct {
	// store is the session registry.
	store session.Store
	// caller invokes the external dispatch-call service.
	caller dispatch.Caller
	// sink receives escalation audit records.
	sink audit.Sink
	// ceiling is how long after confirmation a first Sent must arrive.
	ceiling time.Duration
}

// New creates a watcher with the given fallback ceiling.
func New(store session.Store, caller dispatch.Caller, sink audit.Sink, ceiling time.Duration) *Watcher {
	return &Watcher{
		store:   store,
		caller:  caller,
		sink:    sink,
		ceiling: ceiling,
	}
}

// Watch monitors one session until the context is cancelled.
// Fallback fires at most once: either when the ceiling passes with no contact
// reached, or immediately when every contact is exhausted with zero reached.
func (w *Watcher) Watch(
	ctx context.Context,
	sessionID string,
	confirmedAt time.Time,
	outcomes <-chan notifier.Outcome,
) {
	remaining := w.ceiling - time.Since(confirmedAt)
	if remaining < 0 {
		remaining = 0
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	var (
		sentSeen   bool
		escalated  bool
		timerFired bool
	)

	for {
		select {
		case <-ctx.Done():
			return

		case outcome, ok := <-outcomes:
			if !ok {
				// Notifier finished. With nothing reached and everything
				// exhausted there is no reason to wait out the ceiling.
				if !sentSeen && !escalated && w.allExhausted(ctx, sessionID) {
					w.escalate(ctx, sessionID)

					escalated = true
				}

				if timerFired || escalated || sentSeen {
					return
				}

				outcomes = nil

				continue
			}

			if outcome.Status == alert.AttemptSent {
				sentSeen = true

				continue
			}

			if outcome.Status == alert.AttemptExhausted && !sentSeen && !escalated &&
				w.allExhausted(ctx, sessionID) {
				w.escalate(ctx, sessionID)

				escalated = true
			}

		case <-timer.C:
			timerFired = true

			if !sentSeen && !escalated {
				w.escalate(ctx, sessionID)

				escalated = true
			}

			if outcomes == nil {
				return
			}
		}
	}
}

// allExhausted reports whether every snapshot contact ran out of retries
// with zero reached.
func (w *Watcher) allExhausted(ctx context.Context, sessionID string) bool {
	s, err := w.store.Get(ctx, sessionID)
	if err != nil {
		logger.ErrorKV(ctx, "Escalation watcher failed to load session",
			"session_id", sessionID, "error", err)

		return false
	}

	return s.AllContactsExhausted()
}

// escalate sets the fallback flag and invokes the dispatch-call service with
// the session's last known position.
func (w *Watcher) escalate(ctx context.Context, sessionID string) {
	now := time.Now().UTC()

	if err := w.store.SetFallbackRequired(ctx, sessionID); err != nil {
		logger.ErrorKV(ctx, "Failed to set fallback flag", "session_id", sessionID, "error", err)

		return
	}

	metrics.FallbackEscalated()

	w.sink.Emit(ctx, audit.Record{
		RecordedAt: now,
		Kind:       audit.KindFallbackRequired,
		SessionID:  sessionID,
		Detail:     "no contact reached",
	})

	logger.WarnKV(ctx, "Fallback dispatch required", "session_id", sessionID)

	s, err := w.store.Get(ctx, sessionID)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to load session for dispatch", "session_id", sessionID, "error", err)

		return
	}

	if err := w.caller.Call(ctx, sessionID, s.LastKnownLocation()); err != nil {
		logger.ErrorKV(ctx, "Dispatch call failed", "session_id", sessionID, "error", err)

		return
	}

	w.sink.Emit(ctx, audit.Record{
		RecordedAt: time.Now().UTC(),
		Kind:       audit.KindDispatchCalled,
		SessionID:  sessionID,
	})
}
