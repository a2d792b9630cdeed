package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/guardian-engine/internal/audit"
	"github.com/oshokin/guardian-engine/internal/domain/alert"
	"github.com/oshokin/guardian-engine/internal/logger"
	"github.com/oshokin/guardian-engine/internal/metrics"
	"github.com/oshokin/guardian-engine/internal/repository/session"
	"github.com/oshokin/guardian-engine/internal/service/dispatch"
	"github.com/oshokin/guardian-engine/internal/service/escalation"
	"github.com/oshokin/guardian-engine/internal/service/location"
	"github.com/oshokin/guardian-engine/internal/service/notifier"
)

// outcomeBuffer decouples the notifier's outcome stream from the escalation
// watcher so a slow reader never delays delivery attempts.
const outcomeBuffer = 16

// ContactDirectory resolves the user's current emergency contact list.
// The engine reads it exactly once per session, at confirmation time.
type ContactDirectory interface {
	Contacts(ctx context.Context, userID string) ([]alert.EmergencyContact, error)
}

// Config holds the engine's confirmation policy.
type Config struct {
	// ButtonGrace is the cancel window after a button trigger.
	ButtonGrace time.Duration
	// VoiceGrace is the cancel window after a voice trigger.
	// Zero confirms immediately.
	VoiceGrace time.Duration
	// DispatchOnConfirm invokes the dispatch caller at confirmation instead
	// of waiting for fallback escalation.
	DispatchOnConfirm bool
}

// Engine drives the alert session lifecycle: it opens sessions from
// normalized triggers, runs the grace window, and on confirmation starts the
// location feed, the contact notifier and the escalation watcher for the
// session. Cancellation and resolution race confirmation through the
// registry's compare-and-set, so exactly one outcome wins.
type Engine struct {
	// store is the session registry.
	store session.Store
	// sink receives lifecycle audit records.
	sink audit.Sink
	// directory provides the contact snapshot at confirmation.
	directory ContactDirectory
	// notifier delivers alerts to the contact snapshot.
	notifier *notifier.Notifier
	// feed samples the user's position during dispatching.
	feed *location.Feed
	// watcher escalates sessions with no reached contact.
	watcher *escalation.Watcher
	// caller is invoked at confirmation when DispatchOnConfirm is set.
	caller dispatch.Caller
	// cfg is the confirmation policy.
	cfg Config

	// rootCtx bounds the lifetime of every per-session worker.
	rootCtx context.Context
	// rootCancel tears down all workers on Close.
	rootCancel context.CancelFunc
	// wg tracks grace timers and session workers for Close.
	wg sync.WaitGroup

	// mu protects workerCancels.
	mu sync.Mutex
	// workerCancels maps session ID to the cancel func of its worker group.
	workerCancels map[string]context.CancelFunc
}

// New creates an engine. Close must be called to release its workers.
func New(
	store session.Store,
	sink audit.Sink,
	directory ContactDirectory,
	n *notifier.Notifier,
	feed *location.Feed,
	watcher *escalation.Watcher,
	caller dispatch.Caller,
	cfg Config,
) *Engine {
	rootCtx, rootCancel := context.WithCancel(context.Background())

	return &Engine{
		store:         store,
		sink:          sink,
		directory:     directory,
		notifier:      n,
		feed:          feed,
		watcher:       watcher,
		caller:        caller,
		cfg:           cfg,
		rootCtx:       rootCtx,
		rootCancel:    rootCancel,
		workerCancels: make(map[string]context.CancelFunc),
	}
}

// Close stops every grace timer and session worker and waits for them.
func (e *Engine) Close() {
	e.rootCancel()
	e.wg.Wait()
}

// Trigger opens a session for the normalized event. When the user already has
// an active session the existing session is returned together with
// alert.ErrSessionAlreadyActive; the duplicate changes nothing.
func (e *Engine) Trigger(
	ctx context.Context,
	userID string,
	event alert.TriggerEvent,
) (*alert.AlertSession, error) {
	now := time.Now().UTC()

	created, err := e.store.CreateIfAbsent(ctx, &alert.AlertSession{
		SessionID: uuid.NewString(),
		UserID:    userID,
		State:     alert.StateAwaitingConfirmation,
		CreatedAt: now,
	})

	switch {
	case errors.Is(err, alert.ErrSessionAlreadyActive):
		metrics.ObserveTrigger(string(event.Source), "duplicate")
		e.sink.Emit(ctx, audit.Record{
			RecordedAt: now,
			Kind:       audit.KindTriggerDuplicate,
			UserID:     userID,
			SessionID:  created.SessionID,
		})

		return created, err
	case err != nil:
		return nil, err
	}

	metrics.SessionOpened()
	metrics.ObserveTrigger(string(event.Source), "accepted")
	e.sink.Emit(ctx, audit.Record{
		RecordedAt: now,
		Kind:       audit.KindTriggerAccepted,
		UserID:     userID,
		SessionID:  created.SessionID,
		State:      created.State,
	})

	logger.InfoKV(ctx, "Alert session opened",
		"session_id", created.SessionID, "user_id", userID, "source", string(event.Source))

	grace := e.graceFor(event.Source)
	if grace <= 0 {
		// High-intent trigger: no cancel window, confirm on the caller's clock.
		return e.confirm(ctx, created.SessionID, userID)
	}

	e.wg.Add(1)

	go e.awaitGrace(created.SessionID, userID, grace)

	return created, nil
}

// Cancel aborts the user's session during its grace window.
// Once confirmation has won the race it fails with ErrInvalidStateTransition.
func (e *Engine) Cancel(ctx context.Context, userID string) (*alert.AlertSession, error) {
	active, err := e.store.ActiveSessionFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	updated, err := e.store.CompareAndSetState(
		ctx,
		active.SessionID,
		alert.StateAwaitingConfirmation,
		alert.StateCancelled,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}

	metrics.SessionClosed()
	e.emitTransition(ctx, updated, "cancelled within grace window")

	logger.InfoKV(ctx, "Alert session cancelled",
		"session_id", updated.SessionID, "user_id", userID)

	return updated, nil
}

// Resolve closes a confirmed or dispatching session and stops its workers.
// The fallback flag, once set, survives resolution.
func (e *Engine) Resolve(ctx context.Context, sessionID string) (*alert.AlertSession, error) {
	now := time.Now().UTC()

	updated, err := e.store.CompareAndSetState(
		ctx, sessionID, alert.StateDispatching, alert.StateResolved, now)
	if errors.Is(err, alert.ErrInvalidStateTransition) {
		// Resolution may arrive before the confirm pipeline reached Dispatching.
		updated, err = e.store.CompareAndSetState(
			ctx, sessionID, alert.StateConfirmed, alert.StateResolved, now)
	}

	if err != nil {
		return nil, err
	}

	e.stopWorkers(sessionID)
	metrics.SessionClosed()
	e.emitTransition(ctx, updated, "resolved")

	logger.InfoKV(ctx, "Alert session resolved", "session_id", sessionID)

	return updated, nil
}

// Active returns the user's non-terminal session, or session.ErrNotFound.
func (e *Engine) Active(ctx context.Context, userID string) (*alert.AlertSession, error) {
	return e.store.ActiveSessionFor(ctx, userID)
}

// graceFor returns the cancel window for the trigger source.
func (e *Engine) graceFor(source alert.TriggerSource) time.Duration {
	if source == alert.SourceVoicePhrase {
		return e.cfg.VoiceGrace
	}

	return e.cfg.ButtonGrace
}

// awaitGrace sleeps out the cancel window and then tries to confirm.
// Losing the compare-and-set to a cancel is the expected quiet outcome.
func (e *Engine) awaitGrace(sessionID, userID string, grace time.Duration) {
	defer e.wg.Done()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-e.rootCtx.Done():
		return
	case <-timer.C:
	}

	if _, err := e.confirm(e.rootCtx, sessionID, userID); err != nil &&
		!errors.Is(err, alert.ErrInvalidStateTransition) {
		logger.ErrorKV(e.rootCtx, "Grace window confirmation failed",
			"session_id", sessionID, "error", err)
	}
}

// confirm advances the session to Confirmed, fixes the contact snapshot,
// moves on to Dispatching and starts the session's workers.
func (e *Engine) confirm(ctx context.Context, sessionID, userID string) (*alert.AlertSession, error) {
	confirmed, err := e.store.CompareAndSetState(
		ctx,
		sessionID,
		alert.StateAwaitingConfirmation,
		alert.StateConfirmed,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}

	e.emitTransition(ctx, confirmed, "grace window elapsed")

	// The snapshot is fixed here; directory edits after this point never
	// change who gets notified for this session.
	contacts, err := e.directory.Contacts(ctx, userID)
	if err != nil {
		// A directory outage must not stall the emergency: the session runs
		// with an empty snapshot and the fallback ceiling takes over.
		logger.ErrorKV(ctx, "Contact directory lookup failed",
			"session_id", sessionID, "user_id", userID, "error", err)
	} else if err = e.store.SnapshotContacts(ctx, sessionID, contacts); err != nil {
		return nil, err
	}

	if e.cfg.DispatchOnConfirm {
		if err = e.caller.Call(ctx, sessionID, confirmed.LastKnownLocation()); err != nil {
			logger.ErrorKV(ctx, "Dispatch call at confirmation failed",
				"session_id", sessionID, "error", err)
		} else {
			e.sink.Emit(ctx, audit.Record{
				RecordedAt: time.Now().UTC(),
				Kind:       audit.KindDispatchCalled,
				UserID:     userID,
				SessionID:  sessionID,
			})
		}
	}

	dispatching, err := e.store.CompareAndSetState(
		ctx,
		sessionID,
		alert.StateConfirmed,
		alert.StateDispatching,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}

	e.emitTransition(ctx, dispatching, "delivery started")
	e.startWorkers(sessionID, userID, dispatching.ConfirmedAt)

	logger.InfoKV(ctx, "Alert session dispatching",
		"session_id", sessionID, "contacts", len(dispatching.ContactsSnapshot))

	return dispatching, nil
}

// startWorkers launches the location feed, the notifier and the escalation
// watcher for the session under a shared cancelable context.
func (e *Engine) startWorkers(sessionID, userID string, confirmedAt time.Time) {
	workerCtx, cancel := context.WithCancel(e.rootCtx)

	e.mu.Lock()
	e.workerCancels[sessionID] = cancel
	e.mu.Unlock()

	outcomes := make(chan notifier.Outcome, outcomeBuffer)

	e.wg.Add(3)

	go func() {
		defer e.wg.Done()

		e.feed.Run(workerCtx, sessionID, userID)
	}()

	go func() {
		defer e.wg.Done()

		e.notifier.Run(workerCtx, sessionID, outcomes)
	}()

	go func() {
		defer e.wg.Done()

		e.watcher.Watch(workerCtx, sessionID, confirmedAt, outcomes)
	}()
}

// stopWorkers cancels the session's worker group, if one is running.
func (e *Engine) stopWorkers(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cancel, ok := e.workerCancels[sessionID]; ok {
		cancel()
		delete(e.workerCancels, sessionID)
	}
}

// emitTransition writes one audit record for a state change.
func (e *Engine) emitTransition(ctx context.Context, s *alert.AlertSession, detail string) {
	e.sink.Emit(ctx, audit.Record{
		RecordedAt: time.Now().UTC(),
		Kind:       audit.KindStateTransition,
		UserID:     s.UserID,
		SessionID:  s.SessionID,
		State:      s.State,
		Detail:     detail,
	})
}
