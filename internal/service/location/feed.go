package location

import (
	"context"
	"time"

	"github.com/oshokin/guardian-engine/internal/audit"
	"github.com/oshokin/guardian-engine/internal/domain/alert"
	"github.com/oshokin/guardian-engine/internal/logger"
	"github.com/oshokin/guardian-engine/internal/metrics"
	"github.com/oshokin/guardian-engine/internal/repository/session"
)

// Provider produces the user's current position.
// A missing or stale fix is reported as alert.ErrFeedUnavailable.
type Provider interface {
	Sample(ctx context.Context, userID string) (alert.LocationSample, error)
}

// Feed appends position samples to an active session at a fixed interval
// until its context is cancelled. Sampling failures are recorded as gaps,
// never treated as fatal.
type Feed struct {
	// store is the session registry receiving samples.
	store session.Store
	// provider supplies position fixes.
	provider Provider
	// sink receives gap records.
	sink audit.Sink
	// interval is the sampling period.
	interval time.Duration
}

// NewFeed creates a location feed with the given sampling interval.
func NewFeed(store session.Store, provider Provider, sink audit.Sink, interval time.Duration) *Feed {
	return &Feed{
		store:    store,
		provider: provider,
		sink:     sink,
		interval: interval,
	}
}

// Run samples until the context is cancelled. A sample already captured when
// cancellation arrives is still appended before teardown completes.
func (f *Feed) Run(ctx context.Context, sessionID, userID string) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	logger.InfoKV(ctx, "Location feed started", "session_id", sessionID, "interval", f.interval)

	for {
		select {
		case <-ctx.Done():
			logger.InfoKV(ctx, "Location feed stopped", "session_id", sessionID)

			return
		case <-ticker.C:
			f.tick(ctx, sessionID, userID)
		}
	}
}

// tick takes one sample and appends it, recording a gap on failure.
func (f *Feed) tick(ctx context.Context, sessionID, userID string) {
	sample, err := f.provider.Sample(ctx, userID)
	if err != nil {
		metrics.LocationGapRecorded()
		f.sink.Emit(ctx, audit.Record{
			RecordedAt: time.Now().UTC(),
			Kind:       audit.KindLocationGap,
			UserID:     userID,
			SessionID:  sessionID,
			Detail:     err.Error(),
		})

		return
	}

	// A captured sample survives a resolve racing this tick: the append uses
	// a context detached from cancellation so it is never silently lost.
	if err := f.store.AppendLocation(context.WithoutCancel(ctx), sessionID, sample); err != nil {
		logger.ErrorKV(ctx, "Failed to append location sample",
			"session_id", sessionID, "error", err)

		return
	}

	metrics.LocationSampleAppended()
}
