package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/guardian-engine/internal/domain/alert"
)

// DefaultStaleness is how old a device-reported fix may be before the cache
// reports a gap instead of serving it.
const DefaultStaleness = 30 * time.Second

// Cache is a Provider fed by device position reports arriving over the API.
// The engine never talks to GPS hardware; the device reports fixes and the
// feed samples the freshest one.
type Cache struct {
	// staleness is the maximum age of a servable fix.
	staleness time.Duration
	// mu protects latest.
	mu sync.RWMutex
	// latest holds the freshest fix per user.
	latest map[string]alert.LocationSample
}

// NewCache creates a position cache with the given staleness bound.
func NewCache(staleness time.Duration) *Cache {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}

	return &Cache{
		staleness: staleness,
		latest:    make(map[string]alert.LocationSample),
	}
}

// Report stores a device-reported fix for the user.
// Out-of-order reports older than the stored fix are ignored.
func (c *Cache) Report(userID string, sample alert.LocationSample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.latest[userID]; ok && sample.CapturedAt.Before(current.CapturedAt) {
		return
	}

	c.latest[userID] = sample
}

// Sample returns the user's freshest fix, or ErrFeedUnavailable when none
// exists or the newest one is stale.
func (c *Cache) Sample(_ context.Context, userID string) (alert.LocationSample, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sample, ok := c.latest[userID]
	if !ok {
		return alert.LocationSample{}, fmt.Errorf("%w: no fix reported", alert.ErrFeedUnavailable)
	}

	if time.Since(sample.CapturedAt) > c.staleness {
		return alert.LocationSample{}, fmt.Errorf("%w: last fix is stale", alert.ErrFeedUnavailable)
	}

	return sample, nil
}
