package orchestration

import (
	"context"
	"time"

	"github.com/deliverydevs/punchsync/internal/lease"
)

// =============================================================================
// SCHEDULING GATE
// =============================================================================

// markerTTL keeps the last-run marker around long enough for any
// sub-minute interval while still self-cleaning.
const markerTTL = time.Hour

// Gate decides whether a scheduler tick should trigger a run. The
// scheduler fires every minute; intervals of a minute or more run on
// every tick, shorter intervals are throttled by a persisted last-run
// marker so that restarts do not reset the cadence.
type Gate struct {
	Leases lease.Store

	// Now is the clock source; tests pin it.
	Now func() time.Time
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// ShouldRun reports whether a run is due and, when it is, records the
// moment so the next tick measures from it.
func (g *Gate) ShouldRun(ctx context.Context, interval time.Duration) (bool, error) {
	if interval >= time.Minute {
		return true, nil
	}

	now := g.now()
	value, ok, err := g.Leases.Get(ctx, lease.LastRunMarker)
	if err != nil {
		return false, err
	}
	if ok {
		last, perr := time.Parse(time.RFC3339, value)
		if perr == nil && now.Sub(last) < interval {
			return false, nil
		}
	}
	if err := g.Leases.Set(ctx, lease.LastRunMarker, now.Format(time.RFC3339), markerTTL); err != nil {
		return false, err
	}
	return true, nil
}
