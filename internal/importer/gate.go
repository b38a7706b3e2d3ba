package importer

import (
	"context"
	"time"
)

// DelayGate enforces a minimum interval between consecutive operations.
// The first call to Wait passes immediately; each later call blocks until
// the interval since the previous passage has elapsed, so n passages take
// at least (n-1) * interval of wall time.
//
// The gate serializes sends within a single job only; each job owns its
// own gate, so one job's pacing never blocks another.
type DelayGate struct {
	interval time.Duration
	clock    Clock
	last     time.Time
	started  bool
}

// NewDelayGate returns a gate with the given minimum interval. A zero or
// negative interval disables pacing.
func NewDelayGate(interval time.Duration, clock Clock) *DelayGate {
	if clock == nil {
		clock = SystemClock()
	}
	return &DelayGate{interval: interval, clock: clock}
}

// Wait blocks until the gate opens or ctx is done.
func (g *DelayGate) Wait(ctx context.Context) error {
	if g.started && g.interval > 0 {
		if remaining := g.interval - g.clock.Now().Sub(g.last); remaining > 0 {
			if err := g.clock.Sleep(ctx, remaining); err != nil {
				return err
			}
		}
	}
	g.started = true
	g.last = g.clock.Now()
	return nil
}
