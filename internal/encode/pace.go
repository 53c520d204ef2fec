package encode

import (
	"context"
	"time"
)

// pacer releases file chunks at the rate they were recorded.
type pacer struct {
	start time.Time
}

// wait blocks until ts has elapsed since the first call.
func (p *pacer) wait(ctx context.Context, ts time.Duration) error {
	if p.start.IsZero() {
		p.start = time.Now()
	}
	d := time.Until(p.start.Add(ts))
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
