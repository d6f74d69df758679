// Package backoff provides the retry delay policy used on exchange calls.
package backoff

import (
	"context"
	"time"
)

// Policy computes exponential delays: Base * 2^attempt, capped at Max.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

func Default() Policy {
	return Policy{Base: 500 * time.Millisecond, Max: 30 * time.Second}
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := p.Max
	if max <= 0 {
		max = 30 * time.Second
	}
	if attempt < 0 {
		return base
	}
	// 2^31 seconds already exceeds any sane cap.
	if attempt > 30 {
		return max
	}
	d := base * time.Duration(1<<attempt)
	if d > max {
		return max
	}
	return d
}

// Sleep waits for the attempt's delay or until ctx is done.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
