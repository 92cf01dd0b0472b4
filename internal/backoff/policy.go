// Package backoff computes capped exponential delays for the retry
// loops in the worker and the completion providers.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff curve.
type Policy struct {
	// Base is the delay after the first failure.
	Base time.Duration

	// Max caps every delay. Zero means no cap.
	Max time.Duration

	// Factor multiplies the delay for each further attempt. Values
	// below 1 are treated as 1 (constant delay).
	Factor float64

	// Jitter is the fraction of random extension added to each delay,
	// 0 to 1.
	Jitter float64
}

// Default returns the policy most loops want: 100ms doubling up to 30s
// with 10% jitter.
func Default() Policy {
	return Policy{
		Base:   100 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: 0.1,
	}
}

// Delay returns the backoff duration before attempt+1. Attempts are
// 1-indexed: Delay(1) is the pause after the first failure.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64()) // #nosec G404 -- jitter needs no cryptographic randomness
}

// delay is Delay with the random value injected so tests can pin exact
// durations.
func (p Policy) delay(attempt int, random float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.Base) * math.Pow(factor, float64(attempt-1))
	d += d * p.Jitter * random
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	return time.Duration(d)
}

// Sleep waits out the delay for attempt, returning early with ctx.Err()
// when the context ends first.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
