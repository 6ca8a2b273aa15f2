package infra

import (
	"math/rand/v2"
	"time"
)

// Backoff is a capped exponential delay: Base * 2^retry, at most Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff suits remote calls (1s doubling up to 60s).
var DefaultBackoff = Backoff{Base: 1 * time.Second, Max: 60 * time.Second}

// Delay returns the delay before retry number retryCount (0-based).
// If retryCount is negative, it returns Base.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 0 || b.Base <= 0 {
		return b.Base
	}
	// 2^30 * Base already exceeds any sane Max; avoid shift overflow.
	if retryCount > 30 {
		return b.Max
	}

	backoff := b.Base * time.Duration(1<<retryCount)
	if backoff > b.Max || backoff <= 0 {
		return b.Max
	}
	return backoff
}

// Jittered returns a delay drawn uniformly from [Delay/2, Delay].
// Spreads out retries of writers that lost the same race.
func (b Backoff) Jittered(retryCount int) time.Duration {
	d := b.Delay(retryCount)
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(d-half+1)
}

// CalculateBackoff returns DefaultBackoff.Delay(retryCount).
func CalculateBackoff(retryCount int) time.Duration {
	return DefaultBackoff.Delay(retryCount)
}
