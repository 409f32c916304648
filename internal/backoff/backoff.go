// Package backoff computes respawn delays for crashed terminal processes.
package backoff

import "time"

const (
	// DefaultBase is the delay before the first respawn.
	DefaultBase = time.Second

	// DefaultMax caps the delay regardless of attempt count.
	DefaultMax = 30 * time.Second
)

// Policy describes a capped exponential backoff without jitter.
//
// Delay(n) = min(Base * 2^(n-1), Max) for n >= 1.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultPolicy returns the 1s/30s policy used by the bridge.
func DefaultPolicy() Policy {
	return Policy{Base: DefaultBase, Max: DefaultMax}
}

// Delay returns the wait before retry number attempt (1-based).
// Attempts below 1 are treated as the first attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := p.Base
	for i := 1; i < attempt; i++ {
		// Doubling past Max (or overflowing) saturates.
		if p.Max > 0 && delay >= p.Max {
			return p.Max
		}
		next := delay * 2
		if next < delay {
			return p.Max
		}
		delay = next
	}

	if p.Max > 0 && delay > p.Max {
		return p.Max
	}
	return delay
}
