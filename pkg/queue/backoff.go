package queue

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffType selects the retry delay shape
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff describes how long to wait before re-running a failed job.
// Jitter is a fraction in [0, 1]; the computed delay is reduced by a random
// amount up to Jitter*delay. Zero jitter keeps the policy deterministic.
type Backoff struct {
	Type     BackoffType   `json:"type" yaml:"type" bson:"type"`
	Delay    time.Duration `json:"delay" yaml:"delay" bson:"delay"`
	MaxDelay time.Duration `json:"max_delay,omitempty" yaml:"max_delay" bson:"max_delay"`
	Jitter   float64       `json:"jitter,omitempty" yaml:"jitter" bson:"jitter"`
}

// FixedBackoff retries after the same delay every time
func FixedBackoff(delay time.Duration) Backoff {
	return Backoff{Type: BackoffFixed, Delay: delay}
}

// ExponentialBackoff doubles the delay after each failed attempt, capped at maxDelay when positive
func ExponentialBackoff(base, maxDelay time.Duration) Backoff {
	return Backoff{Type: BackoffExponential, Delay: base, MaxDelay: maxDelay}
}

// IsZero reports whether the backoff was left unset
func (b Backoff) IsZero() bool {
	return b.Type == "" && b.Delay == 0
}

// WithJitter returns a copy of b using the given jitter fraction
func (b Backoff) WithJitter(fraction float64) Backoff {
	b.Jitter = min(max(fraction, 0), 1)
	return b
}

// NextDelay returns the delay before the attempt following attempt
func (b Backoff) NextDelay(attempt int) time.Duration {
	return NextDelay(attempt, b)
}

// NextDelay computes the wait after the given failed attempt (1-indexed).
// Fixed: Delay. Exponential: Delay * 2^(attempt-1), capped at MaxDelay.
func NextDelay(attempt int, b Backoff) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Delay <= 0 {
		return 0
	}

	var d time.Duration
	switch b.Type {
	case BackoffFixed:
		d = b.Delay
	default:
		f := float64(b.Delay) * math.Pow(2, float64(attempt-1))
		if f >= math.MaxInt64 {
			d = time.Duration(math.MaxInt64)
		} else {
			d = time.Duration(f)
		}
	}

	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}

	if b.Jitter > 0 {
		j := min(b.Jitter, 1)
		d -= time.Duration(rand.Float64() * j * float64(d)) //nolint:gosec // jitter does not need crypto rand
	}
	return d
}
