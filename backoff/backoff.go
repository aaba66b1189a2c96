// Package backoff spaces out retries of operational step failures.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy maps a retry attempt (1 for the first retry) to a wait.
// Implementations must be safe for concurrent use.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Func adapts a plain function to Strategy.
type Func func(attempt int) time.Duration

func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// Constant waits the same interval every time.
func Constant(d time.Duration) Strategy {
	return Func(func(int) time.Duration { return d })
}

// Exponential waits Initial*Multiplier^(attempt-1), capped at Max when Max
// is positive. With Jitter the wait is drawn uniformly from [0, that), so
// workflows that fail together spread their retries.
type Exponential struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     bool
}

// NewExponential builds an Exponential; multipliers below 1 become 2.
func NewExponential(initial time.Duration, multiplier float64, maxDelay time.Duration) *Exponential {
	if multiplier < 1 {
		multiplier = 2
	}
	return &Exponential{Initial: initial, Multiplier: multiplier, Max: maxDelay}
}

// WithJitter returns a jittered copy.
func (e *Exponential) WithJitter() *Exponential {
	c := *e
	c.Jitter = true
	return &c
}

func (e *Exponential) Delay(attempt int) time.Duration {
	d := float64(e.Initial) * math.Pow(e.Multiplier, float64(max(attempt, 1)-1))
	if e.Max > 0 {
		d = min(d, float64(e.Max))
	}
	if e.Jitter {
		d *= rand.Float64() //nolint:gosec // retry spread, not security
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
