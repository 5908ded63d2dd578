package wait

import (
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoffStrategy implements exponential backoff with optional jitter
type ExponentialBackoffStrategy struct {
	initial    time.Duration
	multiplier float64
	max        time.Duration
	jitter     bool
	attempt    int
}

// NewExponentialBackoffStrategy creates a new exponential backoff strategy
func NewExponentialBackoffStrategy(initial time.Duration, multiplier float64, max time.Duration, jitter bool) *ExponentialBackoffStrategy {
	return &ExponentialBackoffStrategy{
		initial:    initial,
		multiplier: multiplier,
		max:        max,
		jitter:     jitter,
	}
}

// Next returns the next wait duration
func (s *ExponentialBackoffStrategy) Next() time.Duration {
	duration := time.Duration(float64(s.initial) * math.Pow(s.multiplier, float64(s.attempt)))
	if s.max > 0 && (duration >= s.max || duration <= 0) {
		// Capped; the attempt count stops growing so it cannot overflow.
		duration = s.max
	} else {
		s.attempt++
	}

	if s.jitter {
		// ±25% of the duration
		spread := float64(duration) * 0.25
		duration = time.Duration(float64(duration) + (rand.Float64()-0.5)*2*spread)
		if duration < 0 {
			duration = 0
		}
	}
	return duration
}

// Reset resets the strategy
func (s *ExponentialBackoffStrategy) Reset() {
	s.attempt = 0
}

// DecorrelatedJitterStrategy implements AWS-style decorrelated jitter
type DecorrelatedJitterStrategy struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

// NewDecorrelatedJitterStrategy creates a new decorrelated jitter strategy
func NewDecorrelatedJitterStrategy(base, max time.Duration) *DecorrelatedJitterStrategy {
	return &DecorrelatedJitterStrategy{
		base:    base,
		max:     max,
		current: base,
	}
}

// Next returns the next wait duration
func (s *DecorrelatedJitterStrategy) Next() time.Duration {
	// sleep = min(max, random_between(base, sleep * 3))
	lo := float64(s.base)
	hi := float64(s.current) * 3
	if s.max > 0 && time.Duration(hi) > s.max {
		hi = float64(s.max)
	}
	if hi < lo {
		hi = lo
	}

	duration := time.Duration(lo + rand.Float64()*(hi-lo))
	s.current = duration
	return duration
}

// Reset resets the strategy
func (s *DecorrelatedJitterStrategy) Reset() {
	s.current = s.base
}
