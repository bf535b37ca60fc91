package llm

import (
	"math/rand"
	"time"
)

// RetryConfig bounds the retry loop around endpoint calls.
type RetryConfig struct {
	// Attempts is the total number of tries, the first call included.
	Attempts int

	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration

	// Growth multiplies the delay after each further failure.
	Growth float64

	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration
}

// DefaultRetryConfig suits interactive use: a few quick attempts before the
// caller hears about the failure.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:  3,
		BaseDelay: 2 * time.Second,
		Growth:    2.0,
		MaxDelay:  30 * time.Second,
	}
}

// delay returns how long to wait after the given failed attempt (1-based),
// jittered up to 25% either way so synchronized clients spread out.
func (rc RetryConfig) delay(attempt int) time.Duration {
	d := float64(rc.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= rc.Growth
	}
	if d > float64(rc.MaxDelay) {
		d = float64(rc.MaxDelay)
	}
	jitter := d * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(d + jitter)
}
