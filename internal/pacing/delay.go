package pacing

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Jitter sleeps for a uniformly random duration in [Min, Max].
type Jitter struct {
	Min time.Duration
	Max time.Duration

	// Rand returns a value in [0, 1); nil uses math/rand.
	Rand func() float64
}

// NewJitter builds a Jitter, swapping the bounds if they are reversed.
func NewJitter(lo, hi time.Duration) *Jitter {
	if hi < lo {
		lo, hi = hi, lo
	}
	return &Jitter{Min: lo, Max: hi}
}

// Next returns the next pause length without sleeping.
func (j *Jitter) Next() time.Duration {
	if j.Max <= j.Min {
		return j.Min
	}
	r := rand.Float64
	if j.Rand != nil {
		r = j.Rand
	}
	return j.Min + time.Duration(r()*float64(j.Max-j.Min))
}

// Wait sleeps for the next pause or until ctx is done.
func (j *Jitter) Wait(ctx context.Context) error {
	d := j.Next()
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
