package jobs

import (
	"math"
	"time"
)

// BackoffPolicy schedules transient-failure retries: base * 2^(n-1), capped.
// Pure; the caller supplies the clock.
type BackoffPolicy struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
}

func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Base:       30 * time.Second,
		Cap:        5 * time.Minute,
		MaxRetries: 6,
	}
}

// Next returns when retry number attempt (1-based) should run. ok is false
// once attempt exceeds MaxRetries, meaning the job should fail for good.
func (p BackoffPolicy) Next(now time.Time, attempt int) (next time.Time, ok bool) {
	if attempt < 1 || attempt > p.MaxRetries {
		return time.Time{}, false
	}

	d := time.Duration(float64(p.Base) * math.Pow(2, float64(attempt-1)))
	if d > p.Cap || d <= 0 {
		d = p.Cap
	}
	return now.Add(d), true
}
