package frontier

import "time"

// backoffPolicy computes the retry delay after a transient failure.
// Delays double per attempt and are capped, keeping reattempt spacing
// predictable across restarts (the resulting EligibleAt is persisted).
type backoffPolicy struct {
	base time.Duration
	max  time.Duration
}

func newBackoffPolicy(base, max time.Duration) backoffPolicy {
	if base <= 0 {
		base = 30 * time.Second
	}
	if max <= 0 {
		max = 15 * time.Minute
	}
	return backoffPolicy{base: base, max: max}
}

// Delay returns the wait before the next attempt. attempt is the number
// of attempts already made and is at least 1 when a failure is reported.
func (p backoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.max {
			return p.max
		}
	}
	if d > p.max {
		return p.max
	}
	return d
}
