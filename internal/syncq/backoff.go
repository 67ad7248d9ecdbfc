package syncq

import "time"

// backoff returns the wait before retry number attempt (1-based): base doubled
// per attempt, capped at ceiling, with equal jitter so the result lies in [d/2, d].
func backoff(attempt int, base, ceiling time.Duration, jitter func(n int64) int64) time.Duration {
	if base <= 0 || attempt < 1 {
		return 0
	}
	d := ceiling
	if shift := attempt - 1; shift < 62 {
		if next := base << uint(shift); next > 0 && next < ceiling {
			d = next
		}
	}
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(jitter(int64(d-half)+1))
}
