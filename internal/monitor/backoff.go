package monitor

import "time"

// backoffDelay computes the wait before the next poll after a streak of
// total-failure cycles: base doubled per extra failure, capped at max.
// A zero streak means no backoff at all.
//
// The streak counts cycles in which every presence check failed; a single
// flaky agent never feeds it (see runCycle). It resets the moment any
// agent succeeds, so backoff ends as soon as the desk is reachable again.
func backoffDelay(failures int, base, max time.Duration) time.Duration {
	if failures <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
