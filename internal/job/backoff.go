package job

import "math"

// DelaySeconds returns the backoff delay before the nth auto-retry, where
// n=1 is the first retry after the original attempt: 5 × 1.1^(n-1) seconds,
// rounded up to the next whole second.
func DelaySeconds(n int) int {
	if n < 1 {
		n = 1
	}
	return int(math.Ceil(5 * math.Pow(1.1, float64(n-1))))
}
