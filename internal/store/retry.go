package store

import (
	"math/rand/v2"
	"time"
)

// MaxAttempts bounds retries of idempotent store operations.
const MaxAttempts = 3

// Backoff returns the wait before retrying attempt n (0-indexed), with
// jitter so concurrent requests do not retry in lockstep.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 10*time.Second {
		base = 10 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}
