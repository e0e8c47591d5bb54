package fetch

import (
	"math/rand"
	"time"
)

// Backoff computes the delay before retry attempt k (1-based):
// base doubled per attempt plus uniform jitter in [0, jitterMax].
func Backoff(attempt int, base, jitterMax time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if jitterMax > 0 {
		delay += time.Duration(rand.Int63n(int64(jitterMax) + 1))
	}
	return delay
}
