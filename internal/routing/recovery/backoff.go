package recovery

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/vietddude/egress/internal/core/domain"
)

// Backoff computes recovery waits: Base * 2^attempt plus up to one Base of
// jitter, raised to any server-supplied retry-after, never above Max.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter func() float64 // uniform in [0, 1)
}

// DefaultBackoff waits 5s, 10s, 20s, ... (max 300s) plus jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   5 * time.Second,
		Max:    300 * time.Second,
		Jitter: rand.Float64,
	}
}

// Delay returns the wait for a 0-indexed attempt, ignoring retry-after hints.
func (b Backoff) Delay(attempt int) time.Duration {
	return b.DelayWithHints(attempt, nil)
}

// DelayWithHints raises the exponential delay to the largest retry_after found
// in the given ban events.
func (b Backoff) DelayWithHints(attempt int, recent []domain.BanEvent) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	jitter := 0.0
	if b.Jitter != nil {
		jitter = b.Jitter()
	}

	wait := b.Base.Seconds()*math.Pow(2, float64(attempt)) + jitter*b.Base.Seconds()
	for _, ev := range recent {
		if ra, ok := ev.RetryAfter(); ok {
			wait = math.Max(wait, ra)
		}
	}
	wait = math.Min(wait, b.Max.Seconds())
	return time.Duration(wait * float64(time.Second))
}

// sleepContext blocks for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
