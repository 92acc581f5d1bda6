package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cuongbtq/tutor-be/internal/llm"
	"golang.org/x/time/rate"
)

// Throttle spaces batch calls to the LLM gateway across every job in the
// process. The interval doubles on each rate-limit response, up to max, and
// halves back toward base on each success.
type Throttle struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	base    time.Duration
	max     time.Duration
	current time.Duration
}

// NewThrottle returns a throttle starting at base. A base of zero or less
// disables spacing entirely.
func NewThrottle(base, max time.Duration) *Throttle {
	if base < 0 {
		base = 0
	}
	if max < base {
		max = base
	}
	return &Throttle{
		limiter: rate.NewLimiter(limitFor(base), 1),
		base:    base,
		max:     max,
		current: base,
	}
}

func limitFor(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

// Wait blocks until the next batch may start
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// Observe adjusts the interval from the outcome of one batch
func (t *Throttle) Observe(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.current
	switch {
	case err == nil:
		next = t.current / 2
		if next < t.base {
			next = t.base
		}
	case llm.Classify(err) == llm.KindRateLimit:
		next = t.current * 2
		if next == 0 {
			next = t.max
		}
		if next > t.max {
			next = t.max
		}
	default:
		return
	}

	if next != t.current {
		t.current = next
		t.limiter.SetLimit(limitFor(next))
	}
}

// Interval reports the current spacing between batches
func (t *Throttle) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}
