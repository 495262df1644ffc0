package adapters

import (
	"context"
	"fmt"
	"sync"

	"github.com/lumenflow/orchestrator/common/errs"
)

// Limiter caps in-flight requests per (user, provider). Callers beyond the
// cap wait in a bounded queue; when the queue is full the call is rejected
// with RateLimited instead of piling up goroutines.
type Limiter struct {
	maxInFlight int
	maxWaiting  int

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	slots   chan struct{}
	waiting int
}

// NewLimiter creates a limiter with the given per-key caps
func NewLimiter(maxInFlight, maxWaiting int) *Limiter {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Limiter{
		maxInFlight: maxInFlight,
		maxWaiting:  maxWaiting,
		entries:     make(map[string]*limiterEntry),
	}
}

func limiterKey(userID, provider string) string {
	return fmt.Sprintf("%s/%s", userID, provider)
}

// Acquire blocks until a slot is free, the queue overflows, or ctx ends.
// The returned release function must be called exactly once.
func (l *Limiter) Acquire(ctx context.Context, userID, provider string) (func(), error) {
	key := limiterKey(userID, provider)

	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{slots: make(chan struct{}, l.maxInFlight)}
		l.entries[key] = entry
	}
	if len(entry.slots) == l.maxInFlight && entry.waiting >= l.maxWaiting {
		l.mu.Unlock()
		return nil, errs.New(errs.KindRateLimited,
			"too many concurrent requests for %s", key)
	}
	entry.waiting++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		entry.waiting--
		l.mu.Unlock()
	}()

	select {
	case entry.slots <- struct{}{}:
		return func() { <-entry.slots }, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errs.Wrap(errs.KindTimeout, ctx.Err(), "timed out waiting for adapter slot")
		}
		return nil, errs.Wrap(errs.KindCanceled, ctx.Err(), "canceled while waiting for adapter slot")
	}
}

// InFlight reports current usage for a key, for tests and debugging
func (l *Limiter) InFlight(userID, provider string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.entries[limiterKey(userID, provider)]; ok {
		return len(entry.slots)
	}
	return 0
}
