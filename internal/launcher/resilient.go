package launcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskcycle/metasched/internal/resilience"
)

// ResilientRegistry wraps a Registry with one CircuitBreaker per
// submission method, so a broken batch backend cannot be hammered by
// every proxy waiting to submit. This is fault isolation around the
// launcher call only; it never touches the proxy's own retry-delay FIFO.
type ResilientRegistry struct {
	inner *Registry

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker

	attempts int
	delay    time.Duration
}

// NewResilientRegistry wraps reg with per-method circuit breakers. attempts
// and delay parameterize the backoff retry around a single submission
// call when its breaker is closed.
func NewResilientRegistry(reg *Registry, attempts int, delay time.Duration) *ResilientRegistry {
	return &ResilientRegistry{
		inner:    reg,
		breakers: make(map[string]*resilience.CircuitBreaker),
		attempts: attempts,
		delay:    delay,
	}
}

func (r *ResilientRegistry) breakerFor(method string) *resilience.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[method]
	if !ok {
		cb = resilience.NewCircuitBreaker(30*time.Second, 6, 5, 0.5, 15*time.Second, 2)
		r.breakers[method] = cb
	}
	return cb
}

// Submit resolves method, checks its breaker, and submits with retry,
// recording the outcome back into the breaker.
func (r *ResilientRegistry) Submit(ctx context.Context, method string, dryRun bool, p Params) (Handle, error) {
	factory, err := r.inner.Resolve(method)
	if err != nil {
		return Handle{}, err
	}
	cb := r.breakerFor(method)
	if !cb.Allow() {
		return Handle{}, fmt.Errorf("launcher: circuit open for method %q", method)
	}

	h, err := resilience.Retry(ctx, r.attempts, r.delay, func() (Handle, error) {
		return factory().Submit(ctx, dryRun, p)
	})
	cb.RecordResult(err == nil)
	return h, err
}
