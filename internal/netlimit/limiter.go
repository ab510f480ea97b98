// Package netlimit provides per-endpoint request pacing and fail-fast
// circuit breaking for outbound provider calls.
package netlimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned by Acquire when an endpoint is in a forced-open
// or auto-tripped state and the caller should not attempt the request.
var ErrCircuitOpen = errors.New("netlimit: circuit open")

// Status is the external-facing snapshot for one endpoint, matching
// spec.md §4.4/§6's `/api/crypto/rate-limit-status` contract verbatim:
// `{breaker_open, since_last_request, interval, ready_in}`.
type Status struct {
	BreakerOpen      bool          `json:"breaker_open"`
	SinceLastRequest time.Duration `json:"since_last_request"`
	Interval         time.Duration `json:"interval"`
	ReadyIn          time.Duration `json:"ready_in"`
}

type endpointState struct {
	limiter         *rate.Limiter
	breaker         *gobreaker.CircuitBreaker
	interval        time.Duration
	mu              sync.Mutex
	forcedOpenUntil time.Time
	lastRequestAt   time.Time
}

// Limiter paces requests per endpoint using a token bucket with a bucket
// size of 1 (so every request reserves the single slot and pushes the next
// allowed instant forward), and fails fast on a per-endpoint breaker that
// combines gobreaker's automatic failure-rate trip with an explicit
// provider-signalled override (e.g. HTTP 429/418).
type Limiter struct {
	mu        sync.RWMutex
	endpoints map[string]*endpointState
}

// NewLimiter constructs an empty Limiter. Endpoints are configured lazily on
// first Configure call; Acquire on an unconfigured endpoint never blocks.
func NewLimiter() *Limiter {
	return &Limiter{endpoints: make(map[string]*endpointState)}
}

// Configure sets (or updates) the minimum interval between requests for an
// endpoint and ensures a breaker exists for it.
func (l *Limiter) Configure(endpoint string, interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.endpoints[endpoint]
	if !ok {
		st = &endpointState{
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        endpoint,
				MaxRequests: 1,
				Interval:    0,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(c gobreaker.Counts) bool {
					return c.ConsecutiveFailures >= 5
				},
			}),
		}
		l.endpoints[endpoint] = st
	}
	st.interval = interval
	st.limiter = rate.NewLimiter(rate.Every(interval), 1)
}

func (l *Limiter) get(endpoint string) *endpointState {
	l.mu.RLock()
	st, ok := l.endpoints[endpoint]
	l.mu.RUnlock()
	if ok {
		return st
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.endpoints[endpoint]; ok {
		return st
	}
	st = &endpointState{
		limiter: rate.NewLimiter(rate.Inf, 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: endpoint}),
	}
	l.endpoints[endpoint] = st
	return st
}

// Acquire blocks until the endpoint's pacing slot is available, reserving it
// forward before releasing the lock so concurrent callers never see the same
// slot twice. It fails fast with ErrCircuitOpen if the endpoint is currently
// forced open or the breaker has tripped.
func (l *Limiter) Acquire(ctx context.Context, endpoint string) error {
	st := l.get(endpoint)

	st.mu.Lock()
	if !st.forcedOpenUntil.IsZero() && time.Now().Before(st.forcedOpenUntil) {
		st.mu.Unlock()
		return ErrCircuitOpen
	}
	if st.forcedOpenUntil.IsZero() == false {
		st.forcedOpenUntil = time.Time{}
	}
	st.mu.Unlock()

	if st.breaker.State() == gobreaker.StateOpen {
		return ErrCircuitOpen
	}

	reservation := st.limiter.Reserve()
	if !reservation.OK() {
		return nil
	}
	delay := reservation.Delay()

	// Record the reserved slot before waiting on it (I10): a concurrent
	// Status call must see the new last_request_at immediately, not only
	// once this caller's wait completes.
	st.mu.Lock()
	st.lastRequestAt = time.Now().Add(delay)
	st.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	}
}

// Call runs fn through the endpoint's breaker after Acquire succeeds. A
// caller that wants manual accounting (OpenBreaker) instead of the breaker's
// own failure-rate trip should call Acquire directly.
func (l *Limiter) Call(ctx context.Context, endpoint string, fn func() (any, error)) (any, error) {
	if err := l.Acquire(ctx, endpoint); err != nil {
		return nil, err
	}
	st := l.get(endpoint)
	result, err := st.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return result, err
}

// OpenBreaker forces an endpoint into a fail-fast state for d, independent
// of the gobreaker failure count. Used when a provider signals a hard
// rate-limit (HTTP 429/418) that should stop all traffic immediately rather
// than wait for the breaker's own threshold.
func (l *Limiter) OpenBreaker(endpoint string, d time.Duration) {
	st := l.get(endpoint)
	st.mu.Lock()
	st.forcedOpenUntil = time.Now().Add(d)
	st.mu.Unlock()
}

// Status returns a snapshot of an endpoint's pacing and breaker state,
// matching spec.md's `status(endpoint) → {breaker_open, since_last_request,
// interval, ready_in}` contract verbatim.
func (l *Limiter) Status(endpoint string) Status {
	st := l.get(endpoint)
	st.mu.Lock()
	forcedUntil := st.forcedOpenUntil
	lastRequestAt := st.lastRequestAt
	st.mu.Unlock()

	breakerOpen := (!forcedUntil.IsZero() && time.Now().Before(forcedUntil)) ||
		st.breaker.State() == gobreaker.StateOpen

	var sinceLastRequest time.Duration
	if !lastRequestAt.IsZero() {
		sinceLastRequest = time.Since(lastRequestAt)
	}

	reservation := st.limiter.Reserve()
	readyIn := reservation.Delay()
	reservation.Cancel()
	if readyIn < 0 {
		readyIn = 0
	}

	return Status{
		BreakerOpen:      breakerOpen,
		SinceLastRequest: sinceLastRequest,
		Interval:         st.interval,
		ReadyIn:          readyIn,
	}
}

// StatusAll returns a snapshot for every configured endpoint.
func (l *Limiter) StatusAll() map[string]Status {
	l.mu.RLock()
	names := make([]string, 0, len(l.endpoints))
	for name := range l.endpoints {
		names = append(names, name)
	}
	l.mu.RUnlock()

	out := make(map[string]Status, len(names))
	for _, name := range names {
		out[name] = l.Status(name)
	}
	return out
}
