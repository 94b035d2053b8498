// Package circuitbreaker guards outbound event sinks. A sink that keeps
// failing is skipped for a cool-down period instead of being retried on
// every license operation.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/mbd888/licensehub/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // deliveries flow through
	StateOpen                  // deliveries are skipped
	StateHalfOpen              // one probe delivery is in flight
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type sinkState struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks consecutive delivery failures per sink name. It trips open
// after threshold failures and probes again once cooldown has elapsed.
type Breaker struct {
	mu           sync.Mutex
	sinks        map[string]*sinkState
	threshold    int
	cooldown     time.Duration
	now          func() time.Time
	onTransition func(sink string, from, to State)
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// OnTransition registers a callback run synchronously on every state change.
// It must not call back into the breaker.
func OnTransition(fn func(sink string, from, to State)) Option {
	return func(b *Breaker) { b.onTransition = fn }
}

// New creates a breaker. Non-positive arguments fall back to 5 failures and
// a 30s cooldown.
func New(threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	b := &Breaker{
		sinks:     make(map[string]*sinkState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a delivery to sink should be attempted. An open
// circuit whose cooldown has elapsed moves to half-open and admits a single
// probe.
func (b *Breaker) Allow(sink string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sinks[sink]
	if !ok {
		return true
	}

	switch s.state {
	case StateOpen:
		if b.now().Sub(s.lastFailure) >= b.cooldown {
			b.transition(s, sink, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(sink string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sinks[sink]
	if !ok {
		return
	}
	if s.state == StateHalfOpen {
		b.transition(s, sink, StateClosed)
	}
	s.failures = 0
}

// RecordFailure counts a failed delivery. A failed probe reopens the
// circuit immediately.
func (b *Breaker) RecordFailure(sink string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sinks[sink]
	if !ok {
		s = &sinkState{state: StateClosed}
		b.sinks[sink] = s
	}

	s.failures++
	s.lastFailure = b.now()

	switch {
	case s.state == StateHalfOpen:
		b.transition(s, sink, StateOpen)
	case s.state == StateClosed && s.failures >= b.threshold:
		b.transition(s, sink, StateOpen)
	}
}

// State returns the current state for sink. Unknown sinks are closed.
func (b *Breaker) State(sink string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.sinks[sink]; ok {
		return s.state
	}
	return StateClosed
}

// caller holds b.mu
func (b *Breaker) transition(s *sinkState, sink string, to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	metrics.EventSinkBreakerTransitions.WithLabelValues(sink, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		b.onTransition(sink, from, to)
	}
}
