// Package breaker isolates faulty providers behind a three-state circuit:
// closed (normal), open (rejecting) and half-open (probing). State is kept
// per provider; transitions for one provider are serialized.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"keywordforge/internal/logging"
)

// ErrOpen is returned without invoking the call when the circuit rejects.
var ErrOpen = errors.New("circuit open")

// State is the circuit position for one provider.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Options configures the transition thresholds.
type Options struct {
	FailureThreshold int           // consecutive failures to trip
	FailureWindow    time.Duration // window in which failures must accumulate
	ResetTimeout     time.Duration // open duration before probing
	SuccessThreshold int           // consecutive probe successes to close

	// Classify reports whether an error counts as a breaker failure. The
	// default counts every non-nil error; callers exclude things like
	// client-side 4xx responses here.
	Classify func(error) bool
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 2,
	}
}

type providerState struct {
	mu sync.Mutex

	state             State
	failures          int
	firstFailureAt    time.Time
	openedAt          time.Time
	halfOpenInFlight  bool
	halfOpenSuccesses int
}

// Breaker holds per-provider circuits. One instance is built at the
// composition root and shared.
type Breaker struct {
	opts  Options
	clock clock.PassiveClock

	mu        sync.RWMutex
	providers map[string]*providerState
}

// New builds a breaker with the given options and the real clock.
func New(opts Options) *Breaker {
	return NewWithClock(opts, clock.RealClock{})
}

// NewWithClock builds a breaker with an injected clock for tests.
func NewWithClock(opts Options, c clock.PassiveClock) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultOptions().FailureThreshold
	}
	if opts.FailureWindow <= 0 {
		opts.FailureWindow = DefaultOptions().FailureWindow
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = DefaultOptions().ResetTimeout
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = DefaultOptions().SuccessThreshold
	}
	if opts.Classify == nil {
		opts.Classify = func(err error) bool { return err != nil }
	}
	return &Breaker{
		opts:      opts,
		clock:     c,
		providers: make(map[string]*providerState),
	}
}

func (b *Breaker) provider(name string) *providerState {
	b.mu.RLock()
	ps, ok := b.providers[name]
	b.mu.RUnlock()
	if ok {
		return ps
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ps, ok := b.providers[name]; ok {
		return ps
	}
	ps = &providerState{state: StateClosed}
	b.providers[name] = ps
	return ps
}

// State returns the current circuit position for a provider, accounting for
// an elapsed reset timeout.
func (b *Breaker) State(provider string) State {
	ps := b.provider(provider)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.state == StateOpen && b.clock.Since(ps.openedAt) >= b.opts.ResetTimeout {
		return StateHalfOpen
	}
	return ps.state
}

// Call runs fn under the provider's circuit. In the open state it returns
// ErrOpen without invoking fn. In half-open it admits a single in-flight
// probe; concurrent callers are rejected with ErrOpen. The state check itself
// never blocks; only fn may suspend.
func (b *Breaker) Call(ctx context.Context, provider string, fn func(context.Context) error) error {
	ps := b.provider(provider)

	probe, err := b.admit(provider, ps)
	if err != nil {
		return err
	}

	callErr := fn(ctx)
	b.record(provider, ps, probe, callErr)
	return callErr
}

// admit decides whether a call may proceed, and whether it is a half-open
// probe.
func (b *Breaker) admit(provider string, ps *providerState) (probe bool, err error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	switch ps.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.clock.Since(ps.openedAt) < b.opts.ResetTimeout {
			return false, ErrOpen
		}
		b.transition(provider, ps, StateHalfOpen)
		ps.halfOpenSuccesses = 0
		ps.halfOpenInFlight = true
		return true, nil
	case StateHalfOpen:
		if ps.halfOpenInFlight {
			return false, ErrOpen
		}
		ps.halfOpenInFlight = true
		return true, nil
	default:
		return false, fmt.Errorf("breaker in unknown state %d", int(ps.state))
	}
}

// record applies the call outcome to the circuit.
func (b *Breaker) record(provider string, ps *providerState, probe bool, callErr error) {
	failed := b.opts.Classify(callErr)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if probe {
		ps.halfOpenInFlight = false
	}

	switch ps.state {
	case StateClosed:
		if !failed {
			ps.failures = 0
			return
		}
		now := b.clock.Now()
		if ps.failures == 0 || now.Sub(ps.firstFailureAt) > b.opts.FailureWindow {
			ps.failures = 0
			ps.firstFailureAt = now
		}
		ps.failures++
		if ps.failures >= b.opts.FailureThreshold {
			b.transition(provider, ps, StateOpen)
			ps.openedAt = now
		}
	case StateHalfOpen:
		if failed {
			b.transition(provider, ps, StateOpen)
			ps.openedAt = b.clock.Now()
			ps.failures = 0
			return
		}
		ps.halfOpenSuccesses++
		if ps.halfOpenSuccesses >= b.opts.SuccessThreshold {
			b.transition(provider, ps, StateClosed)
			ps.failures = 0
		}
	case StateOpen:
		// A call that straddled the open transition; outcome is ignored.
	}
}

// transition logs the state change. Caller holds ps.mu.
func (b *Breaker) transition(provider string, ps *providerState, to State) {
	if ps.state == to {
		return
	}
	logging.Get(logging.CategoryBreaker).Infow("circuit transition",
		"provider", provider, "from", ps.state.String(), "to", to.String())
	ps.state = to
}
