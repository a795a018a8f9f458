package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

var errUpstream = errors.New("upstream 500")

func newTestBreaker(opts Options) (*Breaker, *clocktesting.FakeClock) {
	fake := clocktesting.NewFakeClock(time.Now())
	return NewWithClock(opts, fake), fake
}

func failN(t *testing.T, b *Breaker, provider string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := b.Call(context.Background(), provider, func(context.Context) error {
			return errUpstream
		})
		require.ErrorIs(t, err, errUpstream)
	}
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(Options{FailureThreshold: 5, ResetTimeout: 30 * time.Second, SuccessThreshold: 1})

	failN(t, b, "p", 5)
	assert.Equal(t, StateOpen, b.State("p"))

	invoked := false
	err := b.Call(context.Background(), "p", func(context.Context) error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, invoked, "open circuit must not invoke fn")
}

func TestHalfOpenProbeAndRecovery(t *testing.T) {
	b, fake := newTestBreaker(Options{FailureThreshold: 5, ResetTimeout: 30 * time.Second, SuccessThreshold: 1})

	failN(t, b, "p", 5)
	require.Equal(t, StateOpen, b.State("p"))

	fake.Step(30 * time.Second)
	require.Equal(t, StateHalfOpen, b.State("p"))

	// One successful probe closes the circuit.
	err := b.Call(context.Background(), "p", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State("p"))
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, fake := newTestBreaker(Options{FailureThreshold: 2, ResetTimeout: 10 * time.Second, SuccessThreshold: 2})

	failN(t, b, "p", 2)
	fake.Step(10 * time.Second)

	err := b.Call(context.Background(), "p", func(context.Context) error { return errUpstream })
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, StateOpen, b.State("p"))

	// The reopened circuit rejects immediately again.
	err = b.Call(context.Background(), "p", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestHalfOpenAdmitsSingleInFlightProbe(t *testing.T) {
	b, fake := newTestBreaker(Options{FailureThreshold: 1, ResetTimeout: time.Second, SuccessThreshold: 1})

	failN(t, b, "p", 1)
	fake.Step(time.Second)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Call(context.Background(), "p", func(context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	// Second caller while the probe is in flight is rejected.
	err := b.Call(context.Background(), "p", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrOpen)

	close(release)
	wg.Wait()
	assert.Equal(t, StateClosed, b.State("p"))
}

func TestSuccessThresholdRequiresConsecutiveSuccesses(t *testing.T) {
	b, fake := newTestBreaker(Options{FailureThreshold: 1, ResetTimeout: time.Second, SuccessThreshold: 2})

	failN(t, b, "p", 1)
	fake.Step(time.Second)

	require.NoError(t, b.Call(context.Background(), "p", func(context.Context) error { return nil }))
	assert.Equal(t, StateHalfOpen, b.State("p"))

	require.NoError(t, b.Call(context.Background(), "p", func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, b.State("p"))
}

func TestClassifierExcludesNonFailures(t *testing.T) {
	notFound := errors.New("upstream 404")
	opts := Options{
		FailureThreshold: 2,
		ResetTimeout:     time.Second,
		SuccessThreshold: 1,
		Classify: func(err error) bool {
			return err != nil && !errors.Is(err, notFound)
		},
	}
	b, _ := newTestBreaker(opts)

	for i := 0; i < 10; i++ {
		_ = b.Call(context.Background(), "p", func(context.Context) error { return notFound })
	}
	assert.Equal(t, StateClosed, b.State("p"))
}

func TestFailureWindowResetsCount(t *testing.T) {
	b, fake := newTestBreaker(Options{
		FailureThreshold: 3,
		FailureWindow:    10 * time.Second,
		ResetTimeout:     time.Minute,
		SuccessThreshold: 1,
	})

	failN(t, b, "p", 2)
	fake.Step(11 * time.Second) // window elapses, count restarts
	failN(t, b, "p", 2)
	assert.Equal(t, StateClosed, b.State("p"))

	failN(t, b, "p", 1)
	assert.Equal(t, StateOpen, b.State("p"))
}

func TestProvidersAreIsolated(t *testing.T) {
	b, _ := newTestBreaker(Options{FailureThreshold: 1, ResetTimeout: time.Minute, SuccessThreshold: 1})

	failN(t, b, "flaky", 1)
	assert.Equal(t, StateOpen, b.State("flaky"))
	assert.Equal(t, StateClosed, b.State("steady"))

	err := b.Call(context.Background(), "steady", func(context.Context) error { return nil })
	assert.NoError(t, err)
}
