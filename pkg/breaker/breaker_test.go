package breaker

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/agentcore/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBoom = stderrors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	return New("cad-agent", Config{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 2,
		Clock:            clock.Now,
	})
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())

	invoked := false
	err := cb.Execute(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, invoked, "open breaker must not invoke the operation")
	assert.ErrorIs(t, err, ErrOpen)

	ae, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindServiceUnavailable, ae.Kind)
	assert.Equal(t, "BRK-001", ae.Code)
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	cb := newTestBreaker(newFakeClock())
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, 0, cb.Snapshot().Failures)

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(29 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrOpen)

	clock.Advance(2 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().Failures)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(31 * time.Second)

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrOpen)
}

func TestBreaker_HalfOpenLimitsInFlightTrials(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(ctx, func(context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrOpen)

	close(release)
	wg.Wait()
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	cb := New("poster-agent", Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		HalfOpenMaxCalls: 1,
		Clock:            clock.Now,
		OnStateChange: func(dest string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(2 * time.Second)
	_ = cb.Execute(ctx, succeed)

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
}

func TestConfigDefaults(t *testing.T) {
	cb := New("x", Config{})
	snap := cb.Snapshot()
	assert.Equal(t, 5, snap.FailureThreshold)
	assert.Equal(t, "1m0s", snap.RecoveryTimeout)
	assert.Equal(t, StateClosed, snap.State)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "CLOSED"},
		{StateOpen, "OPEN"},
		{StateHalfOpen, "HALF_OPEN"},
		{State(9), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
