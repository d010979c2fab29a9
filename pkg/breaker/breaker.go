// Package breaker provides per-destination circuit breakers used by the event router
package breaker

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/armorclaw/agentcore/pkg/errors"
)

// ErrOpen is wrapped by every fail-fast rejection
var ErrOpen = stderrors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing fast
	StateHalfOpen              // Admitting bounded trial calls
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON snapshots
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config configures a breaker
type Config struct {
	FailureThreshold int           // Consecutive failures before opening (default 5)
	RecoveryTimeout  time.Duration // Time in OPEN before trial calls (default 60s)
	HalfOpenMaxCalls int           // Successful trials needed to close (default 3)
	MonitoringPeriod time.Duration // Informational only (default 10s)

	Clock func() time.Time
	// OnStateChange runs under the breaker lock and must not call back into it.
	OnStateChange func(destination string, from, to State)
}

// DefaultConfig returns default breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 3,
		MonitoringPeriod: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	if c.MonitoringPeriod <= 0 {
		c.MonitoringPeriod = d.MonitoringPeriod
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Snapshot is a point-in-time view of a breaker
type Snapshot struct {
	Destination       string    `json:"destination"`
	State             State     `json:"state"`
	Failures          int       `json:"failures"`
	LastFailure       time.Time `json:"last_failure,omitempty"`
	OpenedAt          time.Time `json:"opened_at,omitempty"`
	HalfOpenInFlight  int       `json:"half_open_in_flight"`
	HalfOpenSuccesses int       `json:"half_open_successes"`
	FailureThreshold  int       `json:"failure_threshold"`
	RecoveryTimeout   string    `json:"recovery_timeout"`
}

// CircuitBreaker gates calls to a single destination
type CircuitBreaker struct {
	destination string
	cfg         Config

	mu                sync.Mutex
	state             State
	failures          int
	lastFailure       time.Time
	openedAt          time.Time
	halfOpenInFlight  int
	halfOpenSuccesses int
	lastUsed          time.Time
}

// New creates a breaker for destination
func New(destination string, cfg Config) *CircuitBreaker {
	cfg = cfg.withDefaults()
	return &CircuitBreaker{
		destination: destination,
		cfg:         cfg,
		lastUsed:    cfg.Clock(),
	}
}

// Destination returns the guarded destination
func (cb *CircuitBreaker) Destination() string {
	return cb.destination
}

// Execute runs op unless the breaker rejects the call. Any error returned by
// op counts as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	trial, err := cb.acquire()
	if err != nil {
		breakerRejected.WithLabelValues(cb.destination).Inc()
		return err
	}

	opErr := op(ctx)
	cb.release(trial, opErr)
	return opErr
}

// acquire decides whether a call may proceed and whether it is a half-open trial
func (cb *CircuitBreaker) acquire() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.cfg.Clock()
	cb.lastUsed = now

	switch cb.state {
	case StateOpen:
		if now.Sub(cb.openedAt) < cb.cfg.RecoveryTimeout {
			return false, cb.openError("circuit open")
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenInFlight = 1
		return true, nil
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxCalls {
			return false, cb.openError("half-open trial limit reached")
		}
		cb.halfOpenInFlight++
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) release(trial bool, opErr error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}

	if opErr == nil {
		switch cb.state {
		case StateHalfOpen:
			cb.halfOpenSuccesses++
			if cb.halfOpenSuccesses >= cb.cfg.HalfOpenMaxCalls {
				cb.failures = 0
				cb.transition(StateClosed)
			}
		case StateClosed:
			cb.failures = 0
		}
		return
	}

	cb.failures++
	cb.lastFailure = cb.cfg.Clock()

	switch cb.state {
	case StateHalfOpen:
		cb.open()
	case StateClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.open()
		}
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.cfg.Clock()
	cb.transition(StateOpen)
}

// transition must be called with mu held
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.halfOpenSuccesses = 0
	if to != StateHalfOpen {
		cb.halfOpenInFlight = 0
	}

	breakerState.WithLabelValues(cb.destination).Set(float64(to))
	breakerTransitions.WithLabelValues(cb.destination, to.String()).Inc()

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.destination, from, to)
	}
}

func (cb *CircuitBreaker) openError(reason string) error {
	return errors.NewBuilder(errors.KindServiceUnavailable).
		Code("BRK-001").
		Origin("breaker").
		Messagef("destination %s unavailable: %s", cb.destination, reason).
		Context("destination", cb.destination).
		Context("state", cb.state.String()).
		Wrap(ErrOpen).
		Build()
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns a copy of the breaker state
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Destination:       cb.destination,
		State:             cb.state,
		Failures:          cb.failures,
		LastFailure:       cb.lastFailure,
		OpenedAt:          cb.openedAt,
		HalfOpenInFlight:  cb.halfOpenInFlight,
		HalfOpenSuccesses: cb.halfOpenSuccesses,
		FailureThreshold:  cb.cfg.FailureThreshold,
		RecoveryTimeout:   cb.cfg.RecoveryTimeout.String(),
	}
}

// idle reports whether the breaker is indistinguishable from a fresh one
func (cb *CircuitBreaker) idle() (bool, time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == StateClosed && cb.failures == 0 && cb.halfOpenInFlight == 0, cb.lastUsed
}
