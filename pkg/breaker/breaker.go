// Package breaker implements the circuit breaker Personal Pipeline wraps
// around every source adapter call (C1): a CLOSED/OPEN/HALF_OPEN state
// machine driven by a sliding window of recent call outcomes, with
// manual trip/reset and a subscriber hook for state-change notification.
package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/personalpipeline/personal-pipeline/internal/perrors"
)

// State is one of the three circuit breaker states.
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
		return "half_open"
	default:
		return "unknown"
	}
}

type callResult struct {
	timestamp time.Time
	success   bool
	duration  time.Duration
	slow      bool
}

// Config configures a Breaker's thresholds.
type Config struct {
	MaxFailures      int           `mapstructure:"max_failures"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	TimeWindow       time.Duration `mapstructure:"time_window"`
	SlowCallDuration time.Duration `mapstructure:"slow_call_duration"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
	// CloseAfterSuccesses is how many consecutive successful half-open
	// probes are required before the breaker closes (spec.md §4.1's
	// "after success_threshold consecutive successes"). Independent of
	// HalfOpenMaxCalls, which only bounds how many probes are admitted
	// at once while half-open.
	CloseAfterSuccesses int  `mapstructure:"close_after_successes"`
	Enabled             bool `mapstructure:"enabled"`
}

// DefaultConfig returns sane production defaults.
func DefaultConfig() Config {
	return Config{
		MaxFailures:         5,
		ResetTimeout:        30 * time.Second,
		FailureThreshold:    0.5,
		TimeWindow:          60 * time.Second,
		SlowCallDuration:    5 * time.Second,
		HalfOpenMaxCalls:    1,
		CloseAfterSuccesses: 1,
		Enabled:             true,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MaxFailures <= 0:
		return perrors.Config("max_failures must be positive")
	case c.ResetTimeout <= 0:
		return perrors.Config("reset_timeout must be positive")
	case c.FailureThreshold < 0 || c.FailureThreshold > 1:
		return perrors.Config("failure_threshold must be between 0 and 1")
	case c.TimeWindow <= 0:
		return perrors.Config("time_window must be positive")
	case c.SlowCallDuration <= 0:
		return perrors.Config("slow_call_duration must be positive")
	case c.HalfOpenMaxCalls <= 0:
		return perrors.Config("half_open_max_calls must be positive")
	case c.CloseAfterSuccesses <= 0:
		return perrors.Config("close_after_successes must be positive")
	}
	return nil
}

// StateChangeFunc is called synchronously whenever the breaker transitions
// state, while the breaker's mutex is still held. Subscribers must not
// block and must not call back into the same Breaker.
type StateChangeFunc func(name string, from, to State)

// Breaker is a single named circuit breaker instance, one per adapter.
type Breaker struct {
	name string

	maxFailures         int
	resetTimeout        time.Duration
	failureThreshold    float64
	timeWindow          time.Duration
	slowCallDuration    time.Duration
	halfOpenMaxCalls    int
	closeAfterSuccesses int

	mu                   sync.Mutex
	state                State
	failureCount         int
	successCount         int
	consecutiveFailures  int
	consecutiveSuccesses int
	lastStateChange      time.Time
	lastFailure          time.Time
	lastSuccess          time.Time
	halfOpenCalls        int
	callResults          []callResult

	logger     *slog.Logger
	metrics    *Metrics
	onStateChg []StateChangeFunc
}

// New builds a Breaker named name (used as the metrics label and in log
// lines), reporting through metrics (nil disables metrics) and logger.
func New(name string, cfg Config, logger *slog.Logger, metrics *Metrics) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{
		name:                name,
		maxFailures:         cfg.MaxFailures,
		resetTimeout:        cfg.ResetTimeout,
		failureThreshold:    cfg.FailureThreshold,
		timeWindow:          cfg.TimeWindow,
		slowCallDuration:    cfg.SlowCallDuration,
		halfOpenMaxCalls:    cfg.HalfOpenMaxCalls,
		closeAfterSuccesses: cfg.CloseAfterSuccesses,
		state:               StateClosed,
		lastStateChange:     time.Now(),
		callResults:         make([]callResult, 0, 64),
		logger:              logger,
		metrics:             metrics,
	}
	if metrics != nil {
		metrics.setState(name, StateClosed)
	}
	return b, nil
}

// Subscribe registers fn to be called on every state transition.
func (b *Breaker) Subscribe(fn StateChangeFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChg = append(b.onStateChg, fn)
}

// ErrOpen is returned by Call when the circuit is open or a half-open
// test slot is already occupied.
var ErrOpen = perrors.CircuitOpen("circuit breaker is open")

// Call executes op through the breaker, failing fast with ErrOpen when
// the circuit is open.
func (b *Breaker) Call(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	start := time.Now()
	err := op(ctx)
	b.after(err, time.Since(start))
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.lastStateChange) >= b.resetTimeout {
			b.transitionTo(StateHalfOpen)
			return nil
		}
		if b.metrics != nil {
			b.metrics.blocked(b.name)
		}
		return ErrOpen
	case StateHalfOpen:
		if b.halfOpenCalls >= b.halfOpenMaxCalls {
			if b.metrics != nil {
				b.metrics.blocked(b.name)
			}
			return ErrOpen
		}
		b.halfOpenCalls++
		if b.metrics != nil {
			b.metrics.halfOpenRequest(b.name)
		}
		return nil
	default:
		return nil
	}
}

func (b *Breaker) after(err error, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	isSlow := duration >= b.slowCallDuration
	isSuccess := err == nil && !isSlow
	now := time.Now()

	b.callResults = append(b.callResults, callResult{timestamp: now, success: isSuccess, duration: duration, slow: isSlow})
	b.trimWindow()

	if isSuccess {
		b.successCount++
		b.consecutiveSuccesses++
		b.consecutiveFailures = 0
		b.lastSuccess = now
		if b.metrics != nil {
			b.metrics.success(b.name, duration)
		}
	} else {
		b.failureCount++
		b.consecutiveFailures++
		b.consecutiveSuccesses = 0
		b.lastFailure = now
		if b.metrics != nil {
			b.metrics.failure(b.name, duration, isSlow)
		}
		b.logger.Warn("circuit breaker recorded failure",
			"breaker", b.name, "error", err, "duration", duration, "slow", isSlow,
			"consecutive_failures", b.consecutiveFailures, "state", b.state.String())
	}

	switch b.state {
	case StateClosed:
		if b.shouldOpen() {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		if isSuccess {
			if b.consecutiveSuccesses >= b.closeAfterSuccesses {
				b.transitionTo(StateClosed)
			}
		} else {
			b.transitionTo(StateOpen)
		}
	}
}

func (b *Breaker) shouldOpen() bool {
	if len(b.callResults) < b.maxFailures {
		return false
	}
	if b.consecutiveFailures >= b.maxFailures {
		return true
	}
	failures := 0
	for _, r := range b.callResults {
		if !r.success {
			failures++
		}
	}
	return float64(failures)/float64(len(b.callResults)) >= b.failureThreshold
}

// transitionTo must be called with b.mu held.
func (b *Breaker) transitionTo(to State) {
	from := b.state
	b.state = to
	b.lastStateChange = time.Now()
	b.halfOpenCalls = 0
	if to == StateClosed {
		b.failureCount = 0
		b.consecutiveFailures = 0
		b.callResults = b.callResults[:0]
	}

	b.logger.Info("circuit breaker state change", "breaker", b.name, "from", from.String(), "to", to.String())
	if b.metrics != nil {
		b.metrics.stateChange(b.name, from, to)
	}
	for _, fn := range b.onStateChg {
		fn(b.name, from, to)
	}
}

func (b *Breaker) trimWindow() {
	cutoff := time.Now().Add(-b.timeWindow)
	firstValid := len(b.callResults)
	for i, r := range b.callResults {
		if r.timestamp.After(cutoff) {
			firstValid = i
			break
		}
	}
	if firstValid > 0 {
		b.callResults = b.callResults[firstValid:]
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a point-in-time snapshot for health reporting (C8).
type Stats struct {
	State                State
	FailureCount         int
	SuccessCount         int
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastFailure          time.Time
	LastSuccess          time.Time
	LastStateChange      time.Time
	TotalCalls           int
	NextRetryAt          time.Time
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	var next time.Time
	if b.state == StateOpen {
		next = b.lastStateChange.Add(b.resetTimeout)
	}
	return Stats{
		State:                b.state,
		FailureCount:         b.failureCount,
		SuccessCount:         b.successCount,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		LastFailure:          b.lastFailure,
		LastSuccess:          b.lastSuccess,
		LastStateChange:      b.lastStateChange,
		TotalCalls:           len(b.callResults),
		NextRetryAt:          next,
	}
}

// Trip manually forces the breaker open, per spec.md's manual override
// requirement (e.g. an operator disabling a known-bad source).
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateOpen)
}

// ManualReset forces the breaker back to closed, discarding window state.
func (b *Breaker) ManualReset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.successCount = 0
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.halfOpenCalls = 0
	b.callResults = b.callResults[:0]
	b.transitionTo(StateClosed)
}
