// Package breaker implements the gateway's per-provider circuit breaker
// (C3): a three-state gate (Closed/Open/HalfOpen) in front of a protected
// call, with a cumulative error-rate trigger and a synthetic fallback result
// while open.
package breaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is one of the breaker's three states.
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

// Config configures a Breaker's thresholds.
type Config struct {
	// ErrorThresholdPercentage is the failure rate (0-100) that trips the
	// breaker from Closed to Open.
	ErrorThresholdPercentage float64
	// MinSamples is the minimum number of completed calls recorded before
	// the error rate is evaluated at all. Calls are counted from the
	// breaker's creation or its last HalfOpen->Closed recovery, and the rate
	// is taken over all of them: there is no time- or count-bounded window,
	// so older outcomes are never dropped while the breaker stays Closed.
	MinSamples int
	// Timeout bounds each individual call; exceeding it counts as a
	// failure outcome.
	Timeout time.Duration
	// ResetTimeout is how long the breaker stays Open before admitting a
	// single HalfOpen probe.
	ResetTimeout time.Duration
	// OnStateChange is an optional observer, invoked with the state just
	// entered. Used by the metrics surface (C8) to set the breaker gauge.
	OnStateChange func(provider string, state State)
}

func (c Config) normalized() Config {
	if c.ErrorThresholdPercentage <= 0 {
		c.ErrorThresholdPercentage = 50
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	return c
}

// OpenMessage is the fallback error message callers report (never thrown)
// while the breaker is Open or while a HalfOpen probe is already in flight.
const OpenMessage = "Circuit breaker is OPEN"

// Breaker is a single provider's circuit breaker.
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger

	mu           sync.Mutex
	state        State
	openedAt     time.Time
	total        int
	failures     int
	halfOpenBusy bool
}

// New creates a Breaker for one named provider.
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{name: name, cfg: cfg.normalized(), logger: logger, state: StateClosed}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Fire runs fn under the breaker's protection. If the breaker is Open and
// ResetTimeout has not elapsed, fn is never invoked and the fallback
// (proceeded=false, ok=false, nil error) is returned immediately; whether
// that fallback is retried is left to the caller. Exactly one probe is
// admitted while HalfOpen; concurrent callers during that probe also
// receive the fallback without invoking fn.
func (b *Breaker) Fire(ctx context.Context, fn func(ctx context.Context) (ok bool, err error)) (proceeded bool, ok bool, err error) {
	if !b.admit() {
		return false, false, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	type outcome struct {
		ok  bool
		err error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		callOk, callErr := fn(callCtx)
		resultCh <- outcome{callOk, callErr}
	}()

	select {
	case <-callCtx.Done():
		b.record(false)
		return true, false, callCtx.Err()
	case res := <-resultCh:
		b.record(res.ok)
		return true, res.ok, res.err
	}
}

// admit decides whether a call is allowed to proceed, performing any state
// transition the decision implies. All mutation is under the breaker's own
// lock so concurrent evaluation never admits two HalfOpen probes.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.ResetTimeout {
			b.setState(StateHalfOpen)
			b.halfOpenBusy = true
			return true
		}
		return false

	case StateHalfOpen:
		if b.halfOpenBusy {
			return false
		}
		b.halfOpenBusy = true
		return true

	default:
		return false
	}
}

// record applies a completed call's outcome to the rolling statistics and
// performs any resulting state transition.
func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenBusy = false
		if success {
			b.setState(StateClosed)
			b.total, b.failures = 0, 0
		} else {
			b.setState(StateOpen)
		}
		return

	case StateOpen:
		// A call already in flight when the breaker reopened; ignore.
		return
	}

	b.total++
	if !success {
		b.failures++
	}

	if b.total >= b.cfg.MinSamples {
		rate := 100 * float64(b.failures) / float64(b.total)
		if rate >= b.cfg.ErrorThresholdPercentage {
			b.setState(StateOpen)
		}
	}
}

// setState must be called with mu held.
func (b *Breaker) setState(s State) {
	if s == b.state {
		return
	}
	b.state = s
	if s == StateOpen {
		b.openedAt = time.Now()
	}
	b.logger.Info("circuit breaker state change",
		zap.String("provider", b.name),
		zap.String("state", s.String()),
	)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, s)
	}
}
