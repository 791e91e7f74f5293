package controlplane

import (
	"sync"
	"time"
)

// BreakerState is the position of the control-plane circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets every call through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen refuses calls until the cool-down elapses.
	BreakerOpen
	// BreakerHalfOpen lets probe calls through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the trip and recovery thresholds.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it again.
	SuccessThreshold int
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// ErrorRate trips the breaker when the failure share of a window
	// reaches it. Zero disables rate tripping.
	ErrorRate float64
	// Window is the tumbling window for ErrorRate.
	Window time.Duration
}

// minRateSamples keeps a single early failure from reading as a 100% rate.
const minRateSamples = 10

// Breaker guards the control plane against piling requests onto an
// unhealthy upstream. Only transport failures and 5xx answers count as
// failures; a 4xx is the caller's problem. Safe for concurrent use.
type Breaker struct {
	mu        sync.Mutex
	cfg       BreakerConfig
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time

	windowStart    time.Time
	windowTotal    int
	windowFailures int

	now      func() time.Time
	onChange func(BreakerState)
}

// NewBreaker returns a closed breaker. Zero thresholds take defaults of
// 5 failures, 2 successes and a 30s cool-down.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	b := &Breaker{cfg: cfg, now: time.Now}
	b.windowStart = b.now()
	return b
}

// OnChange registers fn to be called, with the lock held, on every state
// transition.
func (b *Breaker) OnChange(fn func(BreakerState)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Allow returns ErrBreakerOpen while the breaker refuses calls.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cool()
	if b.state == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// Success records a healthy call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
		b.count(false)
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.failures, b.successes = 0, 0
			b.resetWindow()
			b.set(BreakerClosed)
		}
	}
}

// Failure records an unhealthy call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		b.count(true)
		if b.failures >= b.cfg.FailureThreshold || b.rateExceeded() {
			b.trip()
		}
	case BreakerHalfOpen:
		b.trip()
	}
}

// State returns the current state, moving an expired open breaker to half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cool()
	return b.state
}

func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.successes = 0
	b.resetWindow()
	b.set(BreakerOpen)
}

func (b *Breaker) cool() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) > b.cfg.Timeout {
		b.successes = 0
		b.set(BreakerHalfOpen)
	}
}

func (b *Breaker) set(s BreakerState) {
	if b.state == s {
		return
	}
	b.state = s
	if b.onChange != nil {
		b.onChange(s)
	}
}

func (b *Breaker) count(failed bool) {
	if b.cfg.Window <= 0 {
		return
	}
	if b.now().Sub(b.windowStart) > b.cfg.Window {
		b.resetWindow()
	}
	b.windowTotal++
	if failed {
		b.windowFailures++
	}
}

func (b *Breaker) resetWindow() {
	b.windowStart = b.now()
	b.windowTotal, b.windowFailures = 0, 0
}

func (b *Breaker) rateExceeded() bool {
	if b.cfg.ErrorRate <= 0 || b.cfg.Window <= 0 || b.windowTotal < minRateSamples {
		return false
	}
	return float64(b.windowFailures)/float64(b.windowTotal) >= b.cfg.ErrorRate
}
