// Package router selects provider endpoints for completion requests based on
// capabilities and live health state.
package router

import (
	"sync/atomic"
	"time"

	"conductor/pkg/llm"
)

// State represents the health of an endpoint's circuit.
type State int32

const (
	// StateHealthy means requests flow normally.
	StateHealthy State = iota
	// StateDegraded means recent failures were observed but the circuit is closed.
	StateDegraded
	// StateOpen means the circuit is open and requests are skipped until cooldown.
	StateOpen
	// StateHalfOpen means a single probe request is testing recovery.
	StateHalfOpen
)

// String returns the state name for logs and metrics labels.
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// HealthConfig tunes the endpoint health machine.
type HealthConfig struct {
	// DegradeThreshold is consecutive failures before the endpoint is demoted
	// below healthy peers in routing order.
	DegradeThreshold int
	// OpenThreshold is consecutive failures before the circuit opens.
	OpenThreshold int
	// SuccessThreshold is successful probes required to close an open circuit.
	SuccessThreshold int
	// Cooldown is how long an open circuit rejects traffic before probing.
	Cooldown time.Duration
}

// DefaultHealthConfig returns production defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		DegradeThreshold: 2,
		OpenThreshold:    5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

func (c *HealthConfig) normalize() {
	if c.DegradeThreshold <= 0 {
		c.DegradeThreshold = 2
	}
	if c.OpenThreshold <= 0 {
		c.OpenThreshold = 5
	}
	if c.OpenThreshold < c.DegradeThreshold {
		c.OpenThreshold = c.DegradeThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
}

// Endpoint is a routable provider backend: a raw client plus capability tags
// and a small lock-free health machine. All counters are atomics so the
// resilience layer can record outcomes from concurrent (hedged) calls.
type Endpoint struct {
	Client llm.LLMClient

	ID           string
	Provider     string
	Capabilities []string

	cfg HealthConfig

	state             atomic.Int32
	consecutiveFails  atomic.Int32
	halfOpenSuccesses atomic.Int32
	probeInFlight     atomic.Bool
	openedAtNanos     atomic.Int64
	latencyMicros     atomic.Int64

	totalSuccesses atomic.Int64
	totalFailures  atomic.Int64
}

// NewEndpoint creates an endpoint in the healthy state.
func NewEndpoint(id, provider string, capabilities []string, client llm.LLMClient, cfg HealthConfig) *Endpoint {
	cfg.normalize()
	return &Endpoint{
		Client:       client,
		ID:           id,
		Provider:     provider,
		Capabilities: capabilities,
		cfg:          cfg,
	}
}

// HasCapabilities reports whether the endpoint advertises every required tag.
func (e *Endpoint) HasCapabilities(required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range e.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// State returns the current circuit state.
func (e *Endpoint) State() State {
	return State(e.state.Load())
}

// AllowRequest reports whether a request may be sent now. For an open circuit
// whose cooldown has elapsed, it claims the single half-open probe slot; the
// caller must then report the outcome via RecordSuccess or RecordFailure.
func (e *Endpoint) AllowRequest(now time.Time) bool {
	switch e.State() {
	case StateHealthy, StateDegraded:
		return true
	case StateOpen:
		openedAt := time.Unix(0, e.openedAtNanos.Load())
		if now.Sub(openedAt) < e.cfg.Cooldown {
			return false
		}
		if !e.probeInFlight.CompareAndSwap(false, true) {
			return false
		}
		e.state.Store(int32(StateHalfOpen))
		e.halfOpenSuccesses.Store(0)
		return true
	case StateHalfOpen:
		// Only the probe holder may call while half-open.
		return e.probeInFlight.CompareAndSwap(false, true)
	default:
		return false
	}
}

// RecordSuccess reports a successful call and its latency.
func (e *Endpoint) RecordSuccess(latency time.Duration) {
	e.totalSuccesses.Add(1)
	e.consecutiveFails.Store(0)
	e.observeLatency(latency)

	switch e.State() {
	case StateHalfOpen:
		e.probeInFlight.Store(false)
		if e.halfOpenSuccesses.Add(1) >= int32(e.cfg.SuccessThreshold) {
			e.state.Store(int32(StateHealthy))
		}
	case StateDegraded:
		e.state.Store(int32(StateHealthy))
	}
}

// RecordFailure reports a failed call and advances the health machine.
func (e *Endpoint) RecordFailure() {
	e.totalFailures.Add(1)
	fails := e.consecutiveFails.Add(1)

	switch e.State() {
	case StateHalfOpen:
		// Failed probe reopens the circuit for a fresh cooldown. Reopen
		// before releasing the slot so a concurrent AllowRequest cannot
		// claim a second probe against the half-open state.
		e.open()
		e.probeInFlight.Store(false)
	case StateHealthy, StateDegraded:
		if int(fails) >= e.cfg.OpenThreshold {
			e.open()
		} else if int(fails) >= e.cfg.DegradeThreshold {
			e.state.Store(int32(StateDegraded))
		}
	}
}

// ReleaseProbe returns a claimed half-open probe slot without recording an
// outcome. Used when a probe call was cancelled before the provider answered,
// so cancellation neither heals nor penalizes the endpoint.
func (e *Endpoint) ReleaseProbe() {
	if e.State() == StateHalfOpen {
		e.probeInFlight.Store(false)
	}
}

func (e *Endpoint) open() {
	e.state.Store(int32(StateOpen))
	e.openedAtNanos.Store(time.Now().UnixNano())
	e.halfOpenSuccesses.Store(0)
}

// observeLatency folds a sample into an exponentially weighted moving average.
func (e *Endpoint) observeLatency(latency time.Duration) {
	sample := latency.Microseconds()
	for {
		prev := e.latencyMicros.Load()
		var next int64
		if prev == 0 {
			next = sample
		} else {
			// alpha = 0.2
			next = prev + (sample-prev)/5
		}
		if e.latencyMicros.CompareAndSwap(prev, next) {
			return
		}
	}
}

// Latency returns the smoothed latency estimate, zero before any sample.
func (e *Endpoint) Latency() time.Duration {
	return time.Duration(e.latencyMicros.Load()) * time.Microsecond
}

// Stats is a point-in-time snapshot of endpoint counters.
type Stats struct {
	ID        string
	State     string
	Successes int64
	Failures  int64
	Latency   time.Duration
}

// Snapshot returns current counters for metrics and diagnostics.
func (e *Endpoint) Snapshot() Stats {
	return Stats{
		ID:        e.ID,
		State:     e.State().String(),
		Successes: e.totalSuccesses.Load(),
		Failures:  e.totalFailures.Load(),
		Latency:   e.Latency(),
	}
}
