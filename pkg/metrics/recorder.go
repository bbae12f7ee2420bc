// Package metrics provides metrics recording for completion requests and
// endpoint health.
package metrics

import (
	"time"
)

// Recorder defines the interface for recording request and routing metrics.
type Recorder interface {
	// ObserveRequest records a completed provider call.
	ObserveRequest(
		endpoint, provider, model, agentID string,
		promptTokens, completionTokens int,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// IncRetry counts a retry attempt against an endpoint.
	IncRetry(endpoint, errorType string)

	// IncFallback counts a failover from one endpoint to the next.
	IncFallback(from, to string)

	// IncHedge counts hedged request launches and wins.
	IncHedge(endpoint, outcome string)

	// SetEndpointState records an endpoint's circuit state.
	SetEndpointState(endpoint, state string)

	// IncThrottle counts client-side rate limit rejections.
	IncThrottle(endpoint, reason string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are
// disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(_, _, _, _ string, _, _ int, _ bool, _ string, _ time.Duration) {
}

// IncRetry does nothing in the no-op recorder.
func (n *NoopRecorder) IncRetry(_, _ string) {}

// IncFallback does nothing in the no-op recorder.
func (n *NoopRecorder) IncFallback(_, _ string) {}

// IncHedge does nothing in the no-op recorder.
func (n *NoopRecorder) IncHedge(_, _ string) {}

// SetEndpointState does nothing in the no-op recorder.
func (n *NoopRecorder) SetEndpointState(_, _ string) {}

// IncThrottle does nothing in the no-op recorder.
func (n *NoopRecorder) IncThrottle(_, _ string) {}
