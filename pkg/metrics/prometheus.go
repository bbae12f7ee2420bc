package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	fallbacksTotal  *prometheus.CounterVec
	hedgesTotal     *prometheus.CounterVec
	endpointState   *prometheus.GaugeVec
	throttleTotal   *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new Prometheus-based metrics recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of provider calls by endpoint, agent, and status",
			},
			[]string{"endpoint", "provider", "model", "agent_id", "status", "error_type"},
		),
		tokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in completion requests",
			},
			[]string{"endpoint", "provider", "model", "agent_id", "type"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of provider calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "provider", "model"},
		),
		retriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_retries_total",
				Help: "Total number of retry attempts by endpoint and error type",
			},
			[]string{"endpoint", "error_type"},
		),
		fallbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_fallbacks_total",
				Help: "Total number of failovers between endpoints",
			},
			[]string{"from", "to"},
		),
		hedgesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_hedges_total",
				Help: "Total number of hedged request launches and wins",
			},
			[]string{"endpoint", "outcome"},
		),
		endpointState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "llm_endpoint_state",
				Help: "Current circuit state per endpoint (1 for the active state)",
			},
			[]string{"endpoint", "state"},
		),
		throttleTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_throttle_total",
				Help: "Total number of client-side rate limit rejections",
			},
			[]string{"endpoint", "reason"},
		),
	}
}

// ObserveRequest records a completed provider call.
func (p *PrometheusRecorder) ObserveRequest(
	endpoint, provider, model, agentID string,
	promptTokens, completionTokens int,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}

	p.requestsTotal.WithLabelValues(endpoint, provider, model, agentID, status, errorType).Inc()
	if success {
		p.tokensTotal.WithLabelValues(endpoint, provider, model, agentID, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(endpoint, provider, model, agentID, "completion").Add(float64(completionTokens))
	}
	p.requestDuration.WithLabelValues(endpoint, provider, model).Observe(duration.Seconds())
}

// IncRetry counts a retry attempt against an endpoint.
func (p *PrometheusRecorder) IncRetry(endpoint, errorType string) {
	p.retriesTotal.WithLabelValues(endpoint, errorType).Inc()
}

// IncFallback counts a failover from one endpoint to the next.
func (p *PrometheusRecorder) IncFallback(from, to string) {
	p.fallbacksTotal.WithLabelValues(from, to).Inc()
}

// IncHedge counts hedged request launches and wins.
func (p *PrometheusRecorder) IncHedge(endpoint, outcome string) {
	p.hedgesTotal.WithLabelValues(endpoint, outcome).Inc()
}

// SetEndpointState records an endpoint's circuit state.
func (p *PrometheusRecorder) SetEndpointState(endpoint, state string) {
	for _, s := range []string{"healthy", "degraded", "open", "half_open"} {
		val := 0.0
		if s == state {
			val = 1.0
		}
		p.endpointState.WithLabelValues(endpoint, s).Set(val)
	}
}

// IncThrottle counts client-side rate limit rejections.
func (p *PrometheusRecorder) IncThrottle(endpoint, reason string) {
	p.throttleTotal.WithLabelValues(endpoint, reason).Inc()
}
