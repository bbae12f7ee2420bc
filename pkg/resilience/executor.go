package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"conductor/pkg/limiter"
	"conductor/pkg/llm"
	"conductor/pkg/llm/llmerrors"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/router"
	"conductor/pkg/tokens"
)

// Config tunes the executor.
type Config struct {
	// CallTimeout bounds a single provider attempt.
	CallTimeout time.Duration
	// MaxAttemptsPerEndpoint caps attempts per endpoint regardless of the
	// error-type retry budget.
	MaxAttemptsPerEndpoint int
	// Hedging races the top two candidates instead of calling sequentially.
	Hedging bool
	// HedgeDelay is how long the primary runs alone before the hedge launches.
	HedgeDelay time.Duration
	// CostPerMTokUSD maps endpoint ID to blended USD cost per million tokens,
	// used for daily budget accounting.
	CostPerMTokUSD map[string]float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout:            60 * time.Second,
		MaxAttemptsPerEndpoint: 3,
		Hedging:                false,
		HedgeDelay:             2 * time.Second,
	}
}

func (c *Config) normalize() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
	if c.MaxAttemptsPerEndpoint <= 0 {
		c.MaxAttemptsPerEndpoint = 3
	}
	if c.HedgeDelay <= 0 {
		c.HedgeDelay = 2 * time.Second
	}
}

// Result pairs a completion response with the endpoint that produced it.
type Result struct {
	Response   llm.CompletionResponse
	EndpointID string
}

// Executor routes requests and drives retries, failover, and health
// bookkeeping. Safe for concurrent use.
type Executor struct {
	router   *router.Router
	limits   *limiter.Limiter
	recorder metrics.Recorder
	logger   *logx.Logger
	cfg      Config
}

// New creates an executor. limits may be nil to disable client-side rate
// limiting; recorder may be nil to disable metrics.
func New(rt *router.Router, limits *limiter.Limiter, recorder metrics.Recorder, cfg Config) *Executor {
	cfg.normalize()
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Executor{
		router:   rt,
		limits:   limits,
		recorder: recorder,
		logger:   logx.NewLogger("resilience"),
		cfg:      cfg,
	}
}

// Execute routes the request and tries candidates in order until one
// succeeds. It returns a FatalError immediately on non-recoverable request
// errors and an ExhaustedError when every candidate fails.
func (e *Executor) Execute(ctx context.Context, agentID string, req llm.CompletionRequest, route router.Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, &FatalError{Err: llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "invalid request")}
	}

	candidates, err := e.router.Route(route)
	if err != nil {
		return Result{}, err
	}

	if e.cfg.Hedging && len(candidates) >= 2 {
		return e.executeHedged(ctx, agentID, req, candidates)
	}
	return e.executeSequential(ctx, agentID, req, candidates)
}

func (e *Executor) executeSequential(ctx context.Context, agentID string, req llm.CompletionRequest, candidates []*router.Endpoint) (Result, error) {
	var failures []CandidateFailure

	for i, ep := range candidates {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if i > 0 {
			e.recorder.IncFallback(candidates[i-1].ID, ep.ID)
			e.logger.Info("falling back from %s to %s for agent %s", candidates[i-1].ID, ep.ID, agentID)
		}

		resp, attempts, err := e.tryEndpoint(ctx, agentID, ep, req)
		if err == nil {
			return Result{Response: resp, EndpointID: ep.ID}, nil
		}
		if llmerrors.IsFatal(err) {
			return Result{}, &FatalError{Err: err, EndpointID: ep.ID}
		}
		if (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		failures = append(failures, CandidateFailure{
			EndpointID: ep.ID,
			Attempts:   attempts,
			Err:        err,
		})
	}

	return Result{}, &ExhaustedError{Failures: failures}
}

// tryEndpoint runs up to the retry budget of attempts against one endpoint.
// It returns the number of provider calls actually made.
func (e *Executor) tryEndpoint(ctx context.Context, agentID string, ep *router.Endpoint, req llm.CompletionRequest) (llm.CompletionResponse, int, error) {
	attempts := 0
	var lastErr error

	for attempts < e.cfg.MaxAttemptsPerEndpoint {
		if ctx.Err() != nil {
			if lastErr != nil {
				return llm.CompletionResponse{}, attempts, lastErr
			}
			return llm.CompletionResponse{}, attempts, ctx.Err()
		}

		if !ep.AllowRequest(time.Now()) {
			e.recorder.SetEndpointState(ep.ID, ep.State().String())
			return llm.CompletionResponse{}, attempts, llmerrors.NewError(llmerrors.ErrorTypeTransient, "circuit open for endpoint "+ep.ID)
		}

		if err := e.reserveQuota(ep, &req); err != nil {
			// Quota rejections do not count against endpoint health; the
			// endpoint itself is fine. Give back any probe slot claimed in
			// AllowRequest.
			ep.ReleaseProbe()
			return llm.CompletionResponse{}, attempts, err
		}

		attempts++
		resp, callErr := e.callOnce(ctx, ep, req)
		if callErr == nil {
			e.chargeBudget(ep, resp.Usage)
			e.recorder.SetEndpointState(ep.ID, ep.State().String())
			e.observe(ep, agentID, resp.Usage, true, "", resp.Latency)
			return resp.Response, attempts, nil
		}

		lastErr = callErr
		errType := llmerrors.TypeOf(callErr)
		e.recorder.SetEndpointState(ep.ID, ep.State().String())
		e.observe(ep, agentID, llm.Usage{}, false, errType.String(), resp.Latency)

		if llmerrors.IsFatal(callErr) {
			return llm.CompletionResponse{}, attempts, callErr
		}

		retryCfg := retryConfigFor(callErr)
		if attempts > retryCfg.MaxRetries || attempts >= e.cfg.MaxAttemptsPerEndpoint {
			break
		}

		delay := backoffDelay(retryCfg, attempts)
		e.recorder.IncRetry(ep.ID, errType.String())
		e.logger.Debug("retrying %s for agent %s after %v (attempt %d, %s)", ep.ID, agentID, delay, attempts, errType)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return llm.CompletionResponse{}, attempts, lastErr
		}
	}

	return llm.CompletionResponse{}, attempts, lastErr
}

// callResult carries the raw response plus timing for metrics.
type callResult struct {
	Response llm.CompletionResponse
	Usage    llm.Usage
	Latency  time.Duration
}

// callOnce performs a single provider call with the per-attempt timeout and
// records the outcome on the endpoint's health machine.
func (e *Executor) callOnce(ctx context.Context, ep *router.Endpoint, req llm.CompletionRequest) (callResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	resp, err := ep.Client.Complete(callCtx, req)
	latency := time.Since(start)

	if err != nil {
		classified := classify(err, callCtx, ctx)
		if isCancellation(classified, ctx) {
			// A cancelled call (hedge loser, caller shutdown) is not a
			// provider outcome and must not move the health machine.
			ep.ReleaseProbe()
		} else {
			ep.RecordFailure()
		}
		return callResult{Latency: latency}, classified
	}

	ep.RecordSuccess(latency)
	return callResult{Response: resp, Usage: resp.Usage, Latency: latency}, nil
}

// isCancellation reports whether a classified error is a pass-through
// cancellation from the caller rather than a provider failure. Per-attempt
// timeouts are classified as transient before this check and still count.
func isCancellation(err error, parent context.Context) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) && parent.Err() != nil
}

// classify normalizes provider errors. Per-attempt timeouts surface as
// transient so they are retried; caller cancellation passes through.
func classify(err error, callCtx, parentCtx context.Context) error {
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && parentCtx.Err() == nil {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "provider call timed out")
	}
	if callCtx.Err() != nil && parentCtx.Err() == nil {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "provider call timed out")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "provider call failed")
}

func (e *Executor) reserveQuota(ep *router.Endpoint, req *llm.CompletionRequest) error {
	if e.limits == nil {
		return nil
	}
	estimate := estimateTokens(req)
	if err := e.limits.Reserve(ep.ID, estimate); err != nil {
		e.recorder.IncThrottle(ep.ID, "tpm")
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "client-side rate limit for endpoint "+ep.ID)
	}
	return nil
}

func (e *Executor) chargeBudget(ep *router.Endpoint, usage llm.Usage) {
	if e.limits == nil {
		return
	}
	perMTok, ok := e.cfg.CostPerMTokUSD[ep.ID]
	if !ok || perMTok <= 0 {
		return
	}
	cost := float64(usage.PromptTokens+usage.CompletionTokens) / 1e6 * perMTok
	if err := e.limits.ReserveBudget(ep.ID, cost); err != nil {
		e.recorder.IncThrottle(ep.ID, "budget")
		e.logger.Warn("daily budget exceeded for endpoint %s", ep.ID)
	}
}

func (e *Executor) observe(ep *router.Endpoint, agentID string, usage llm.Usage, success bool, errorType string, latency time.Duration) {
	e.recorder.ObserveRequest(
		ep.ID, ep.Provider, ep.Client.GetModelName(), agentID,
		usage.PromptTokens, usage.CompletionTokens,
		success, errorType, latency,
	)
}

// estimateTokens approximates the token footprint of a request for rate
// limit reservations: prompt tokens counted plus the completion budget.
func estimateTokens(req *llm.CompletionRequest) int {
	total := req.MaxTokens
	for i := range req.Messages {
		total += tokens.Count(req.Messages[i].Content)
	}
	return total
}

func retryConfigFor(err error) llmerrors.RetryConfig {
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.GetRetryConfig()
	}
	return llmerrors.DefaultRetryConfigs[llmerrors.ErrorTypeUnknown]
}

// backoffDelay computes the exponential backoff for the given attempt number
// (1-based), with optional jitter in [delay/2, delay).
func backoffDelay(cfg llmerrors.RetryConfig, attempt int) time.Duration {
	delay := cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if delay >= cfg.MaxDelay {
			delay = cfg.MaxDelay
			break
		}
	}
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter && delay > 0 {
		half := delay / 2
		delay = half + time.Duration(rand.Int63n(int64(half)+1))
	}
	return delay
}
