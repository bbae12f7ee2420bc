package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/limiter"
	"conductor/pkg/llm"
	"conductor/pkg/llm/llmerrors"
	"conductor/pkg/router"
)

func testRequest() llm.CompletionRequest {
	return llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewUserMessage("summarize the findings"),
	})
}

func chatRoute() router.Request {
	return router.Request{RequiredCapabilities: []string{"chat"}}
}

func newEndpoint(id string, client llm.LLMClient) *router.Endpoint {
	return router.NewEndpoint(id, "mock", []string{"chat"}, client, router.DefaultHealthConfig())
}

func TestExecuteSuccess(t *testing.T) {
	mock := llm.NewMockClient("m1", llm.MockResult{
		Response: llm.CompletionResponse{Content: "done", StopReason: "end_turn"},
	})
	ep := newEndpoint("alpha", mock)
	exec := New(router.New([]*router.Endpoint{ep}, nil), nil, nil, DefaultConfig())

	result, err := exec.Execute(context.Background(), "agent-1", testRequest(), chatRoute())
	require.NoError(t, err)
	assert.Equal(t, "alpha", result.EndpointID)
	assert.Equal(t, "done", result.Response.Content)
	assert.Equal(t, 1, mock.Calls())
}

func TestExecuteFailover(t *testing.T) {
	transient := llmerrors.NewError(llmerrors.ErrorTypeTransient, "upstream 503")
	mockA := llm.NewMockClient("a", llm.MockResult{Err: transient})
	mockB := llm.NewMockClient("b", llm.MockResult{
		Response: llm.CompletionResponse{Content: "recovered", StopReason: "end_turn"},
	})

	// Name the failing endpoint so it sorts first and is tried first.
	epA := newEndpoint("aaa-flaky", mockA)
	epB := newEndpoint("bbb-stable", mockB)

	cfg := DefaultConfig()
	cfg.MaxAttemptsPerEndpoint = 2
	exec := New(router.New([]*router.Endpoint{epA, epB}, nil), nil, nil, cfg)

	result, err := exec.Execute(context.Background(), "agent-1", testRequest(), chatRoute())
	require.NoError(t, err)
	assert.Equal(t, "bbb-stable", result.EndpointID)

	// The flaky endpoint was retried up to its attempt budget before failover.
	assert.Equal(t, 2, mockA.Calls())
	assert.Equal(t, 1, mockB.Calls())
	assert.Equal(t, int64(2), epA.Snapshot().Failures)
}

func TestExecuteFatalAborts(t *testing.T) {
	mockA := llm.NewMockClient("a", llm.MockResult{
		Err: llmerrors.NewError(llmerrors.ErrorTypeAuth, "invalid api key"),
	})
	mockB := llm.NewMockClient("b")

	epA := newEndpoint("aaa", mockA)
	epB := newEndpoint("bbb", mockB)
	exec := New(router.New([]*router.Endpoint{epA, epB}, nil), nil, nil, DefaultConfig())

	_, err := exec.Execute(context.Background(), "agent-1", testRequest(), chatRoute())
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "aaa", fatal.EndpointID)

	// Auth failures abort the whole request; no fallback attempt.
	assert.Equal(t, 0, mockB.Calls())
}

func TestExecuteExhausted(t *testing.T) {
	transient := llmerrors.NewError(llmerrors.ErrorTypeTransient, "upstream 502")
	mockA := llm.NewMockClient("a", llm.MockResult{Err: transient})
	mockB := llm.NewMockClient("b", llm.MockResult{Err: transient})

	cfg := DefaultConfig()
	cfg.MaxAttemptsPerEndpoint = 1
	exec := New(router.New([]*router.Endpoint{
		newEndpoint("aaa", mockA),
		newEndpoint("bbb", mockB),
	}, nil), nil, nil, cfg)

	_, err := exec.Execute(context.Background(), "agent-1", testRequest(), chatRoute())
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Failures, 2)
	assert.Equal(t, "aaa", exhausted.Failures[0].EndpointID)
	assert.Equal(t, "bbb", exhausted.Failures[1].EndpointID)
	assert.Equal(t, 1, exhausted.Failures[0].Attempts)
}

func TestExecuteInvalidRequest(t *testing.T) {
	exec := New(router.New([]*router.Endpoint{
		newEndpoint("aaa", llm.NewMockClient("a")),
	}, nil), nil, nil, DefaultConfig())

	_, err := exec.Execute(context.Background(), "agent-1", llm.CompletionRequest{}, chatRoute())
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, llmerrors.ErrorTypeBadPrompt, llmerrors.TypeOf(fatal.Err))
}

func TestExecuteNoCapableProvider(t *testing.T) {
	exec := New(router.New([]*router.Endpoint{
		newEndpoint("aaa", llm.NewMockClient("a")),
	}, nil), nil, nil, DefaultConfig())

	_, err := exec.Execute(context.Background(), "agent-1", testRequest(), router.Request{
		RequiredCapabilities: []string{"vision"},
	})
	var noCap *router.ErrNoCapableProvider
	assert.ErrorAs(t, err, &noCap)
}

func TestExecuteOpenCircuitNoCalls(t *testing.T) {
	mock := llm.NewMockClient("a")
	ep := router.NewEndpoint("only", "mock", []string{"chat"}, mock, router.HealthConfig{
		DegradeThreshold: 1,
		OpenThreshold:    1,
		SuccessThreshold: 1,
		Cooldown:         time.Hour,
	})
	ep.RecordFailure()
	require.Equal(t, router.StateOpen, ep.State())

	exec := New(router.New([]*router.Endpoint{ep}, nil), nil, nil, DefaultConfig())

	_, err := exec.Execute(context.Background(), "agent-1", testRequest(), chatRoute())
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Failures, 1)
	assert.Equal(t, 0, exhausted.Failures[0].Attempts)

	// Cooldown has not elapsed: the provider must not be called at all.
	assert.Equal(t, 0, mock.Calls())
}

func TestExecuteThrottled(t *testing.T) {
	mock := llm.NewMockClient("a")
	limits := limiter.New(map[string]limiter.Limits{
		"aaa": {MaxTokensPerMinute: 10},
	})
	defer limits.Close()

	cfg := DefaultConfig()
	cfg.MaxAttemptsPerEndpoint = 1
	exec := New(router.New([]*router.Endpoint{
		newEndpoint("aaa", mock),
	}, nil), limits, nil, cfg)

	_, err := exec.Execute(context.Background(), "agent-1", testRequest(), chatRoute())
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, llmerrors.ErrorTypeRateLimit, llmerrors.TypeOf(exhausted.Failures[0].Err))
	assert.Equal(t, 0, mock.Calls())
}

func TestExecuteHedgedWinner(t *testing.T) {
	slow := llm.NewMockClient("slow", llm.MockResult{
		Delay:    500 * time.Millisecond,
		Response: llm.CompletionResponse{Content: "slow answer", StopReason: "end_turn"},
	})
	fast := llm.NewMockClient("fast", llm.MockResult{
		Response: llm.CompletionResponse{Content: "fast answer", StopReason: "end_turn"},
	})

	// The slow endpoint sorts first so it becomes the hedge primary.
	epSlow := newEndpoint("aaa-slow", slow)
	epFast := newEndpoint("bbb-fast", fast)

	cfg := DefaultConfig()
	cfg.Hedging = true
	cfg.HedgeDelay = 20 * time.Millisecond
	exec := New(router.New([]*router.Endpoint{epSlow, epFast}, nil), nil, nil, cfg)

	result, err := exec.Execute(context.Background(), "agent-1", testRequest(), chatRoute())
	require.NoError(t, err)
	assert.Equal(t, "bbb-fast", result.EndpointID)
	assert.Equal(t, "fast answer", result.Response.Content)
	assert.Equal(t, 1, fast.Calls())
}

func TestHedgeLoserKeepsHealth(t *testing.T) {
	slow := llm.NewMockClient("slow", llm.MockResult{
		Delay:    500 * time.Millisecond,
		Response: llm.CompletionResponse{Content: "slow answer", StopReason: "end_turn"},
	})
	fast := llm.NewMockClient("fast", llm.MockResult{
		Response: llm.CompletionResponse{Content: "fast answer", StopReason: "end_turn"},
	})

	epSlow := newEndpoint("aaa-slow", slow)
	epFast := newEndpoint("bbb-fast", fast)

	cfg := DefaultConfig()
	cfg.Hedging = true
	cfg.HedgeDelay = 20 * time.Millisecond
	exec := New(router.New([]*router.Endpoint{epSlow, epFast}, nil), nil, nil, cfg)

	result, err := exec.Execute(context.Background(), "agent-1", testRequest(), chatRoute())
	require.NoError(t, err)
	require.Equal(t, "bbb-fast", result.EndpointID)

	// Losing the race is not a failure: the cancelled endpoint keeps a clean
	// health record and stays first in line for the next request.
	snap := epSlow.Snapshot()
	assert.Equal(t, int64(0), snap.Failures)
	assert.Equal(t, router.StateHealthy, epSlow.State())
}

func TestExecuteHedgeLaunchesEarlyOnPrimaryFailure(t *testing.T) {
	mockA := llm.NewMockClient("a", llm.MockResult{
		Err: llmerrors.NewError(llmerrors.ErrorTypeTransient, "upstream 503"),
	})
	mockB := llm.NewMockClient("b", llm.MockResult{
		Response: llm.CompletionResponse{Content: "hedge answer", StopReason: "end_turn"},
	})

	cfg := DefaultConfig()
	cfg.Hedging = true
	cfg.HedgeDelay = time.Hour
	cfg.MaxAttemptsPerEndpoint = 1
	exec := New(router.New([]*router.Endpoint{
		newEndpoint("aaa", mockA),
		newEndpoint("bbb", mockB),
	}, nil), nil, nil, cfg)

	start := time.Now()
	result, err := exec.Execute(context.Background(), "agent-1", testRequest(), chatRoute())
	require.NoError(t, err)
	assert.Equal(t, "bbb", result.EndpointID)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecuteContextCanceled(t *testing.T) {
	blocked := llm.NewMockClient("a", llm.MockResult{
		Delay:    time.Hour,
		Response: llm.CompletionResponse{Content: "never", StopReason: "end_turn"},
	})
	exec := New(router.New([]*router.Endpoint{
		newEndpoint("aaa", blocked),
	}, nil), nil, nil, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := exec.Execute(ctx, "agent-1", testRequest(), chatRoute())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffDelayGrowth(t *testing.T) {
	cfg := llmerrors.RetryConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      400 * time.Millisecond,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, 100*time.Millisecond, backoffDelay(cfg, 1))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(cfg, 2))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(cfg, 3))
	// Capped at MaxDelay.
	assert.Equal(t, 400*time.Millisecond, backoffDelay(cfg, 10))
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	cfg := llmerrors.RetryConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}

	for i := 0; i < 50; i++ {
		d := backoffDelay(cfg, 1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}
