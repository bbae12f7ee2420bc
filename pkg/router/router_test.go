package router

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/llm"
)

func testEndpoint(id string, caps []string, cfg HealthConfig) *Endpoint {
	return NewEndpoint(id, "mock", caps, llm.NewMockClient(id), cfg)
}

func ids(eps []*Endpoint) []string {
	out := make([]string, len(eps))
	for i, ep := range eps {
		out[i] = ep.ID
	}
	return out
}

func TestRouteCapabilityFilter(t *testing.T) {
	pool := []*Endpoint{
		testEndpoint("plain", []string{"chat"}, DefaultHealthConfig()),
		testEndpoint("tooled", []string{"chat", "tools"}, DefaultHealthConfig()),
	}
	rt := New(pool, nil)

	got, err := rt.Route(Request{RequiredCapabilities: []string{"tools"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"tooled"}, ids(got))

	got, err = rt.Route(Request{RequiredCapabilities: []string{"chat"}})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRouteNoCapableProvider(t *testing.T) {
	rt := New([]*Endpoint{testEndpoint("plain", []string{"chat"}, DefaultHealthConfig())}, nil)

	_, err := rt.Route(Request{RequiredCapabilities: []string{"vision"}})
	var noCap *ErrNoCapableProvider
	require.ErrorAs(t, err, &noCap)
	assert.Contains(t, noCap.Error(), "vision")
}

func TestRouteIdempotent(t *testing.T) {
	pool := []*Endpoint{
		testEndpoint("charlie", []string{"chat"}, DefaultHealthConfig()),
		testEndpoint("alpha", []string{"chat"}, DefaultHealthConfig()),
		testEndpoint("bravo", []string{"chat"}, DefaultHealthConfig()),
	}
	rt := New(pool, nil)

	first, err := rt.Route(Request{RequiredCapabilities: []string{"chat"}})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := rt.Route(Request{RequiredCapabilities: []string{"chat"}})
		require.NoError(t, err)
		assert.Equal(t, ids(first), ids(again))
	}
	// Equal health and no latency samples: stable ID order.
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, ids(first))
}

func TestRouteOrdersByHealth(t *testing.T) {
	healthy := testEndpoint("healthy", []string{"chat"}, DefaultHealthConfig())
	degraded := testEndpoint("degraded", []string{"chat"}, DefaultHealthConfig())
	degraded.RecordFailure()
	degraded.RecordFailure()
	require.Equal(t, StateDegraded, degraded.State())

	rt := New([]*Endpoint{degraded, healthy}, nil)
	got, err := rt.Route(Request{RequiredCapabilities: []string{"chat"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"healthy", "degraded"}, ids(got))
}

func TestRouteOrdersByLatency(t *testing.T) {
	fast := testEndpoint("zeta-fast", []string{"chat"}, DefaultHealthConfig())
	slow := testEndpoint("alpha-slow", []string{"chat"}, DefaultHealthConfig())
	fast.RecordSuccess(10 * time.Millisecond)
	slow.RecordSuccess(500 * time.Millisecond)

	rt := New([]*Endpoint{slow, fast}, nil)
	got, err := rt.Route(Request{RequiredCapabilities: []string{"chat"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta-fast", "alpha-slow"}, ids(got))
}

func TestRouteSkipsOpenCircuit(t *testing.T) {
	cfg := HealthConfig{DegradeThreshold: 1, OpenThreshold: 2, SuccessThreshold: 1, Cooldown: time.Hour}
	open := testEndpoint("open", []string{"chat"}, cfg)
	open.RecordFailure()
	open.RecordFailure()
	require.Equal(t, StateOpen, open.State())

	healthy := testEndpoint("healthy", []string{"chat"}, DefaultHealthConfig())
	rt := New([]*Endpoint{open, healthy}, nil)

	got, err := rt.Route(Request{RequiredCapabilities: []string{"chat"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"healthy"}, ids(got))
}

func TestRouteOpenCircuitLastResort(t *testing.T) {
	cfg := HealthConfig{DegradeThreshold: 1, OpenThreshold: 1, SuccessThreshold: 1, Cooldown: time.Hour}
	open := testEndpoint("only", []string{"chat"}, cfg)
	open.RecordFailure()
	require.Equal(t, StateOpen, open.State())

	rt := New([]*Endpoint{open}, nil)
	got, err := rt.Route(Request{RequiredCapabilities: []string{"chat"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, ids(got))
}

func TestRoutePrefer(t *testing.T) {
	pool := []*Endpoint{
		testEndpoint("alpha", []string{"chat"}, DefaultHealthConfig()),
		testEndpoint("bravo", []string{"chat"}, DefaultHealthConfig()),
	}
	rt := New(pool, nil)

	got, err := rt.Route(Request{RequiredCapabilities: []string{"chat"}, Prefer: "bravo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bravo", "alpha"}, ids(got))
}

func TestEndpointHealthMachine(t *testing.T) {
	cfg := HealthConfig{DegradeThreshold: 2, OpenThreshold: 3, SuccessThreshold: 2, Cooldown: 20 * time.Millisecond}
	ep := testEndpoint("ep", []string{"chat"}, cfg)

	require.Equal(t, StateHealthy, ep.State())
	assert.True(t, ep.AllowRequest(time.Now()))

	ep.RecordFailure()
	assert.Equal(t, StateHealthy, ep.State())
	ep.RecordFailure()
	assert.Equal(t, StateDegraded, ep.State())
	ep.RecordFailure()
	assert.Equal(t, StateOpen, ep.State())

	// Within cooldown: rejected.
	assert.False(t, ep.AllowRequest(time.Now()))

	// After cooldown: exactly one probe slot.
	time.Sleep(25 * time.Millisecond)
	assert.True(t, ep.AllowRequest(time.Now()))
	assert.Equal(t, StateHalfOpen, ep.State())
	assert.False(t, ep.AllowRequest(time.Now()))

	// Successful probes close the circuit after SuccessThreshold.
	ep.RecordSuccess(5 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, ep.State())
	assert.True(t, ep.AllowRequest(time.Now()))
	ep.RecordSuccess(5 * time.Millisecond)
	assert.Equal(t, StateHealthy, ep.State())
}

func TestEndpointFailedProbeReopens(t *testing.T) {
	cfg := HealthConfig{DegradeThreshold: 1, OpenThreshold: 1, SuccessThreshold: 1, Cooldown: 10 * time.Millisecond}
	ep := testEndpoint("ep", []string{"chat"}, cfg)

	ep.RecordFailure()
	require.Equal(t, StateOpen, ep.State())

	time.Sleep(15 * time.Millisecond)
	require.True(t, ep.AllowRequest(time.Now()))
	require.Equal(t, StateHalfOpen, ep.State())

	ep.RecordFailure()
	assert.Equal(t, StateOpen, ep.State())
	assert.False(t, ep.AllowRequest(time.Now()))
}

func TestEndpointReleaseProbe(t *testing.T) {
	cfg := HealthConfig{DegradeThreshold: 1, OpenThreshold: 1, SuccessThreshold: 1, Cooldown: 10 * time.Millisecond}
	ep := testEndpoint("ep", []string{"chat"}, cfg)

	ep.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	require.True(t, ep.AllowRequest(time.Now()))
	require.Equal(t, StateHalfOpen, ep.State())

	// A cancelled probe gives the slot back without moving the machine.
	ep.ReleaseProbe()
	assert.Equal(t, StateHalfOpen, ep.State())
	assert.Equal(t, int64(1), ep.Snapshot().Failures)
	assert.True(t, ep.AllowRequest(time.Now()))
}

func TestEndpointSingleProbeUnderContention(t *testing.T) {
	cfg := HealthConfig{DegradeThreshold: 1, OpenThreshold: 1, SuccessThreshold: 1, Cooldown: time.Millisecond}
	ep := testEndpoint("ep", []string{"chat"}, cfg)

	ep.RecordFailure()
	require.Equal(t, StateOpen, ep.State())
	time.Sleep(5 * time.Millisecond)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ep.AllowRequest(time.Now()) {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), granted.Load())

	// A failed probe reopens before the slot is released, so nothing can
	// sneak in a second probe against a stale half-open state.
	ep.RecordFailure()
	require.Equal(t, StateOpen, ep.State())
	for i := 0; i < 50; i++ {
		assert.False(t, ep.AllowRequest(time.Now()))
	}
}

func TestEndpointRecoveryFromDegraded(t *testing.T) {
	ep := testEndpoint("ep", []string{"chat"}, DefaultHealthConfig())
	ep.RecordFailure()
	ep.RecordFailure()
	require.Equal(t, StateDegraded, ep.State())

	ep.RecordSuccess(time.Millisecond)
	assert.Equal(t, StateHealthy, ep.State())

	snap := ep.Snapshot()
	assert.Equal(t, int64(1), snap.Successes)
	assert.Equal(t, int64(2), snap.Failures)
}

func TestHasCapabilities(t *testing.T) {
	ep := testEndpoint("ep", []string{"chat", "tools", "long-context"}, DefaultHealthConfig())
	assert.True(t, ep.HasCapabilities(nil))
	assert.True(t, ep.HasCapabilities([]string{"tools", "chat"}))
	assert.False(t, ep.HasCapabilities([]string{"vision"}))
}
