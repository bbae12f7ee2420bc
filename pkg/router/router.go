package router

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNoCapableProvider is returned when no endpoint in the pool advertises
// all capabilities a request needs.
type ErrNoCapableProvider struct {
	Required []string
}

func (e *ErrNoCapableProvider) Error() string {
	return fmt.Sprintf("no provider satisfies required capabilities [%s]", strings.Join(e.Required, ", "))
}

// Request carries the routing-relevant facts of a completion request.
type Request struct {
	// RequiredCapabilities must all be advertised by a candidate endpoint.
	RequiredCapabilities []string
	// Prefer names an endpoint to order first while it is healthy.
	Prefer string
}

// SelectionPolicy orders capable endpoints. Implementations must not mutate
// the endpoints; the same inputs must produce the same order.
type SelectionPolicy interface {
	Order(candidates []*Endpoint, now time.Time) []*Endpoint
}

// Router selects and orders endpoints for requests. Routing is a pure
// function of the request and the pool's observable state; it performs no
// I/O and mutates nothing.
type Router struct {
	policy SelectionPolicy
	pool   []*Endpoint
}

// New creates a router over the given endpoint pool. A nil policy uses
// health-then-latency ordering.
func New(pool []*Endpoint, policy SelectionPolicy) *Router {
	if policy == nil {
		policy = HealthLatencyPolicy{}
	}
	return &Router{pool: pool, policy: policy}
}

// Pool returns the full endpoint pool.
func (r *Router) Pool() []*Endpoint {
	return r.pool
}

// Route returns capable endpoints in preference order. Endpoints with an open
// circuit still in cooldown are excluded, unless every capable endpoint is
// open, in which case all capable endpoints are returned as a last resort.
func (r *Router) Route(req Request) ([]*Endpoint, error) {
	now := time.Now()

	var capable []*Endpoint
	for _, ep := range r.pool {
		if ep.HasCapabilities(req.RequiredCapabilities) {
			capable = append(capable, ep)
		}
	}
	if len(capable) == 0 {
		return nil, &ErrNoCapableProvider{Required: req.RequiredCapabilities}
	}

	var available []*Endpoint
	for _, ep := range capable {
		if ep.State() != StateOpen || cooldownElapsed(ep, now) {
			available = append(available, ep)
		}
	}
	if len(available) == 0 {
		available = capable
	}

	policy := r.policy
	if req.Prefer != "" {
		policy = PreferredPolicy{Prefer: req.Prefer, Fallback: r.policy}
	}
	return policy.Order(available, now), nil
}

func cooldownElapsed(ep *Endpoint, now time.Time) bool {
	openedAt := time.Unix(0, ep.openedAtNanos.Load())
	return now.Sub(openedAt) >= ep.cfg.Cooldown
}

// HealthLatencyPolicy orders endpoints by health severity, then smoothed
// latency, then endpoint ID. The ID tie-break keeps ordering stable so
// repeated calls with identical state return identical orders.
type HealthLatencyPolicy struct{}

// Order implements SelectionPolicy.
func (HealthLatencyPolicy) Order(candidates []*Endpoint, _ time.Time) []*Endpoint {
	out := make([]*Endpoint, len(candidates))
	copy(out, candidates)

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := severity(out[i].State()), severity(out[j].State())
		if si != sj {
			return si < sj
		}
		li, lj := out[i].Latency(), out[j].Latency()
		if li != lj {
			// Unsampled endpoints (zero latency) rank after sampled ones so a
			// brand-new endpoint does not jump ahead of a proven fast one.
			if li == 0 {
				return false
			}
			if lj == 0 {
				return true
			}
			return li < lj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func severity(s State) int {
	switch s {
	case StateHealthy:
		return 0
	case StateDegraded:
		return 1
	case StateHalfOpen:
		return 2
	case StateOpen:
		return 3
	default:
		return 4
	}
}

// PreferredPolicy orders a named endpoint first, delegating the remainder to
// the fallback policy. Used when an agent pins a primary model.
type PreferredPolicy struct {
	Fallback SelectionPolicy
	Prefer   string
}

// Order implements SelectionPolicy.
func (p PreferredPolicy) Order(candidates []*Endpoint, now time.Time) []*Endpoint {
	fallback := p.Fallback
	if fallback == nil {
		fallback = HealthLatencyPolicy{}
	}
	ordered := fallback.Order(candidates, now)
	for i, ep := range ordered {
		if ep.ID == p.Prefer && ep.State() == StateHealthy {
			out := make([]*Endpoint, 0, len(ordered))
			out = append(out, ep)
			out = append(out, ordered[:i]...)
			out = append(out, ordered[i+1:]...)
			return out
		}
	}
	return ordered
}
