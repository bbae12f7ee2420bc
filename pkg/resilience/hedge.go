package resilience

import (
	"context"
	"errors"
	"time"

	"conductor/pkg/llm"
	"conductor/pkg/llm/llmerrors"
	"conductor/pkg/router"
)

type hedgeOutcome struct {
	err      error
	resp     llm.CompletionResponse
	endpoint string
	attempts int
}

// executeHedged races the top two candidates. The primary runs alone for
// HedgeDelay; if it has not finished by then, the secondary launches and the
// first successful response wins. The loser's context is canceled, so at most
// one response is ever returned to the caller. Remaining candidates are tried
// sequentially if both hedged calls fail.
func (e *Executor) executeHedged(ctx context.Context, agentID string, req llm.CompletionRequest, candidates []*router.Endpoint) (Result, error) {
	primary, secondary := candidates[0], candidates[1]

	hedgeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan hedgeOutcome, 2)
	launch := func(ep *router.Endpoint) {
		resp, attempts, err := e.tryEndpoint(hedgeCtx, agentID, ep, req)
		results <- hedgeOutcome{
			resp:     resp,
			err:      err,
			endpoint: ep.ID,
			attempts: attempts,
		}
	}

	go launch(primary)
	e.recorder.IncHedge(primary.ID, "launched")

	hedgeLaunched := false
	hedgeTimer := time.NewTimer(e.cfg.HedgeDelay)
	defer hedgeTimer.Stop()

	var failures []CandidateFailure
	pending := 1
	for pending > 0 {
		select {
		case <-hedgeTimer.C:
			if !hedgeLaunched {
				hedgeLaunched = true
				pending++
				e.recorder.IncHedge(secondary.ID, "launched")
				go launch(secondary)
			}
		case out := <-results:
			pending--
			if out.err == nil {
				// Winner takes all; cancel the in-flight sibling.
				cancel()
				e.recorder.IncHedge(out.endpoint, "won")
				e.drain(results, pending)
				return Result{Response: out.resp, EndpointID: out.endpoint}, nil
			}
			if llmerrors.IsFatal(out.err) {
				cancel()
				e.drain(results, pending)
				return Result{}, &FatalError{Err: out.err, EndpointID: out.endpoint}
			}
			failures = append(failures, CandidateFailure{
				EndpointID: out.endpoint,
				Attempts:   out.attempts,
				Err:        out.err,
			})
			// Primary failed before the hedge delay elapsed: launch the
			// secondary immediately rather than waiting out the timer.
			if !hedgeLaunched {
				hedgeLaunched = true
				pending++
				e.recorder.IncHedge(secondary.ID, "launched")
				go launch(secondary)
			}
		case <-ctx.Done():
			cancel()
			e.drain(results, pending)
			return Result{}, ctx.Err()
		}
	}

	// Both hedged candidates failed; fall through to the rest of the pool.
	if len(candidates) > 2 {
		result, err := e.executeSequential(ctx, agentID, req, candidates[2:])
		if err == nil {
			return result, nil
		}
		var exhausted *ExhaustedError
		if errors.As(err, &exhausted) {
			exhausted.Failures = append(failures, exhausted.Failures...)
			return Result{}, exhausted
		}
		return Result{}, err
	}
	return Result{}, &ExhaustedError{Failures: failures}
}

// drain collects outstanding hedge outcomes so the goroutines can exit.
func (e *Executor) drain(results chan hedgeOutcome, pending int) {
	for i := 0; i < pending; i++ {
		<-results
	}
}
