// Package resilience executes completion requests against routed endpoints
// with timeouts, retries, failover, and optional hedging.
package resilience

import (
	"fmt"
	"strings"
)

// FatalError marks a request-level failure (bad prompt, auth) where trying
// further endpoints cannot help. The run should surface it immediately.
type FatalError struct {
	Err        error
	EndpointID string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error from endpoint %s: %v", e.EndpointID, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// CandidateFailure records the outcome of all attempts against one endpoint.
type CandidateFailure struct {
	Err        error
	EndpointID string
	Attempts   int
}

func (f CandidateFailure) String() string {
	return fmt.Sprintf("%s (%d attempts): %v", f.EndpointID, f.Attempts, f.Err)
}

// ExhaustedError is returned when every routed candidate failed. The failure
// trail preserves per-endpoint attempt counts and last errors for diagnosis.
type ExhaustedError struct {
	Failures []CandidateFailure
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.String()
	}
	return fmt.Sprintf("all providers exhausted: [%s]", strings.Join(parts, "; "))
}

// Unwrap returns the last candidate's error.
func (e *ExhaustedError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[len(e.Failures)-1].Err
}
