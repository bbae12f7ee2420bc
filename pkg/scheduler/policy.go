// Package scheduler drives multi-agent conversations to completion under
// turn and wall-clock budgets.
package scheduler

import (
	"fmt"

	"conductor/pkg/agent"
	"conductor/pkg/proto"
)

// SpeakerPolicy picks which agent speaks next.
type SpeakerPolicy interface {
	// Next returns the next speaker given the turn index and history.
	Next(turn int, agents []*agent.Agent, history []proto.Message) *agent.Agent
}

// RoundRobin cycles through agents in registration order.
type RoundRobin struct{}

// Next implements SpeakerPolicy.
func (RoundRobin) Next(turn int, agents []*agent.Agent, _ []proto.Message) *agent.Agent {
	return agents[turn%len(agents)]
}

// SelectorFunc adapts a function into a SpeakerPolicy for custom selection
// logic (moderator-driven, content-based, etc).
type SelectorFunc func(turn int, agents []*agent.Agent, history []proto.Message) *agent.Agent

// Next implements SpeakerPolicy.
func (f SelectorFunc) Next(turn int, agents []*agent.Agent, history []proto.Message) *agent.Agent {
	return f(turn, agents, history)
}

// TerminationMode controls how termination votes end a run.
type TerminationMode string

const (
	// TerminateUnanimous ends the run when every voting agent's latest turn
	// voted to terminate.
	TerminateUnanimous TerminationMode = "unanimous"
	// TerminateAny ends the run on the first termination vote.
	TerminateAny TerminationMode = "any"
	// TerminateDesignated ends the run when the named agent votes.
	TerminateDesignated TerminationMode = "terminator"
)

// ParseTerminationMode validates a configured mode string.
func ParseTerminationMode(s string) (TerminationMode, error) {
	switch TerminationMode(s) {
	case TerminateUnanimous, TerminateAny, TerminateDesignated:
		return TerminationMode(s), nil
	case "":
		return TerminateUnanimous, nil
	default:
		return "", fmt.Errorf("unknown termination mode %q", s)
	}
}

// voteTracker records each voting agent's most recent vote. A later
// non-voting turn by the same agent withdraws its earlier vote.
type voteTracker struct {
	votes      map[proto.AgentID]bool
	mode       TerminationMode
	terminator proto.AgentID
	voterCount int
}

func newVoteTracker(mode TerminationMode, terminator proto.AgentID, agents []*agent.Agent) *voteTracker {
	count := 0
	for _, a := range agents {
		if a.CanVote() {
			count++
		}
	}
	return &voteTracker{
		votes:      make(map[proto.AgentID]bool),
		mode:       mode,
		terminator: terminator,
		voterCount: count,
	}
}

func (v *voteTracker) record(id proto.AgentID, voted bool) {
	v.votes[id] = voted
}

// shouldTerminate evaluates the active mode against recorded votes.
func (v *voteTracker) shouldTerminate() bool {
	switch v.mode {
	case TerminateAny:
		for _, voted := range v.votes {
			if voted {
				return true
			}
		}
		return false
	case TerminateDesignated:
		return v.votes[v.terminator]
	default: // unanimous
		if v.voterCount == 0 {
			return false
		}
		agreed := 0
		for _, voted := range v.votes {
			if voted {
				agreed++
			}
		}
		return agreed == v.voterCount
	}
}
