package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conductor/pkg/agent"
	"conductor/pkg/logx"
	"conductor/pkg/proto"
	"conductor/pkg/resilience"
	"conductor/pkg/router"
	"conductor/pkg/tools"
)

// RunState is the lifecycle state of a scheduled run.
type RunState string

const (
	// StateIdle means the run has not started.
	StateIdle RunState = "idle"
	// StateRunning means the turn loop is active.
	StateRunning RunState = "running"
	// StateCompleted means termination voting ended the run normally.
	StateCompleted RunState = "completed"
	// StateAborted means the run ended early (budget, fatal error, cancel).
	StateAborted RunState = "aborted"
)

// BudgetExceededError reports which budget ended the run.
type BudgetExceededError struct {
	Budget string
	Limit  string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded (limit %s)", e.Budget, e.Limit)
}

// Config tunes a run.
type Config struct {
	// Speaker selects the next agent; nil means round robin.
	Speaker SpeakerPolicy
	// Termination is the voting mode; empty means unanimous.
	Termination TerminationMode
	// Terminator names the designated agent for TerminateDesignated.
	Terminator proto.AgentID
	// MaxTurns caps agent turns; zero means 20.
	MaxTurns int
	// MaxWallClock caps total run duration; zero means 10 minutes.
	MaxWallClock time.Duration
}

func (c *Config) normalize() {
	if c.Speaker == nil {
		c.Speaker = RoundRobin{}
	}
	if c.Termination == "" {
		c.Termination = TerminateUnanimous
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = 20
	}
	if c.MaxWallClock <= 0 {
		c.MaxWallClock = 10 * time.Minute
	}
}

// Result is the outcome of a run, always carrying the conversation produced
// so far, even on abort.
type Result struct {
	StartedAt time.Time
	EndedAt   time.Time
	Messages  []proto.Message
	RunID     string
	State     RunState
	Reason    string
	Turns     int
}

// Observer receives run lifecycle events. Implementations must be fast or
// buffer internally; the turn loop calls them synchronously.
type Observer interface {
	OnMessage(runID string, msg proto.Message)
	OnStateChange(runID string, state RunState, reason string)
}

// NopObserver discards all events.
type NopObserver struct{}

// OnMessage implements Observer.
func (NopObserver) OnMessage(string, proto.Message) {}

// OnStateChange implements Observer.
func (NopObserver) OnStateChange(string, RunState, string) {}

// Scheduler owns the turn loop for one conversation run.
type Scheduler struct {
	agents   []*agent.Agent
	executor *tools.Executor
	observer Observer
	logger   *logx.Logger
	cfg      Config
	state    RunState
}

// New creates a scheduler over the given agents. The tool executor may be nil
// when no agent has tools.
func New(agents []*agent.Agent, toolExec *tools.Executor, observer Observer, cfg Config) (*Scheduler, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("at least one agent is required")
	}
	cfg.normalize()
	if cfg.Termination == TerminateDesignated && cfg.Terminator == "" {
		return nil, fmt.Errorf("terminator mode requires a designated agent")
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Scheduler{
		agents:   agents,
		executor: toolExec,
		observer: observer,
		logger:   logx.NewLogger("scheduler"),
		cfg:      cfg,
		state:    StateIdle,
	}, nil
}

// State returns the current run state.
func (s *Scheduler) State() RunState {
	return s.state
}

// Run executes the conversation for the given task prompt until termination
// voting succeeds, a budget is exceeded, or an unrecoverable error occurs.
// The returned Result always contains the partial conversation.
func (s *Scheduler) Run(ctx context.Context, task string) (Result, error) {
	runID := proto.NewRunID()
	conv := proto.NewConversation()
	votes := newVoteTracker(s.cfg.Termination, s.cfg.Terminator, s.agents)

	s.setState(runID, StateRunning, "")
	started := time.Now()
	deadline := started.Add(s.cfg.MaxWallClock)

	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	seed := conv.Append(proto.Message{
		Sender:  "user",
		Role:    proto.RoleUser,
		Content: task,
	})
	s.observer.OnMessage(runID, seed)

	turns := 0
	var runErr error
	reason := ""

	for {
		if votes.shouldTerminate() {
			s.setState(runID, StateCompleted, "terminated by vote")
			reason = "terminated by vote"
			break
		}
		if turns >= s.cfg.MaxTurns {
			runErr = &BudgetExceededError{Budget: "turn", Limit: fmt.Sprintf("%d", s.cfg.MaxTurns)}
			reason = runErr.Error()
			s.setState(runID, StateAborted, reason)
			break
		}
		if time.Now().After(deadline) || runCtx.Err() != nil {
			if ctx.Err() != nil {
				runErr = ctx.Err()
				reason = "canceled"
			} else {
				runErr = &BudgetExceededError{Budget: "wall-clock", Limit: s.cfg.MaxWallClock.String()}
				reason = runErr.Error()
			}
			s.setState(runID, StateAborted, reason)
			break
		}

		speaker := s.cfg.Speaker.Next(turns, s.agents, conv.Messages())
		turn, err := speaker.ProposeTurn(runCtx, conv.Messages())
		if err != nil {
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				// The wall-clock budget expired mid-turn.
				err = &BudgetExceededError{Budget: "wall-clock", Limit: s.cfg.MaxWallClock.String()}
			}
			runErr = err
			reason = abortReason(err, runCtx, ctx)
			s.setState(runID, StateAborted, reason)
			break
		}
		turns++

		msg := conv.Append(turn.Message)
		s.observer.OnMessage(runID, msg)

		if turn.ToolCall != nil {
			toolMsg, terr := s.runTool(runCtx, speaker, turn.ToolCall)
			if terr != nil {
				runErr = terr
				reason = "canceled during tool execution"
				s.setState(runID, StateAborted, reason)
				break
			}
			appended := conv.Append(toolMsg)
			s.observer.OnMessage(runID, appended)
		}

		if speaker.CanVote() {
			votes.record(speaker.ID(), turn.VotedTerminate)
		}
	}

	result := Result{
		RunID:     runID,
		State:     s.state,
		Reason:    reason,
		Messages:  conv.Messages(),
		Turns:     turns,
		StartedAt: started,
		EndedAt:   time.Now(),
	}
	return result, runErr
}

// runTool executes a tool call and folds any failure into a tool-role
// message so the model can react. Only context cancellation aborts the run.
func (s *Scheduler) runTool(ctx context.Context, speaker *agent.Agent, call *proto.ToolInvocation) (proto.Message, error) {
	if s.executor == nil {
		return proto.Message{
			Sender: speaker.ID(),
			Role:   proto.RoleTool,
			ToolResult: &proto.ToolResult{
				CorrelationID: call.CorrelationID,
				Error:         "no tool executor configured",
			},
		}, nil
	}

	result, err := s.executor.Invoke(ctx, speaker.ID(), speaker.AllowedTools(), call)
	if err != nil {
		return proto.Message{}, err
	}
	return proto.Message{
		Sender:     speaker.ID(),
		Role:       proto.RoleTool,
		ToolResult: result,
	}, nil
}

func (s *Scheduler) setState(runID string, state RunState, reason string) {
	s.state = state
	s.logger.Info("run %s -> %s %s", runID, state, reason)
	s.observer.OnStateChange(runID, state, reason)
}

func abortReason(err error, runCtx, ctx context.Context) string {
	var fatal *resilience.FatalError
	var exhausted *resilience.ExhaustedError
	var noProvider *router.ErrNoCapableProvider
	var budget *BudgetExceededError
	switch {
	case errors.As(err, &budget):
		return budget.Error()
	case errors.As(err, &fatal):
		return "fatal provider error: " + fatal.Error()
	case errors.As(err, &exhausted):
		return "all providers exhausted"
	case errors.As(err, &noProvider):
		return noProvider.Error()
	case ctx.Err() != nil:
		return "canceled"
	case runCtx.Err() != nil:
		return "wall-clock budget exceeded"
	default:
		return err.Error()
	}
}
