// Package executor runs a single plan step on an assigned agent under a deadline.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/ergon/internal/agent"
	"github.com/harrison/ergon/internal/models"
)

// OutcomeKind is the result class of one step attempt.
type OutcomeKind int

const (
	// OutcomeSuccess means the agent returned a result.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeFailure means the agent returned an error.
	OutcomeFailure
	// OutcomeTimedOut means the per-step deadline expired first.
	OutcomeTimedOut
	// OutcomeAborted means the flow context ended first (flow timeout or cancellation).
	OutcomeAborted
)

// String returns the string representation of OutcomeKind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Outcome is what one attempt produced.
type Outcome struct {
	Kind      OutcomeKind
	Result    string        // Agent output, set on success
	Err       error         // Failure cause, nil on success
	Retryable bool          // Whether another attempt could succeed
	Duration  time.Duration // Wall time of the attempt
}

// StepExecutor hands step instructions to agents.
type StepExecutor struct {
	Invoker agent.Invoker
}

// New creates a StepExecutor.
func New(invoker agent.Invoker) *StepExecutor {
	return &StepExecutor{Invoker: invoker}
}

type invokeResult struct {
	output string
	err    error
}

// Execute runs one attempt of step on agentID.
//
// The deadline is enforced here rather than trusted to the agent: the call
// runs in its own goroutine and, when timeout elapses, the attempt is reported
// as timed out immediately and any late result is discarded. The context
// passed to the agent is cancelled as a best-effort stop signal. A timeout
// of zero or less disables the per-step deadline.
func (e *StepExecutor) Execute(ctx context.Context, step models.Step, agentID, history string, timeout time.Duration) Outcome {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return Outcome{Kind: OutcomeAborted, Err: err}
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	done := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invokeResult{err: agent.NewAgentError(agentID, fmt.Sprintf("panic: %v", r), false, nil)}
			}
		}()
		out, err := e.Invoker.InvokeAgent(callCtx, agentID, step.Description, history)
		done <- invokeResult{output: out, err: err}
	}()

	select {
	case res := <-done:
		elapsed := time.Since(start)
		if res.err == nil {
			return Outcome{Kind: OutcomeSuccess, Result: res.output, Duration: elapsed}
		}
		if ctx.Err() != nil {
			return Outcome{Kind: OutcomeAborted, Err: ctx.Err(), Duration: elapsed}
		}
		return Outcome{Kind: OutcomeFailure, Err: res.err, Retryable: IsRetryable(res.err), Duration: elapsed}

	case <-deadline:
		return Outcome{
			Kind:      OutcomeTimedOut,
			Err:       NewTimeoutError(step.DisplayName(), timeout),
			Retryable: true,
			Duration:  time.Since(start),
		}

	case <-ctx.Done():
		return Outcome{Kind: OutcomeAborted, Err: ctx.Err(), Duration: time.Since(start)}
	}
}

// IsRetryable classifies an agent error.
//
// Explicit declines (malformed input, cannot perform) are permanent and agent
// unavailability or timeouts are transient. An AgentError carries its own
// verdict. Anything else, network errors included, is treated as transient
// and bounded by the retry budget.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, agent.ErrMalformedInput) || errors.Is(err, agent.ErrCannotPerform) {
		return false
	}
	if errors.Is(err, agent.ErrAgentUnavailable) || IsTimeoutError(err) {
		return true
	}
	var agentErr *agent.AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Retryable
	}
	return true
}

// BuildHistory renders the results of completed steps that precede index.
//
// Format, one block per completed step separated by a blank line:
//
//	Step 1 (mail): Send the weekly report
//	Result: sent to 12 recipients
func BuildHistory(steps []models.Step, index int) string {
	var blocks []string
	for i := range steps {
		s := &steps[i]
		if s.Index >= index || s.Status != models.StepCompleted {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("%s: %s\nResult: %s", s.DisplayName(), s.Description, strings.TrimSpace(s.Result)))
	}
	return strings.Join(blocks, "\n\n")
}
