package models

import (
	"errors"
	"fmt"
	"time"
)

// StepStatus is the execution state of a single step.
type StepStatus string

// Step status constants
const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
	StepTimedOut  StepStatus = "TIMED_OUT"
	StepSkipped   StepStatus = "SKIPPED"
)

// StandardCapability is the generic capability tag used as a routing fallback.
const StandardCapability = "standard"

// ErrorKind classifies why a step attempt did not succeed.
type ErrorKind string

const (
	ErrorKindRouting     ErrorKind = "routing"      // no capable agent was available
	ErrorKindAgent       ErrorKind = "agent"        // the agent reported a failure
	ErrorKindTimeout     ErrorKind = "timeout"      // the per-step deadline expired
	ErrorKindFlowTimeout ErrorKind = "flow_timeout" // the flow deadline expired or the run was cancelled
)

// StepError is the structured failure description recorded on a step.
type StepError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Step is one unit of work within a plan.
type Step struct {
	Index              int        // Position in the plan (0-based)
	Description        string     // Natural-language instruction
	RequiredCapability string     // Capability tag required for routing; empty means any agent
	Status             StepStatus // Current status
	AssignedAgentID    string     // Directory key of the agent running/that ran the step
	Result             string     // Agent output on success
	Error              *StepError // Failure description; nil unless the last attempt failed
	Attempt            int        // Retry counter, starts at 0
	Executions         int        // Attempts actually handed to an agent
	StartedAt          time.Time  // Start of the first attempt
	EndedAt            time.Time  // When the step reached a terminal status
}

// Validate checks the immutable fields of the step.
func (s *Step) Validate() error {
	if s.Description == "" {
		return errors.New("step description is required")
	}
	if s.Index < 0 {
		return fmt.Errorf("step index must be >= 0, got %d", s.Index)
	}
	return nil
}

// IsTerminal returns true when the step will not run again in this flow.
func (s *Step) IsTerminal() bool {
	switch s.Status {
	case StepCompleted, StepFailed, StepSkipped, StepTimedOut:
		return true
	default:
		return false
	}
}

// Duration returns how long the step ran. Running steps report time so far.
func (s *Step) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.EndedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// DisplayName returns a human-readable label such as "Step 2 (browser)".
func (s *Step) DisplayName() string {
	if s.RequiredCapability == "" {
		return fmt.Sprintf("Step %d", s.Index+1)
	}
	return fmt.Sprintf("Step %d (%s)", s.Index+1, s.RequiredCapability)
}
