package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrAgentUnavailable means the agent went away between routing and invocation.
	ErrAgentUnavailable = errors.New("agent unavailable")
	// ErrMalformedInput means the agent rejected the instruction itself.
	ErrMalformedInput = errors.New("malformed input")
	// ErrCannotPerform means the agent explicitly declined the task.
	ErrCannotPerform = errors.New("cannot perform")
	// ErrUnknownAgent means the ID is not in the directory.
	ErrUnknownAgent = errors.New("unknown agent")
)

// AgentError is a failure reported by an agent invocation.
type AgentError struct {
	AgentID   string
	Message   string
	Retryable bool
	Err       error // Underlying error (optional)
}

// NewAgentError creates an AgentError.
func NewAgentError(agentID, msg string, retryable bool, err error) *AgentError {
	return &AgentError{AgentID: agentID, Message: msg, Retryable: retryable, Err: err}
}

func (e *AgentError) Error() string {
	msg := fmt.Sprintf("agent %s: %s", e.AgentID, e.Message)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *AgentError) Unwrap() error {
	return e.Err
}
