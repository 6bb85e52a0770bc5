package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// HistoryEnv is the environment variable carrying prior step results to command agents.
const HistoryEnv = "ERGON_HISTORY"

// killGrace bounds how long Run waits for pipes after the context kills the process.
const killGrace = time.Second

// Exit codes with a fixed meaning for command agents.
const (
	ExitMalformedInput = 2
	ExitCannotPerform  = 3
)

// CommandOutput is the optional JSON document a command agent prints on stdout.
// Anything that does not parse as this document is taken verbatim as the result.
type CommandOutput struct {
	Content   string `json:"content"`
	Error     string `json:"error"`
	Retryable *bool  `json:"retryable,omitempty"`
}

// ParseCommandOutput parses the stdout of a command agent.
// If the output is not valid JSON, it returns the raw output as content.
func ParseCommandOutput(output string) *CommandOutput {
	trimmed := strings.TrimSpace(output)
	var co CommandOutput
	if !strings.HasPrefix(trimmed, "{") || json.Unmarshal([]byte(trimmed), &co) != nil {
		return &CommandOutput{Content: trimmed}
	}
	return &co
}

// CommandInvoker runs agents that declare a command in their frontmatter.
// The instruction is written to stdin and the history is exported in HistoryEnv.
type CommandInvoker struct {
	Registry *Registry
	// Env is appended to the parent environment (optional).
	Env []string
}

// NewCommandInvoker creates a CommandInvoker over registry.
func NewCommandInvoker(registry *Registry) *CommandInvoker {
	return &CommandInvoker{Registry: registry}
}

// InvokeAgent runs the agent's command and returns its result.
func (inv *CommandInvoker) InvokeAgent(ctx context.Context, agentID, instruction, history string) (string, error) {
	def, err := lookupAvailable(inv.Registry, agentID)
	if err != nil {
		return "", err
	}
	if len(def.Command) == 0 {
		return "", NewAgentError(agentID, "no command configured", false, ErrMalformedInput)
	}

	cmd := exec.CommandContext(ctx, def.Command[0], def.Command[1:]...)
	cmd.Stdin = strings.NewReader(instruction)
	cmd.WaitDelay = killGrace
	cmd.Env = append(append(os.Environ(), inv.Env...), HistoryEnv+"="+history)
	if dir := commandDir(def); dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	out := ParseCommandOutput(stdout.String())

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// Could not start the process at all.
			return "", NewAgentError(agentID, "failed to start command", true, runErr)
		}
		msg := firstNonEmpty(out.Error, strings.TrimSpace(stderr.String()), fmt.Sprintf("exit code %d", exitErr.ExitCode()))
		switch exitErr.ExitCode() {
		case ExitMalformedInput:
			return "", NewAgentError(agentID, msg, false, ErrMalformedInput)
		case ExitCannotPerform:
			return "", NewAgentError(agentID, msg, false, ErrCannotPerform)
		}
		return "", NewAgentError(agentID, msg, retryableOr(out.Retryable, true), nil)
	}

	if out.Error != "" {
		return "", NewAgentError(agentID, out.Error, retryableOr(out.Retryable, true), nil)
	}
	return out.Content, nil
}

// Dispatcher routes each invocation to the command or LLM invoker
// depending on how the agent is defined.
type Dispatcher struct {
	Registry *Registry
	Command  Invoker
	LLM      Invoker // nil disables LLM-backed agents
}

// NewDispatcher creates a Dispatcher with a CommandInvoker and an optional LLM invoker.
func NewDispatcher(registry *Registry, llm Invoker) *Dispatcher {
	return &Dispatcher{
		Registry: registry,
		Command:  NewCommandInvoker(registry),
		LLM:      llm,
	}
}

// InvokeAgent dispatches to the invoker matching the agent definition.
func (d *Dispatcher) InvokeAgent(ctx context.Context, agentID, instruction, history string) (string, error) {
	def, err := lookupAvailable(d.Registry, agentID)
	if err != nil {
		return "", err
	}
	if len(def.Command) > 0 {
		return d.Command.InvokeAgent(ctx, agentID, instruction, history)
	}
	if d.LLM == nil {
		return "", NewAgentError(agentID, "agent has no command and no LLM provider is configured", false, ErrCannotPerform)
	}
	return d.LLM.InvokeAgent(ctx, agentID, instruction, history)
}

func lookupAvailable(registry *Registry, agentID string) (*Definition, error) {
	if registry == nil {
		return nil, NewAgentError(agentID, "no registry", true, ErrAgentUnavailable)
	}
	def, ok := registry.Get(agentID)
	if !ok {
		return nil, NewAgentError(agentID, "not found", true, ErrAgentUnavailable)
	}
	if !def.Descriptor().Available {
		return nil, NewAgentError(agentID, "marked unavailable", true, ErrAgentUnavailable)
	}
	return def, nil
}

// commandDir makes relative commands resolve next to the agent file.
func commandDir(def *Definition) string {
	if def.FilePath == "" {
		return ""
	}
	return filepath.Dir(def.FilePath)
}

func retryableOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
