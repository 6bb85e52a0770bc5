package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"
)

// CannotPerformPrefix marks a model reply that declines the task.
const CannotPerformPrefix = "CANNOT_PERFORM:"

const defaultSystemPrompt = `You are a specialised agent executing one step of a larger plan.
Complete only the task you are given. Use the context from previous steps when relevant.
Reply with the result of the task and nothing else.
If the task is outside your abilities, reply with a single line starting with "CANNOT_PERFORM:" followed by the reason.`

// LLMInvoker runs agents without a command through a chat model.
// The agent's markdown body (or its description) becomes the system prompt.
type LLMInvoker struct {
	Model    llms.Model
	Registry *Registry
	// Limiter throttles requests shared across all agents (optional).
	Limiter *rate.Limiter
	// Options are passed to every GenerateContent call.
	Options []llms.CallOption
}

// NewLLMInvoker creates an LLMInvoker.
func NewLLMInvoker(model llms.Model, registry *Registry, limiter *rate.Limiter) *LLMInvoker {
	return &LLMInvoker{Model: model, Registry: registry, Limiter: limiter}
}

// InvokeAgent sends the instruction to the model on behalf of agentID.
func (inv *LLMInvoker) InvokeAgent(ctx context.Context, agentID, instruction, history string) (string, error) {
	if inv.Model == nil {
		return "", NewAgentError(agentID, "no model configured", false, ErrCannotPerform)
	}
	def, err := lookupAvailable(inv.Registry, agentID)
	if err != nil {
		return "", err
	}

	if inv.Limiter != nil {
		if err := inv.Limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", NewAgentError(agentID, "rate limit", true, err)
		}
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt(def)),
		llms.TextParts(llms.ChatMessageTypeHuman, BuildUserPrompt(instruction, history)),
	}

	opts := inv.Options
	if def.Model != "" {
		opts = append(append([]llms.CallOption{}, opts...), llms.WithModel(def.Model))
	}

	resp, err := inv.Model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", NewAgentError(agentID, "model request failed", isTransient(err), err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", NewAgentError(agentID, "model returned no choices", true, nil)
	}

	reply := strings.TrimSpace(resp.Choices[0].Content)
	if reason, ok := strings.CutPrefix(reply, CannotPerformPrefix); ok {
		return "", NewAgentError(agentID, strings.TrimSpace(reason), false, ErrCannotPerform)
	}
	if reply == "" {
		return "", NewAgentError(agentID, "model returned an empty reply", true, nil)
	}
	return reply, nil
}

// BuildUserPrompt lays out the step instruction and the prior results.
func BuildUserPrompt(instruction, history string) string {
	var sb strings.Builder
	sb.WriteString("TASK:\n")
	sb.WriteString(strings.TrimSpace(instruction))
	if h := strings.TrimSpace(history); h != "" {
		sb.WriteString("\n\nCONTEXT FROM PREVIOUS STEPS:\n")
		sb.WriteString(h)
	}
	return sb.String()
}

func systemPrompt(def *Definition) string {
	switch {
	case def.Prompt != "":
		return def.Prompt
	case def.Description != "":
		return fmt.Sprintf("You are %s. %s\n\n%s", def.Name, def.Description, defaultSystemPrompt)
	default:
		return defaultSystemPrompt
	}
}

// isTransient reports whether a provider error is worth retrying.
// Network errors always are; other errors are retried unless they look like
// a request the provider will never accept.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, permanent := range []string{"401", "403", "invalid api key", "unauthorized", "model not found", "context length"} {
		if strings.Contains(msg, permanent) {
			return false
		}
	}
	return true
}
