package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"

	"github.com/harrison/ergon/internal/models"
)

// ProposePlanTool is the function the model must call with the plan.
const ProposePlanTool = "propose_plan"

// ErrNoPlan means the model answered without proposing a plan.
var ErrNoPlan = errors.New("model did not propose a plan")

const plannerPrompt = `You are the planner of a multi-agent system.
Break the user's task into an ordered list of small, concrete steps.
Each step is executed by exactly one agent, in order, and sees the results of the previous steps.
Tag every step with the capability of the agent that should run it.
Available capabilities: %s.
Use "standard" for steps any general-purpose agent can do.
Use at most %d steps.
Call the propose_plan function with the steps. Do not answer in prose.`

// LLMGenerator asks a chat model for a plan through a tool call.
type LLMGenerator struct {
	Model    llms.Model
	Limiter  *rate.Limiter // optional
	MaxSteps int           // upper bound stated to the model; 0 means 10
}

// NewLLMGenerator creates an LLMGenerator.
func NewLLMGenerator(model llms.Model, limiter *rate.Limiter, maxSteps int) *LLMGenerator {
	return &LLMGenerator{Model: model, Limiter: limiter, MaxSteps: maxSteps}
}

type proposedPlan struct {
	Steps []models.StepSpec `json:"steps"`
}

// GeneratePlan makes a single model call and converts the proposed steps into a plan.
func (g *LLMGenerator) GeneratePlan(ctx context.Context, goal string, capabilities []string) (*models.Plan, error) {
	if g.Model == nil {
		return nil, errors.New("no model configured")
	}
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, errors.New("goal is empty")
	}

	if g.Limiter != nil {
		if err := g.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	maxSteps := g.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 10
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, fmt.Sprintf(plannerPrompt, capabilityList(capabilities), maxSteps)),
		llms.TextParts(llms.ChatMessageTypeHuman, goal),
	}

	resp, err := g.Model.GenerateContent(ctx, messages, llms.WithTools([]llms.Tool{proposePlanTool(capabilities)}))
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrNoPlan
	}

	proposal, err := extractProposal(resp.Choices[0])
	if err != nil {
		return nil, err
	}

	specs := make([]models.StepSpec, 0, len(proposal.Steps))
	for _, s := range proposal.Steps {
		if strings.TrimSpace(s.Description) == "" {
			continue
		}
		s.RequiredCapability = strings.ToLower(strings.TrimSpace(s.RequiredCapability))
		specs = append(specs, s)
	}
	if len(specs) == 0 {
		return nil, ErrNoPlan
	}

	plan, err := buildPlan(goal, specs)
	if err != nil {
		return nil, err
	}
	plan.Source = "llm"
	return plan, nil
}

func extractProposal(choice *llms.ContentChoice) (*proposedPlan, error) {
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil || tc.FunctionCall.Name != ProposePlanTool {
			continue
		}
		var p proposedPlan
		if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s arguments: %w", ProposePlanTool, err)
		}
		return &p, nil
	}

	// Some providers answer with the JSON document as plain content.
	content := strings.TrimSpace(choice.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(content, "`\n ")
	if strings.HasPrefix(content, "{") {
		var p proposedPlan
		if err := json.Unmarshal([]byte(content), &p); err == nil && len(p.Steps) > 0 {
			return &p, nil
		}
	}
	return nil, ErrNoPlan
}

func proposePlanTool(capabilities []string) llms.Tool {
	capability := map[string]any{
		"type":        "string",
		"description": "Capability tag of the agent that should run the step",
	}
	if len(capabilities) > 0 {
		capability["enum"] = withStandard(capabilities)
	}

	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        ProposePlanTool,
			Description: "Submit the ordered steps of the plan.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"steps": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"description": map[string]any{
									"type":        "string",
									"description": "Instruction for the agent",
								},
								"capability": capability,
							},
							"required": []string{"description", "capability"},
						},
					},
				},
				"required": []string{"steps"},
			},
		},
	}
}

func withStandard(capabilities []string) []string {
	out := append([]string{}, capabilities...)
	for _, c := range out {
		if c == models.StandardCapability {
			return out
		}
	}
	return append(out, models.StandardCapability)
}

func capabilityList(capabilities []string) string {
	if len(capabilities) == 0 {
		return models.StandardCapability
	}
	return strings.Join(withStandard(capabilities), ", ")
}
