package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"
)

type fakeModel struct {
	resp     *llms.ContentResponse
	err      error
	calls    int
	messages []llms.MessageContent
	options  llms.CallOptions
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	m.messages = messages
	for _, opt := range options {
		opt(&m.options)
	}
	return m.resp, m.err
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func toolCallResponse(args string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:   "call-1",
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      ProposePlanTool,
				Arguments: args,
			},
		}},
	}}}
}

func TestLLMGeneratorToolCall(t *testing.T) {
	model := &fakeModel{resp: toolCallResponse(`{"steps":[
		{"description":"Find the contact","capability":"Browser"},
		{"description":"  ","capability":"mail"},
		{"description":"Send the email","capability":"mail"}
	]}`)}

	gen := NewLLMGenerator(model, nil, 5)
	plan, err := gen.GeneratePlan(context.Background(), "email alice", []string{"browser", "mail"})
	require.NoError(t, err)

	assert.Equal(t, "email alice", plan.Goal)
	assert.Equal(t, "llm", plan.Source)
	require.Len(t, plan.Steps, 2, "blank steps are dropped")
	assert.Equal(t, "browser", plan.Steps[0].RequiredCapability)
	assert.Equal(t, 1, plan.Steps[1].Index)

	require.Len(t, model.messages, 2)
	system := model.messages[0].Parts[0].(llms.TextContent).Text
	assert.Contains(t, system, "browser, mail, standard")
	assert.Contains(t, system, "at most 5 steps")

	require.Len(t, model.options.Tools, 1)
	assert.Equal(t, ProposePlanTool, model.options.Tools[0].Function.Name)
}

func TestLLMGeneratorContentFallback(t *testing.T) {
	model := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content: "```json\n{\"steps\":[{\"description\":\"do it\",\"capability\":\"standard\"}]}\n```",
	}}}}

	plan, err := NewLLMGenerator(model, nil, 0).GeneratePlan(context.Background(), "goal", nil)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "standard", plan.Steps[0].RequiredCapability)
}

func TestLLMGeneratorErrors(t *testing.T) {
	tests := []struct {
		name    string
		model   *fakeModel
		goal    string
		wantErr error
	}{
		{
			name:  "provider error",
			model: &fakeModel{err: errors.New("503")},
			goal:  "x",
		},
		{
			name:    "prose answer",
			model:   &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "Sure! Here is how..."}}}},
			goal:    "x",
			wantErr: ErrNoPlan,
		},
		{
			name:    "no choices",
			model:   &fakeModel{resp: &llms.ContentResponse{}},
			goal:    "x",
			wantErr: ErrNoPlan,
		},
		{
			name:    "empty steps",
			model:   &fakeModel{resp: toolCallResponse(`{"steps":[]}`)},
			goal:    "x",
			wantErr: ErrNoPlan,
		},
		{
			name:  "bad arguments",
			model: &fakeModel{resp: toolCallResponse(`{"steps":`)},
			goal:  "x",
		},
		{
			name:  "empty goal",
			model: &fakeModel{},
			goal:  "   ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLLMGenerator(tt.model, nil, 0).GeneratePlan(context.Background(), tt.goal, nil)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestLLMGeneratorRateLimit(t *testing.T) {
	model := &fakeModel{resp: toolCallResponse(`{"steps":[{"description":"a","capability":"standard"}]}`)}
	gen := NewLLMGenerator(model, rate.NewLimiter(rate.Limit(0), 1), 0)

	_, err := gen.GeneratePlan(context.Background(), "first", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = gen.GeneratePlan(ctx, "second", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, model.calls)
}

func TestLLMGeneratorNoModel(t *testing.T) {
	_, err := (&LLMGenerator{}).GeneratePlan(context.Background(), "x", nil)
	assert.Error(t, err)
}
