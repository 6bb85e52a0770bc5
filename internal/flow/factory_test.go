package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ergon/internal/agent"
	"github.com/harrison/ergon/internal/executor"
	"github.com/harrison/ergon/internal/models"
	"github.com/harrison/ergon/internal/planner"
)

func twoStepGenerator(gotCaps *[]string) planner.Generator {
	return planner.GeneratorFunc(func(_ context.Context, goal string, caps []string) (*models.Plan, error) {
		if gotCaps != nil {
			*gotCaps = caps
		}
		return models.NewPlan(goal, []models.StepSpec{
			{Description: "look it up", RequiredCapability: "browser"},
			{Description: "send it", RequiredCapability: "mail"},
		}), nil
	})
}

func TestFactoryCreate(t *testing.T) {
	f := &Factory{Directory: standardAgents(), Invoker: okInvoker(), Generator: twoStepGenerator(nil), Config: testConfig()}

	planning, err := f.Create(models.FlowPlanning)
	require.NoError(t, err)
	assert.IsType(t, &PlanningFlow{}, planning)

	byDefault, err := f.Create("")
	require.NoError(t, err)
	assert.IsType(t, &PlanningFlow{}, byDefault)
	assert.NotEqual(t, planning.FlowID(), byDefault.FlowID())

	simple, err := f.Create(models.FlowSimple)
	require.NoError(t, err)
	assert.IsType(t, &SimpleFlow{}, simple)

	_, err = f.Create("parallel")
	assert.ErrorContains(t, err, "unknown flow type")
}

func TestFactoryCreateRequirements(t *testing.T) {
	_, err := (&Factory{Invoker: okInvoker()}).Create(models.FlowSimple)
	assert.Error(t, err)

	_, err = (&Factory{Directory: standardAgents(), Invoker: okInvoker()}).Create(models.FlowPlanning)
	assert.ErrorContains(t, err, "plan generator")

	_, err = (&Factory{Directory: standardAgents(), Invoker: okInvoker()}).Create(models.FlowSimple)
	assert.NoError(t, err, "simple flows need no generator")
}

func TestPlanningFlowExecute(t *testing.T) {
	var caps []string
	logger := &recordingLogger{}
	sink := &fakeSink{}
	f := &Factory{
		Directory: standardAgents(),
		Invoker:   okInvoker(),
		Generator: twoStepGenerator(&caps),
		Config:    testConfig(),
		Logger:    logger,
		Sink:      sink,
	}

	fl, err := f.Create(models.FlowPlanning)
	require.NoError(t, err)

	report, err := fl.Execute(context.Background(), "find and mail the address")
	require.NoError(t, err)

	assert.Equal(t, models.PlanCompleted, report.Status)
	assert.Equal(t, "find and mail the address", report.Goal)
	assert.Equal(t, fl.FlowID(), report.FlowID)
	assert.ElementsMatch(t, []string{"standard", "mail", "browser"}, caps)
	assert.Len(t, sink.saved, 1)
	assert.NotNil(t, logger.summary)
	assert.Equal(t, models.PlanCompleted, fl.Progress().Status)
}

func TestPlanningFlowGeneratorFailure(t *testing.T) {
	tests := []struct {
		name    string
		gen     planner.Generator
		wantErr error
	}{
		{
			name: "generator error",
			gen: planner.GeneratorFunc(func(context.Context, string, []string) (*models.Plan, error) {
				return nil, errors.New("model offline")
			}),
		},
		{
			name: "nil plan",
			gen: planner.GeneratorFunc(func(context.Context, string, []string) (*models.Plan, error) {
				return nil, nil
			}),
			wantErr: executor.ErrEmptyPlan,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Factory{Directory: standardAgents(), Invoker: okInvoker(), Generator: tt.gen, Config: testConfig()}
			fl, err := f.Create(models.FlowPlanning)
			require.NoError(t, err)

			report, err := fl.Execute(context.Background(), "goal")
			assert.Nil(t, report)
			assert.True(t, executor.IsPlanGenerationError(err))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, models.Progress{FlowID: fl.FlowID()}, fl.Progress(), "nothing ran")
		})
	}
}

func TestPlanningFlowEmptyGeneratedPlan(t *testing.T) {
	gen := planner.GeneratorFunc(func(_ context.Context, goal string, _ []string) (*models.Plan, error) {
		return models.NewPlan(goal, nil), nil
	})
	f := &Factory{Directory: standardAgents(), Invoker: okInvoker(), Generator: gen, Config: testConfig()}
	fl, err := f.Create(models.FlowPlanning)
	require.NoError(t, err)

	_, err = fl.Execute(context.Background(), "goal")
	assert.ErrorIs(t, err, executor.ErrEmptyPlan)
	assert.False(t, executor.IsPlanGenerationError(err), "empty plans are a validation error")
}

func TestSimpleFlowExecute(t *testing.T) {
	var instructions []string
	f := &Factory{
		Directory: standardAgents(),
		Invoker: agent.InvokerFunc(func(_ context.Context, _, instruction, _ string) (string, error) {
			instructions = append(instructions, instruction)
			return "hello", nil
		}),
		Config: testConfig(),
	}

	fl, err := f.Create(models.FlowSimple)
	require.NoError(t, err)

	report, err := fl.Execute(context.Background(), "say hello")
	require.NoError(t, err)
	assert.Equal(t, models.PlanCompleted, report.Status)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, []string{"say hello"}, instructions)
}
