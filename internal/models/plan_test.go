package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlan(t *testing.T) {
	plan := NewPlan("book a flight and email the itinerary", []StepSpec{
		{Description: "  search flights  ", RequiredCapability: "browser"},
		{Description: "send itinerary", RequiredCapability: " Mail "},
		{Description: "summarise"},
	})

	require.NotNil(t, plan)
	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, PlanCreated, plan.Status)
	assert.False(t, plan.CreatedAt.IsZero())
	require.Len(t, plan.Steps, 3)

	for i, step := range plan.Steps {
		assert.Equal(t, i, step.Index)
		assert.Equal(t, StepPending, step.Status)
		assert.Empty(t, step.AssignedAgentID)
		assert.Zero(t, step.Attempt)
	}
	assert.Equal(t, "search flights", plan.Steps[0].Description)
	assert.Equal(t, "Mail", plan.Steps[1].RequiredCapability)
	assert.Empty(t, plan.Steps[2].RequiredCapability)
	assert.NoError(t, plan.Validate())
}

func TestNewPlanAssignsUniqueIDs(t *testing.T) {
	a := NewPlan("goal", []StepSpec{{Description: "x"}})
	b := NewPlan("goal", []StepSpec{{Description: "x"}})
	assert.NotEqual(t, a.ID, b.ID)
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    *Plan
		wantErr bool
	}{
		{name: "nil plan", plan: nil, wantErr: true},
		{name: "missing id", plan: &Plan{Steps: []Step{{Index: 0, Description: "x"}}}, wantErr: true},
		{
			name: "index mismatch",
			plan: &Plan{ID: "p", Steps: []Step{{Index: 1, Description: "x"}}},
			wantErr: true,
		},
		{
			name: "empty description",
			plan: &Plan{ID: "p", Steps: []Step{{Index: 0}}},
			wantErr: true,
		},
		{
			name: "valid",
			plan: &Plan{ID: "p", Steps: []Step{{Index: 0, Description: "a"}, {Index: 1, Description: "b"}}},
		},
		{name: "no steps is structurally valid", plan: &Plan{ID: "p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPlanCapabilities(t *testing.T) {
	plan := NewPlan("g", []StepSpec{
		{Description: "a", RequiredCapability: "Browser"},
		{Description: "b", RequiredCapability: "browser"},
		{Description: "c", RequiredCapability: "mail"},
		{Description: "d"},
	})
	assert.Equal(t, []string{"browser", "mail"}, plan.Capabilities())
}

func TestPlanCloneIsDeep(t *testing.T) {
	plan := NewPlan("g", []StepSpec{{Description: "a"}})
	cp := plan.Clone()

	cp.Steps[0].Status = StepCompleted
	cp.Status = PlanCompleted

	assert.Equal(t, StepPending, plan.Steps[0].Status)
	assert.Equal(t, PlanCreated, plan.Status)
	assert.Nil(t, (*Plan)(nil).Clone())
}

func TestPlanStatusIsTerminal(t *testing.T) {
	assert.False(t, PlanCreated.IsTerminal())
	assert.False(t, PlanExecuting.IsTerminal())
	assert.True(t, PlanCompleted.IsTerminal())
	assert.True(t, PlanFailed.IsTerminal())
	assert.True(t, PlanAborted.IsTerminal())
}

func TestStepTerminalAndDuration(t *testing.T) {
	step := Step{Index: 1, Description: "x", RequiredCapability: "mail", Status: StepRunning}
	assert.False(t, step.IsTerminal())
	assert.Equal(t, "Step 2 (mail)", step.DisplayName())
	assert.Zero(t, step.Duration())

	start := time.Now().Add(-2 * time.Second)
	step.StartedAt = start
	step.EndedAt = start.Add(1500 * time.Millisecond)
	step.Status = StepTimedOut
	assert.True(t, step.IsTerminal())
	assert.Equal(t, 1500*time.Millisecond, step.Duration())

	for _, s := range []StepStatus{StepCompleted, StepFailed, StepSkipped} {
		step.Status = s
		assert.True(t, step.IsTerminal(), s)
	}
	step.Status = StepPending
	assert.False(t, step.IsTerminal())
}

func TestAgentDescriptorCapabilities(t *testing.T) {
	agents := []AgentDescriptor{
		{ID: "1", CapabilityTag: "Mail", Available: true},
		{ID: "2", CapabilityTag: "mail", Available: true},
		{ID: "3", CapabilityTag: "browser", Available: false},
		{ID: "4", CapabilityTag: "standard", Available: true},
	}
	assert.Equal(t, []string{"mail", "standard"}, Capabilities(agents))
	assert.True(t, agents[0].HasCapability("MAIL"))
	assert.False(t, agents[0].HasCapability("browser"))
}
