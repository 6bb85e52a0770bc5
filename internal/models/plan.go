package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlanStatus is the lifecycle state of a plan.
type PlanStatus string

// Plan status constants
const (
	PlanCreated   PlanStatus = "CREATED"
	PlanExecuting PlanStatus = "EXECUTING"
	PlanCompleted PlanStatus = "COMPLETED"
	PlanFailed    PlanStatus = "FAILED"
	PlanAborted   PlanStatus = "ABORTED"
)

// IsTerminal returns true once the plan can no longer change state.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanCompleted || s == PlanFailed || s == PlanAborted
}

// Plan is an ordered sequence of steps produced for one goal.
// The Steps slice is fixed once the plan is created; only the mutable
// fields of each step change while the plan executes.
type Plan struct {
	ID          string     // Opaque identifier assigned at creation
	Goal        string     // Original natural-language task text
	Steps       []Step     // Ordered steps, index == position
	Status      PlanStatus // Current plan status
	CreatedAt   time.Time  // When the plan was created
	CompletedAt time.Time  // When the plan reached a terminal status (zero until then)
	Source      string     // Where the plan came from (file path, "llm", "simple")
}

// StepSpec is the immutable part of a step as produced by a plan generator.
type StepSpec struct {
	Description        string `yaml:"description" json:"description"`
	RequiredCapability string `yaml:"capability" json:"capability,omitempty"`
}

// NewPlan creates a plan in CREATED state with a fresh ID.
// Step indexes are assigned from the order of specs.
func NewPlan(goal string, specs []StepSpec) *Plan {
	steps := make([]Step, len(specs))
	for i, spec := range specs {
		steps[i] = Step{
			Index:              i,
			Description:        strings.TrimSpace(spec.Description),
			RequiredCapability: strings.TrimSpace(spec.RequiredCapability),
			Status:             StepPending,
		}
	}

	return &Plan{
		ID:        uuid.New().String(),
		Goal:      goal,
		Steps:     steps,
		Status:    PlanCreated,
		CreatedAt: time.Now(),
	}
}

// Validate checks the structural invariants of a freshly created plan.
func (p *Plan) Validate() error {
	if p == nil {
		return errors.New("plan is nil")
	}
	if p.ID == "" {
		return errors.New("plan id is required")
	}
	for i, step := range p.Steps {
		if step.Index != i {
			return fmt.Errorf("step at position %d has index %d", i, step.Index)
		}
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

// Capabilities returns the distinct, lower-cased capability tags the plan requires.
func (p *Plan) Capabilities() []string {
	seen := make(map[string]bool)
	var caps []string
	for _, step := range p.Steps {
		c := strings.ToLower(step.RequiredCapability)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		caps = append(caps, c)
	}
	return caps
}

// Clone returns a deep copy of the plan, safe to hand to concurrent readers.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Steps = make([]Step, len(p.Steps))
	copy(cp.Steps, p.Steps)
	return &cp
}

// CountByStatus returns how many steps are currently in the given status.
func (p *Plan) CountByStatus(status StepStatus) int {
	n := 0
	for _, step := range p.Steps {
		if step.Status == status {
			n++
		}
	}
	return n
}

// HasFailedStep reports whether any step ended FAILED.
func (p *Plan) HasFailedStep() bool {
	return p.CountByStatus(StepFailed) > 0
}
