package models

import (
	"time"
	"unicode/utf8"
)

// MaxSummaryLength bounds the result/error text kept in a step summary.
const MaxSummaryLength = 500

// StepSummary is the per-step entry of an execution report.
type StepSummary struct {
	Index       int           `json:"index"`
	Description string        `json:"description"`
	Capability  string        `json:"capability,omitempty"`
	AgentID     string        `json:"agent_id,omitempty"`
	Status      StepStatus    `json:"status"`
	Attempts    int           `json:"attempts"` // Executions, including the first
	Retries     int           `json:"retries"`
	Duration    time.Duration `json:"duration"`
	Result      string        `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
}

// ExecutionReport is produced once per flow run.
type ExecutionReport struct {
	FlowID       string        `json:"flow_id"`
	PlanID       string        `json:"plan_id"`
	Goal         string        `json:"goal"`
	Status       PlanStatus    `json:"status"`
	Steps        []StepSummary `json:"steps"`
	Duration     time.Duration `json:"duration"`
	RetriedSteps int           `json:"retried_steps"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// CountByStatus returns the number of step summaries with the given status.
func (r *ExecutionReport) CountByStatus(status StepStatus) int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == status {
			n++
		}
	}
	return n
}

// Succeeded returns true when the run completed without failed steps.
func (r *ExecutionReport) Succeeded() bool {
	return r.Status == PlanCompleted
}

// BuildReport summarises a plan after a run.
func BuildReport(flowID string, plan *Plan, startedAt, completedAt time.Time) *ExecutionReport {
	report := &ExecutionReport{
		FlowID:      flowID,
		PlanID:      plan.ID,
		Goal:        plan.Goal,
		Status:      plan.Status,
		Steps:       make([]StepSummary, 0, len(plan.Steps)),
		Duration:    completedAt.Sub(startedAt),
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}

	for _, step := range plan.Steps {
		summary := StepSummary{
			Index:       step.Index,
			Description: Truncate(step.Description, MaxSummaryLength),
			Capability:  step.RequiredCapability,
			AgentID:     step.AssignedAgentID,
			Status:      step.Status,
			Attempts:    step.Executions,
			Retries:     step.Attempt,
			Duration:    step.Duration(),
			Result:      Truncate(step.Result, MaxSummaryLength),
		}
		if step.Error != nil {
			summary.Error = Truncate(step.Error.Message, MaxSummaryLength)
			summary.ErrorKind = step.Error.Kind
		}
		if step.Attempt > 0 {
			report.RetriedSteps++
		}
		report.Steps = append(report.Steps, summary)
	}

	return report
}

// Truncate shortens s to at most max runes, marking the cut with "...".
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-3]) + "..."
}

// Progress is a point-in-time view of a running flow.
type Progress struct {
	FlowID                 string        `json:"flow_id"`
	Status                 PlanStatus    `json:"status"`
	CompletedSteps         int           `json:"completed_steps"`
	TotalSteps             int           `json:"total_steps"`
	CurrentStepDescription string        `json:"current_step,omitempty"`
	Elapsed                time.Duration `json:"elapsed"`
}
