package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validation errors returned by the flow before any step runs.
var (
	// ErrEmptyPlan means the plan is nil or has no steps.
	ErrEmptyPlan = errors.New("plan has no steps")
	// ErrInvalidConfig means the flow configuration is unusable.
	ErrInvalidConfig = errors.New("invalid flow configuration")
	// ErrPlanNotRunnable means the plan is not in the CREATED state.
	ErrPlanNotRunnable = errors.New("plan is not runnable")
)

// PlanGenerationError wraps a failure of the external plan generator.
type PlanGenerationError struct {
	Goal      string    // Task text the plan was requested for
	Err       error     // Underlying generator error
	Timestamp time.Time // When generation failed
}

// NewPlanGenerationError creates a new PlanGenerationError with the current timestamp.
func NewPlanGenerationError(goal string, err error) *PlanGenerationError {
	return &PlanGenerationError{
		Goal:      goal,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface for PlanGenerationError.
func (e *PlanGenerationError) Error() string {
	var sb strings.Builder
	sb.WriteString("plan generation failed")
	if e.Goal != "" {
		sb.WriteString(fmt.Sprintf(" for %q", truncateGoal(e.Goal)))
	}
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *PlanGenerationError) Unwrap() error {
	return e.Err
}

// MaxStepsExceededError is returned when a plan has more steps than the flow allows.
type MaxStepsExceededError struct {
	Steps    int // Steps in the plan
	MaxSteps int // Configured limit
}

// Error implements the error interface for MaxStepsExceededError.
func (e *MaxStepsExceededError) Error() string {
	return fmt.Sprintf("plan has %d steps, exceeding the limit of %d", e.Steps, e.MaxSteps)
}

// TimeoutError represents a per-step deadline expiring.
type TimeoutError struct {
	StepName        string        // Display name of the step that timed out
	TimeoutDuration time.Duration // Duration after which timeout occurred
	Timestamp       time.Time     // When the timeout occurred
}

// NewTimeoutError creates a new TimeoutError with the current timestamp.
func NewTimeoutError(name string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		StepName:        name,
		TimeoutDuration: duration,
		Timestamp:       time.Now(),
	}
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timeout after %v", e.StepName, e.TimeoutDuration)
}

// Unwrap returns context.DeadlineExceeded to support error wrapping.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// IsTimeoutError checks if the error is or wraps a TimeoutError or context.DeadlineExceeded.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}

// IsPlanGenerationError checks if the error is or wraps a PlanGenerationError.
func IsPlanGenerationError(err error) bool {
	var pe *PlanGenerationError
	return errors.As(err, &pe)
}

func truncateGoal(goal string) string {
	const max = 80
	r := []rune(goal)
	if len(r) <= max {
		return goal
	}
	return string(r[:max-3]) + "..."
}
