package models

import (
	"fmt"
	"strings"
	"time"
)

// FailurePolicy decides what happens to the rest of a plan after a step fails.
type FailurePolicy string

const (
	StopOnFailure     FailurePolicy = "stop-on-failure"
	ContinueOnFailure FailurePolicy = "continue-on-failure"
)

// ParseFailurePolicy accepts the canonical names plus "stop"/"continue".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stop", string(StopOnFailure):
		return StopOnFailure, nil
	case "continue", string(ContinueOnFailure):
		return ContinueOnFailure, nil
	default:
		return "", fmt.Errorf("invalid failure policy %q, must be one of: %s, %s", s, StopOnFailure, ContinueOnFailure)
	}
}

// TimeoutAction controls how a per-step timeout is treated.
type TimeoutAction string

const (
	TimeoutLog   TimeoutAction = "log"   // record and retry per policy
	TimeoutAlarm TimeoutAction = "alarm" // like log, plus a warning for every timeout
	TimeoutKill  TimeoutAction = "kill"  // the step fails without retry
)

// ParseTimeoutAction returns TimeoutLog and ok=false for unknown values.
func ParseTimeoutAction(s string) (TimeoutAction, bool) {
	switch TimeoutAction(strings.ToLower(strings.TrimSpace(s))) {
	case "", TimeoutLog:
		return TimeoutLog, true
	case TimeoutAlarm:
		return TimeoutAlarm, true
	case TimeoutKill:
		return TimeoutKill, true
	default:
		return TimeoutLog, false
	}
}

// FlowType selects a flow strategy.
type FlowType string

const (
	FlowPlanning FlowType = "planning"
	FlowSimple   FlowType = "simple"
)

// ParseFlowType validates a flow type name.
func ParseFlowType(s string) (FlowType, error) {
	switch FlowType(strings.ToLower(strings.TrimSpace(s))) {
	case "", FlowPlanning:
		return FlowPlanning, nil
	case FlowSimple:
		return FlowSimple, nil
	default:
		return "", fmt.Errorf("invalid flow type %q. Valid types: planning, simple", s)
	}
}

// FlowConfig is the per-run configuration consumed by the flow controller.
type FlowConfig struct {
	MaxSteps          int           // Step budget; 0 means len(plan.Steps)
	PerStepTimeout    time.Duration // Deadline for one step attempt; 0 disables it
	FlowTimeout       time.Duration // Deadline for the whole run; 0 disables it
	MaxRetriesPerStep int           // Retries after the first attempt
	RetryDelay        time.Duration // Wait before re-routing a step that found no agent; doubles per attempt
	FailurePolicy     FailurePolicy
	TimeoutAction     TimeoutAction
}

// DefaultFlowConfig returns the documented defaults.
func DefaultFlowConfig() FlowConfig {
	return FlowConfig{
		MaxSteps:          0,
		PerStepTimeout:    5 * time.Minute,
		FlowTimeout:       0,
		MaxRetriesPerStep: 1,
		RetryDelay:        time.Second,
		FailurePolicy:     StopOnFailure,
		TimeoutAction:     TimeoutLog,
	}
}

// Resolve fills defaults that depend on the plan (MaxSteps) or were left empty.
func (c FlowConfig) Resolve(stepCount int) FlowConfig {
	if c.MaxSteps == 0 {
		c.MaxSteps = stepCount
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = StopOnFailure
	}
	if c.TimeoutAction == "" {
		c.TimeoutAction = TimeoutLog
	}
	return c
}

// MaxRetryDelay caps the exponential routing backoff.
const MaxRetryDelay = 30 * time.Second

// Backoff returns the wait before retry number attempt (1-based):
// RetryDelay, then twice that, and so on up to MaxRetryDelay.
func (c FlowConfig) Backoff(attempt int) time.Duration {
	if c.RetryDelay <= 0 {
		return 0
	}
	delay := c.RetryDelay
	for i := 1; i < attempt && delay < MaxRetryDelay; i++ {
		delay *= 2
	}
	if delay > MaxRetryDelay {
		delay = MaxRetryDelay
	}
	return delay
}
