// Package flow drives a plan through routing and execution, one step at a time.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/ergon/internal/agent"
	"github.com/harrison/ergon/internal/executor"
	"github.com/harrison/ergon/internal/models"
	"github.com/harrison/ergon/internal/router"
)

// Logger receives flow progress events. All methods must be safe to call
// from the goroutine running the flow.
type Logger interface {
	LogFlowStart(flowID string, plan *models.Plan)
	LogStepStart(flowID string, step models.Step)
	LogStepRetry(flowID string, step models.Step, err error)
	LogStepResult(flowID string, step models.Step)
	LogSummary(report models.ExecutionReport)
	Warnf(format string, args ...interface{})
	Infof(format string, args ...interface{})
}

// ReportSink persists finished reports. Failures are logged, never fatal.
type ReportSink interface {
	SaveReport(ctx context.Context, report *models.ExecutionReport) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the progress logger.
func WithLogger(logger Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithReportSink sets where finished reports are saved.
func WithReportSink(sink ReportSink) Option {
	return func(c *Controller) { c.sink = sink }
}

// WithFlowID overrides the generated flow ID.
func WithFlowID(id string) Option {
	return func(c *Controller) { c.flowID = id }
}

// Controller owns one plan for the duration of one run.
//
// A Controller is single-use: Run may be called once. Progress may be called
// from any goroutine at any time.
type Controller struct {
	flowID    string
	directory agent.Directory
	executor  *executor.StepExecutor
	router    *router.Router
	logger    Logger
	sink      ReportSink

	mu             sync.RWMutex
	plan           *models.Plan
	startedAt      time.Time
	lastTransition time.Time
	current        int // index of the step being worked on, -1 when idle
}

// NewController creates a controller with its own router state.
func NewController(directory agent.Directory, invoker agent.Invoker, opts ...Option) *Controller {
	c := &Controller{
		flowID:    uuid.New().String(),
		directory: directory,
		executor:  executor.New(invoker),
		router:    router.New(),
		current:   -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FlowID returns the identifier of this flow.
func (c *Controller) FlowID() string {
	return c.flowID
}

// Run executes plan under cfg and returns the final report.
//
// Run returns an error only for validation failures detected before any step
// runs; in that case no report is produced. Every step-level failure is
// recorded in the report instead. The caller must not touch plan until Run
// returns.
func (c *Controller) Run(ctx context.Context, plan *models.Plan, cfg models.FlowConfig) (*models.ExecutionReport, error) {
	cfg, err := c.validate(plan, cfg)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.plan != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: controller %s already ran a plan", executor.ErrPlanNotRunnable, c.flowID)
	}
	now := time.Now()
	c.plan = plan
	c.startedAt = now
	c.lastTransition = now
	plan.Status = models.PlanExecuting
	c.mu.Unlock()

	runCtx := ctx
	if cfg.FlowTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.FlowTimeout)
		defer cancel()
	}

	c.logFlowStart()

	aborted := false
	stopped := false
	for i := range plan.Steps {
		if runCtx.Err() != nil {
			aborted = true
			break
		}
		switch c.runStep(runCtx, i, cfg) {
		case stepAborted:
			aborted = true
		case stepFailed:
			stopped = cfg.FailurePolicy == models.StopOnFailure
		}
		if aborted || stopped {
			break
		}
	}

	report := c.finish(aborted)

	if c.sink != nil {
		// The run context may be expired; persistence gets its own.
		if err := c.sink.SaveReport(context.WithoutCancel(ctx), report); err != nil {
			executor.GracefulWarn(c.logger, "failed to save report for plan %s: %v", report.PlanID, err)
		}
	}
	if c.logger != nil {
		c.logger.LogSummary(*report)
	}

	return report, nil
}

func (c *Controller) validate(plan *models.Plan, cfg models.FlowConfig) (models.FlowConfig, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return cfg, executor.ErrEmptyPlan
	}
	if plan.Status != models.PlanCreated {
		return cfg, fmt.Errorf("%w: plan %s is %s", executor.ErrPlanNotRunnable, plan.ID, plan.Status)
	}
	if err := plan.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %v", executor.ErrPlanNotRunnable, err)
	}

	if cfg.MaxSteps < 0 {
		return cfg, fmt.Errorf("%w: max steps must be >= 0, got %d", executor.ErrInvalidConfig, cfg.MaxSteps)
	}
	cfg = cfg.Resolve(len(plan.Steps))

	if cfg.MaxRetriesPerStep < 0 {
		return cfg, fmt.Errorf("%w: max retries per step must be >= 0, got %d", executor.ErrInvalidConfig, cfg.MaxRetriesPerStep)
	}
	if cfg.PerStepTimeout < 0 || cfg.FlowTimeout < 0 || cfg.RetryDelay < 0 {
		return cfg, fmt.Errorf("%w: timeouts and retry delay must be >= 0", executor.ErrInvalidConfig)
	}
	if _, err := models.ParseFailurePolicy(string(cfg.FailurePolicy)); err != nil {
		return cfg, fmt.Errorf("%w: %v", executor.ErrInvalidConfig, err)
	}
	if action, ok := models.ParseTimeoutAction(string(cfg.TimeoutAction)); !ok {
		executor.GracefulWarn(c.logger, "unknown timeout action %q, using %q", cfg.TimeoutAction, action)
		cfg.TimeoutAction = action
	}
	if len(plan.Steps) > cfg.MaxSteps {
		return cfg, &executor.MaxStepsExceededError{Steps: len(plan.Steps), MaxSteps: cfg.MaxSteps}
	}
	return cfg, nil
}

type stepEnd int

const (
	stepDone stepEnd = iota
	stepFailed
	stepAborted
)

// runStep drives one step through its attempt chain until it is terminal
// or the flow is aborted.
func (c *Controller) runStep(ctx context.Context, i int, cfg models.FlowConfig) stepEnd {
	c.mu.Lock()
	c.current = i
	c.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return stepAborted
		}

		step, err := c.route(i)
		if err != nil {
			if !c.recordFailure(i, models.ErrorKindRouting, err, true, cfg) {
				return stepFailed
			}
			// The directory has to change before a retry can succeed.
			if !sleepCtx(ctx, cfg.Backoff(c.stepCopy(i).Attempt)) {
				return stepAborted
			}
			continue
		}

		history := c.history(i)
		c.logStepStart(step)

		outcome := c.executor.Execute(ctx, step, step.AssignedAgentID, history, cfg.PerStepTimeout)

		switch outcome.Kind {
		case executor.OutcomeSuccess:
			c.complete(i, outcome.Result)
			return stepDone

		case executor.OutcomeAborted:
			return stepAborted

		case executor.OutcomeTimedOut:
			retryable := cfg.TimeoutAction != models.TimeoutKill
			if cfg.TimeoutAction == models.TimeoutAlarm {
				executor.GracefulWarn(c.logger, "ALARM: %s timed out after %v on agent %s", step.DisplayName(), cfg.PerStepTimeout, step.AssignedAgentID)
			}
			if c.recordFailure(i, models.ErrorKindTimeout, outcome.Err, retryable, cfg) {
				continue
			}
			return stepFailed

		default:
			if c.recordFailure(i, models.ErrorKindAgent, outcome.Err, outcome.Retryable, cfg) {
				continue
			}
			return stepFailed
		}
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// route picks an agent from a fresh directory snapshot and marks the step
// RUNNING with that agent in a single transition.
func (c *Controller) route(i int) (models.Step, error) {
	step := c.stepCopy(i)

	snapshot, err := c.directory.ListAvailableAgents()
	if err != nil {
		return step, fmt.Errorf("list agents: %w", err)
	}
	chosen, err := c.router.Route(step.RequiredCapability, snapshot)
	if err != nil {
		return step, err
	}
	c.router.Record(chosen.ID)

	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.plan.Steps[i]
	now := time.Now()
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	s.Status = models.StepRunning
	s.AssignedAgentID = chosen.ID
	s.Executions++
	c.lastTransition = now
	return *s, nil
}

// recordFailure applies the retry policy to a failed attempt. It returns true
// when the step should be attempted again.
func (c *Controller) recordFailure(i int, kind models.ErrorKind, cause error, retryable bool, cfg models.FlowConfig) bool {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	c.mu.Lock()
	s := &c.plan.Steps[i]
	now := time.Now()
	c.lastTransition = now
	s.Error = &models.StepError{Kind: kind, Message: msg, Retryable: retryable}

	retry := false
	if retryable {
		s.Attempt++
		retry = s.Attempt <= cfg.MaxRetriesPerStep
	}

	switch {
	case retry && kind == models.ErrorKindTimeout:
		s.Status = models.StepTimedOut
	case retry && kind == models.ErrorKindRouting:
		s.Status = models.StepPending
		s.AssignedAgentID = ""
	case retry:
		// stays RUNNING until re-routed
	default:
		s.Status = models.StepFailed
		s.EndedAt = now
		if kind == models.ErrorKindRouting {
			s.AssignedAgentID = ""
		}
	}
	snapshot := *s
	c.mu.Unlock()

	if retry {
		if c.logger != nil {
			c.logger.LogStepRetry(c.flowID, snapshot, cause)
		}
		return true
	}
	c.logStepResult(snapshot)
	return false
}

func (c *Controller) complete(i int, result string) {
	c.mu.Lock()
	s := &c.plan.Steps[i]
	now := time.Now()
	s.Status = models.StepCompleted
	s.Result = result
	s.Error = nil
	s.EndedAt = now
	c.lastTransition = now
	snapshot := *s
	c.mu.Unlock()

	c.logStepResult(snapshot)
}

// finish settles every non-terminal step and the plan status, then builds the report.
func (c *Controller) finish(aborted bool) *models.ExecutionReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	plan := c.plan
	for i := range plan.Steps {
		s := &plan.Steps[i]
		switch s.Status {
		case models.StepRunning:
			// Only reachable on abort: the late agent result is discarded.
			s.Status = models.StepTimedOut
			s.Error = &models.StepError{Kind: models.ErrorKindFlowTimeout, Message: "flow aborted while step was running"}
			s.EndedAt = now
		case models.StepTimedOut:
			if s.EndedAt.IsZero() {
				// Timed out and waiting for a retry that never came.
				s.Error = &models.StepError{Kind: models.ErrorKindFlowTimeout, Message: "flow aborted before retry"}
				s.EndedAt = now
			}
		case models.StepPending:
			s.AssignedAgentID = ""
			if aborted && s.Attempt > 0 {
				// Aborted while waiting to be re-routed.
				s.Status = models.StepTimedOut
				msg := "flow aborted while waiting to re-route"
				if s.Error != nil {
					msg += ": " + s.Error.Message
				}
				s.Error = &models.StepError{Kind: models.ErrorKindFlowTimeout, Message: msg}
				s.EndedAt = now
				continue
			}
			s.Status = models.StepSkipped
		}
	}

	switch {
	case aborted:
		plan.Status = models.PlanAborted
	case plan.HasFailedStep():
		plan.Status = models.PlanFailed
	default:
		plan.Status = models.PlanCompleted
	}
	plan.CompletedAt = now
	c.lastTransition = now
	c.current = -1

	return models.BuildReport(c.flowID, plan, c.startedAt, now)
}

// Progress returns a snapshot of the run. Between two state transitions it
// always returns the same value.
func (c *Controller) Progress() models.Progress {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p := models.Progress{FlowID: c.flowID}
	if c.plan == nil {
		return p
	}

	p.Status = c.plan.Status
	p.TotalSteps = len(c.plan.Steps)
	for i := range c.plan.Steps {
		s := &c.plan.Steps[i]
		if s.IsTerminal() && (s.Status != models.StepTimedOut || !s.EndedAt.IsZero()) {
			p.CompletedSteps++
		}
	}
	if c.current >= 0 {
		p.CurrentStepDescription = c.plan.Steps[c.current].Description
	}
	p.Elapsed = c.lastTransition.Sub(c.startedAt)
	return p
}

// Plan returns a deep copy of the plan being run, or nil before Run.
func (c *Controller) Plan() *models.Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.plan.Clone()
}

func (c *Controller) stepCopy(i int) models.Step {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.plan.Steps[i]
}

func (c *Controller) history(i int) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return executor.BuildHistory(c.plan.Steps, i)
}

func (c *Controller) logFlowStart() {
	if c.logger != nil {
		c.logger.LogFlowStart(c.flowID, c.Plan())
	}
}

func (c *Controller) logStepStart(step models.Step) {
	if c.logger != nil {
		c.logger.LogStepStart(c.flowID, step)
	}
}

func (c *Controller) logStepResult(step models.Step) {
	if c.logger != nil {
		c.logger.LogStepResult(c.flowID, step)
	}
}

// IsValidationError reports whether err came from Run's pre-execution checks.
func IsValidationError(err error) bool {
	var maxErr *executor.MaxStepsExceededError
	return errors.Is(err, executor.ErrEmptyPlan) ||
		errors.Is(err, executor.ErrInvalidConfig) ||
		errors.Is(err, executor.ErrPlanNotRunnable) ||
		errors.As(err, &maxErr)
}
