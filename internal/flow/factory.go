package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/harrison/ergon/internal/agent"
	"github.com/harrison/ergon/internal/executor"
	"github.com/harrison/ergon/internal/models"
	"github.com/harrison/ergon/internal/planner"
)

// Flow runs one goal end to end.
type Flow interface {
	// FlowID identifies the run for progress queries.
	FlowID() string
	// Execute produces a plan for goal and runs it.
	Execute(ctx context.Context, goal string) (*models.ExecutionReport, error)
	// Progress returns a snapshot of the run.
	Progress() models.Progress
}

// Factory builds flows that share collaborators and configuration.
type Factory struct {
	Directory agent.Directory
	Invoker   agent.Invoker
	Generator planner.Generator // required for planning flows
	Config    models.FlowConfig
	Logger    Logger     // optional
	Sink      ReportSink // optional
}

// Create returns a new flow of the given type. Each flow gets its own controller.
func (f *Factory) Create(flowType models.FlowType) (Flow, error) {
	if f.Directory == nil || f.Invoker == nil {
		return nil, errors.New("factory requires an agent directory and an invoker")
	}

	controller := f.newController()
	switch flowType {
	case models.FlowPlanning, "":
		if f.Generator == nil {
			return nil, errors.New("planning flow requires a plan generator")
		}
		return &PlanningFlow{
			controller: controller,
			generator:  f.Generator,
			directory:  f.Directory,
			config:     f.Config,
		}, nil
	case models.FlowSimple:
		return &SimpleFlow{controller: controller, config: f.Config}, nil
	default:
		return nil, fmt.Errorf("unknown flow type %q", flowType)
	}
}

func (f *Factory) newController() *Controller {
	var opts []Option
	if f.Logger != nil {
		opts = append(opts, WithLogger(f.Logger))
	}
	if f.Sink != nil {
		opts = append(opts, WithReportSink(f.Sink))
	}
	return NewController(f.Directory, f.Invoker, opts...)
}

// PlanningFlow asks the plan generator for a plan, then runs it.
type PlanningFlow struct {
	controller *Controller
	generator  planner.Generator
	directory  agent.Directory
	config     models.FlowConfig
}

// FlowID returns the controller's flow ID.
func (p *PlanningFlow) FlowID() string { return p.controller.FlowID() }

// Progress returns the controller's progress.
func (p *PlanningFlow) Progress() models.Progress { return p.controller.Progress() }

// Execute generates a plan with a single generator call and runs it.
// Generation failures are returned as *executor.PlanGenerationError.
func (p *PlanningFlow) Execute(ctx context.Context, goal string) (*models.ExecutionReport, error) {
	agents, err := p.directory.ListAvailableAgents()
	if err != nil {
		return nil, executor.NewPlanGenerationError(goal, fmt.Errorf("list agents: %w", err))
	}

	plan, err := p.generator.GeneratePlan(ctx, goal, models.Capabilities(agents))
	if err != nil {
		return nil, executor.NewPlanGenerationError(goal, err)
	}
	if plan == nil {
		return nil, executor.NewPlanGenerationError(goal, executor.ErrEmptyPlan)
	}

	return p.controller.Run(ctx, plan, p.config)
}

// SimpleFlow runs the goal as a single step without planning.
type SimpleFlow struct {
	controller *Controller
	config     models.FlowConfig
}

// FlowID returns the controller's flow ID.
func (s *SimpleFlow) FlowID() string { return s.controller.FlowID() }

// Progress returns the controller's progress.
func (s *SimpleFlow) Progress() models.Progress { return s.controller.Progress() }

// Execute runs goal as a one-step plan with no capability requirement.
func (s *SimpleFlow) Execute(ctx context.Context, goal string) (*models.ExecutionReport, error) {
	plan := models.NewPlan(goal, []models.StepSpec{{Description: goal}})
	plan.Source = "simple"
	return s.controller.Run(ctx, plan, s.config)
}
