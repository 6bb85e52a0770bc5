package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/ergon/internal/agent"
	"github.com/harrison/ergon/internal/config"
	"github.com/harrison/ergon/internal/flow"
	"github.com/harrison/ergon/internal/logger"
	"github.com/harrison/ergon/internal/models"
	"github.com/harrison/ergon/internal/planner"
)

// NewFlowCommand creates the flow command
func NewFlowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow <task>...",
		Short: "Plan and execute one or more tasks with the agent pool",
		Long: `Plan a natural-language task and execute it step by step with the agents
in the agent directory.

A planning flow asks the configured LLM (or the plan file given with --plan)
for an ordered list of steps. A simple flow runs the task as a single step.
Each step is routed to an available agent with the required capability.

Several tasks run concurrently, up to max_concurrent_flows at a time.

Configuration is loaded from .ergon/config.yaml if present.
CLI flags override configuration file settings.

Examples:
  ergon flow "summarise the latest release notes"
  ergon flow --plan weekly-report.yaml "send the weekly report"
  ergon flow --type simple --agent mail "email the team a status update"
  ergon flow --step-timeout 2m --retries 3 --continue-on-failure "..."
  ergon flow --dry-run --plan plan.md "check the plan"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runFlow,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .ergon/config.yaml)")
	cmd.Flags().String("type", "", "Flow type: planning or simple (default from config)")
	cmd.Flags().String("plan", "", "Use a plan file (Markdown or YAML) instead of LLM planning")
	cmd.Flags().StringSlice("agent", nil, "Restrict routing to these agents (id, name or partial name; repeatable)")
	cmd.Flags().Int("max-steps", -1, "Maximum number of steps per plan (0 = plan length, -1 = use config)")
	cmd.Flags().String("timeout", "", "Maximum time for each flow (e.g., 30m, 2h; 0 = unlimited)")
	cmd.Flags().String("step-timeout", "", "Maximum time for one step attempt (e.g., 5m; 0 = unlimited)")
	cmd.Flags().Int("retries", -1, "Retries per step after the first attempt (-1 = use config)")
	cmd.Flags().String("retry-delay", "", "First wait before re-routing a step that found no agent (e.g., 2s; doubles per retry)")
	cmd.Flags().Bool("continue-on-failure", false, "Keep executing later steps after a step fails")
	cmd.Flags().String("timeout-action", "", "What a step timeout does: log, alarm or kill")
	cmd.Flags().Bool("verbose", false, "Show detailed execution information")
	cmd.Flags().String("log-dir", "", "Directory for log files")
	cmd.Flags().Bool("dry-run", false, "Show the resolved configuration, agents and plan without executing")

	return cmd
}

// flowOverrides collects the flags that were set explicitly.
func flowOverrides(cmd *cobra.Command) (config.Overrides, error) {
	var o config.Overrides
	flags := cmd.Flags()

	if flags.Changed("type") {
		v, _ := flags.GetString("type")
		o.FlowType = &v
	}
	if flags.Changed("max-steps") {
		v, _ := flags.GetInt("max-steps")
		o.MaxSteps = &v
	}
	for _, d := range []struct {
		flag   string
		target **time.Duration
	}{
		{"timeout", &o.FlowTimeout},
		{"step-timeout", &o.StepTimeout},
		{"retry-delay", &o.RetryDelay},
	} {
		if !flags.Changed(d.flag) {
			continue
		}
		raw, _ := flags.GetString(d.flag)
		v, err := parseFlagDuration(raw)
		if err != nil {
			return o, fmt.Errorf("invalid --%s format %q: %w", d.flag, raw, err)
		}
		*d.target = &v
	}
	if flags.Changed("retries") {
		v, _ := flags.GetInt("retries")
		o.MaxRetriesPerStep = &v
	}
	if flags.Changed("continue-on-failure") {
		v, _ := flags.GetBool("continue-on-failure")
		o.ContinueOnFailure = &v
	}
	if flags.Changed("timeout-action") {
		v, _ := flags.GetString("timeout-action")
		o.TimeoutAction = &v
	}
	if flags.Changed("log-dir") {
		v, _ := flags.GetString("log-dir")
		o.LogDir = &v
	}
	if verbose, _ := flags.GetBool("verbose"); verbose {
		level := "debug"
		o.LogLevel = &level
	}
	return o, nil
}

func parseFlagDuration(raw string) (time.Duration, error) {
	if raw == "0" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

// runFlow implements the flow command logic
func runFlow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	overrides, err := flowOverrides(cmd)
	if err != nil {
		return err
	}
	cfg.MergeWithFlags(overrides)
	if overrides.LogDir != nil {
		cwd, _ := os.Getwd()
		cfg.ResolvePaths(cwd)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	goals := make([]string, 0, len(args))
	for _, arg := range args {
		if goal := strings.TrimSpace(arg); goal != "" {
			goals = append(goals, goal)
		}
	}
	if len(goals) == 0 {
		return errors.New("task text cannot be empty")
	}

	out := cmd.OutOrStdout()
	consoleLog := logger.NewConsoleLogger(out, cfg.LogLevel)

	registry := agent.NewRegistry(cfg.AgentsDir)
	if _, err := registry.Discover(); err != nil {
		return fmt.Errorf("failed to discover agents in %s: %w", cfg.AgentsDir, err)
	}

	agentNames, _ := cmd.Flags().GetStringSlice("agent")
	directory, err := agent.Select(registry, agentNames)
	if err != nil {
		return err
	}

	planPath, _ := cmd.Flags().GetString("plan")
	flowType := cfg.FlowType()

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		return printDryRun(out, cfg, directory, planPath, goals)
	}

	model, err := newChatModel(cfg.LLM)
	if err != nil {
		return err
	}
	limiter := newLimiter(cfg.LLM.RequestsPerMinute)

	var generator planner.Generator
	switch {
	case planPath != "":
		generator = planner.NewFileGenerator(planPath)
	case model != nil:
		maxSteps := cfg.Flow.MaxSteps
		generator = planner.NewLLMGenerator(model, limiter, maxSteps)
	case flowType == models.FlowPlanning:
		return fmt.Errorf("planning flow needs --plan or an API key in $%s", cfg.LLM.APIKeyEnv)
	}

	var llmInvoker agent.Invoker
	if model != nil {
		llmInvoker = agent.NewLLMInvoker(model, registry, limiter)
	}
	invoker := agent.NewDispatcher(registry, llmInvoker)

	fileLog, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	defer fileLog.Close()

	multiLog := logger.NewMultiLogger(consoleLog, fileLog)

	if watcher, err := startWatcher(registry, multiLog); err != nil {
		multiLog.Warnf("agent directory will not be reloaded: %v", err)
	} else if watcher != nil {
		defer watcher.Close()
	}

	sinks, closeSinks := openSinks(cfg.Store, multiLog)
	defer closeSinks()

	factory := &flow.Factory{
		Directory: directory,
		Invoker:   invoker,
		Generator: generator,
		Config:    cfg.FlowConfig(),
		Logger:    multiLog,
	}
	if len(sinks) > 0 {
		factory.Sink = sinks
	}
	supervisor := flow.NewSupervisor(factory, cfg.MaxConcurrentFlows)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := supervisor.RunMany(ctx, goals, flowType)
	return summarizeResults(out, results)
}

// startWatcher reloads the registry when agent files change. A missing
// agents directory is not watched.
func startWatcher(registry *agent.Registry, log logger.FlowLogger) (*agent.Watcher, error) {
	if info, err := os.Stat(registry.AgentsDir); err != nil || !info.IsDir() {
		return nil, nil
	}

	watcher, err := agent.NewWatcher(registry)
	if err != nil {
		return nil, err
	}
	watcher.OnError = func(err error) {
		log.Warnf("agent watcher: %v", err)
	}
	if err := watcher.Start(); err != nil {
		watcher.Close()
		return nil, err
	}
	return watcher, nil
}

// summarizeResults prints one line per flow and returns an error unless
// every flow completed.
func summarizeResults(out io.Writer, results []flow.RunResult) error {
	if len(results) > 1 {
		fmt.Fprintf(out, "\nFlows:\n")
		for _, r := range results {
			switch {
			case r.Err != nil:
				fmt.Fprintf(out, "  - %q: error: %v\n", r.Goal, r.Err)
			case r.Report != nil:
				fmt.Fprintf(out, "  - %q: %s (flow %s)\n", r.Goal, r.Report.Status, r.FlowID)
			}
		}
	}

	var errs []error
	incomplete := 0
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%q: %w", r.Goal, r.Err))
			continue
		}
		if r.Report == nil || !r.Report.Succeeded() {
			incomplete++
		}
	}
	if incomplete > 0 {
		errs = append(errs, fmt.Errorf("%d of %d flow(s) did not complete", incomplete, len(results)))
	}
	return errors.Join(errs...)
}

// printDryRun shows what a run would use without invoking any agent.
func printDryRun(out io.Writer, cfg *config.Config, directory agent.Directory, planPath string, goals []string) error {
	fc := cfg.FlowConfig()

	fmt.Fprintf(out, "Flow configuration:\n")
	fmt.Fprintf(out, "  Type: %s\n", cfg.FlowType())
	fmt.Fprintf(out, "  Max steps: %d\n", fc.MaxSteps)
	fmt.Fprintf(out, "  Step timeout: %s\n", fc.PerStepTimeout)
	fmt.Fprintf(out, "  Flow timeout: %s\n", fc.FlowTimeout)
	fmt.Fprintf(out, "  Retries per step: %d\n", fc.MaxRetriesPerStep)
	fmt.Fprintf(out, "  Retry delay: %s\n", fc.RetryDelay)
	fmt.Fprintf(out, "  Failure policy: %s\n", fc.FailurePolicy)
	fmt.Fprintf(out, "  Timeout action: %s\n", fc.TimeoutAction)
	fmt.Fprintf(out, "  Max concurrent flows: %d\n", cfg.MaxConcurrentFlows)

	agents, err := directory.ListAvailableAgents()
	if err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}
	fmt.Fprintf(out, "\nAgents (%d):\n", len(agents))
	for _, a := range agents {
		state := "available"
		if !a.Available {
			state = "unavailable"
		}
		fmt.Fprintf(out, "  - %s [%s] %s\n", a.ID, a.CapabilityTag, state)
	}

	fmt.Fprintf(out, "\nTasks (%d):\n", len(goals))
	for _, goal := range goals {
		fmt.Fprintf(out, "  - %s\n", goal)
	}

	if planPath != "" {
		plan, err := planner.ParseFile(planPath)
		if err != nil {
			return fmt.Errorf("failed to load plan file: %w", err)
		}
		fmt.Fprintf(out, "\nPlan %s (%d steps):\n", planPath, len(plan.Steps))
		for _, step := range plan.Steps {
			fmt.Fprintf(out, "  %s: %s\n", step.DisplayName(), step.Description)
		}
		if fc.MaxSteps > 0 && len(plan.Steps) > fc.MaxSteps {
			fmt.Fprintf(out, "\nWarning: plan has %d steps, more than max steps (%d)\n", len(plan.Steps), fc.MaxSteps)
		}
	}

	fmt.Fprintf(out, "\nDry-run mode: nothing was executed.\n")
	return nil
}
