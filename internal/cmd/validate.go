package cmd

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/ergon/internal/agent"
	"github.com/harrison/ergon/internal/models"
	"github.com/harrison/ergon/internal/planner"
)

// NewValidateCommand checks plan files without running them.
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan-file|dir>...",
		Short: "Check plan files before running them",
		Long: `Parse each plan file and report:
  - A parseable Markdown or YAML document
  - At least one step, each with a description
  - Capabilities that no agent in the agent directory offers (warning)
  - Plans longer than the configured max_steps (warning)

Directories are scanned for plan-*.md and plan-*.yaml files.

The command fails if any plan file cannot be parsed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			registry := agent.NewRegistry(cfg.AgentsDir)
			if _, err := registry.Discover(); err != nil {
				return fmt.Errorf("failed to discover agents: %w", err)
			}
			return validatePlans(args, registry, cfg.Flow.MaxSteps, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .ergon/config.yaml)")

	return cmd
}

// validatePlans validates every plan file found in paths and writes a report to output.
func validatePlans(paths []string, directory agent.Directory, maxSteps int, output io.Writer) error {
	planFiles, err := collectPlanFiles(paths)
	if err != nil {
		return err
	}

	agents, err := directory.ListAvailableAgents()
	if err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}
	offered := make(map[string]bool)
	for _, c := range models.Capabilities(agents) {
		offered[c] = true
	}

	failed := 0
	for _, path := range planFiles {
		plan, err := planner.ParseFile(path)
		if err != nil {
			failed++
			fmt.Fprintf(output, "✗ %s: %v\n", path, err)
			continue
		}

		fmt.Fprintf(output, "✓ %s: %d step(s)\n", path, len(plan.Steps))
		for _, warning := range planWarnings(plan, offered, len(offered) > 0, maxSteps) {
			fmt.Fprintf(output, "  ⚠ %s\n", warning)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d plan file(s) failed validation", failed, len(planFiles))
	}
	fmt.Fprintf(output, "\nAll %d plan file(s) are valid.\n", len(planFiles))
	return nil
}

// planWarnings lists problems that do not make the plan invalid but will
// probably make a run fail.
func planWarnings(plan *models.Plan, offered map[string]bool, haveAgents bool, maxSteps int) []string {
	var warnings []string
	if !haveAgents {
		warnings = append(warnings, "no agents are available to run this plan")
	} else {
		var missing []string
		for _, c := range plan.Capabilities() {
			if c != models.StandardCapability && !offered[c] {
				missing = append(missing, c)
			}
		}
		if len(missing) > 0 {
			warnings = append(warnings, fmt.Sprintf("no available agent offers capability: %s", strings.Join(missing, ", ")))
		}
	}
	if maxSteps > 0 && len(plan.Steps) > maxSteps {
		warnings = append(warnings, fmt.Sprintf("plan has %d steps, more than max_steps (%d)", len(plan.Steps), maxSteps))
	}
	return warnings
}

// collectPlanFiles expands directories into their plan-* files and keeps
// explicit file arguments as given. Returns absolute, de-duplicated paths.
func collectPlanFiles(paths []string) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, dup := seen[p]; !dup {
			seen[p] = struct{}{}
			files = append(files, p)
		}
	}

	for _, arg := range paths {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", arg, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(abs)
			continue
		}

		var inDir []string
		walkErr := filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isPlanFile(d.Name()) {
				inDir = append(inDir, p)
			}
			return nil
		})
		if walkErr != nil {
			return nil, fmt.Errorf("scan %s: %w", arg, walkErr)
		}
		sort.Strings(inDir)
		for _, p := range inDir {
			add(p)
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no plan-* files (.md, .markdown, .yaml, .yml) found in %s", strings.Join(paths, ", "))
	}
	return files, nil
}

// isPlanFile matches plan-* files with a plan file extension.
func isPlanFile(filename string) bool {
	return strings.HasPrefix(filename, "plan-") && planner.Supported(filename)
}
