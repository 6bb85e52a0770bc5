package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for ergon
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ergon",
		Short: "Multi-agent planning and flow orchestration",
		Long: `Ergon turns a natural-language task into an ordered plan of steps and
orchestrates a pool of specialised agents to execute it.

Each step is routed to an available agent with the required capability,
retried on transient failures, and bounded by per-step and per-flow
timeouts. Every run ends with an execution report.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewFlowCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewAgentsCommand())
	cmd.AddCommand(NewReportsCommand())

	return cmd
}
