package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/ergon/internal/agent"
	"github.com/harrison/ergon/internal/store"
)

// NewAgentsCommand creates the agents command
func NewAgentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the agents in the agent directory",
		Long: `List every agent definition found in the agent directory with its
capability, availability and how it is invoked.

With --stats, per-agent step counts from the report store are included.`,
		Args: cobra.NoArgs,
		RunE: runAgents,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .ergon/config.yaml)")
	cmd.Flags().Bool("stats", false, "Include step statistics from the report store")

	return cmd
}

func runAgents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	registry := agent.NewRegistry(cfg.AgentsDir)
	if _, err := registry.Discover(); err != nil {
		return fmt.Errorf("failed to discover agents in %s: %w", cfg.AgentsDir, err)
	}

	var stats map[string]*store.AgentStats
	if withStats, _ := cmd.Flags().GetBool("stats"); withStats {
		stats, err = loadAgentStats(cmd.Context(), cfg.Store.DBPath)
		if err != nil {
			return err
		}
	}

	return printAgents(cmd.OutOrStdout(), registry, stats)
}

func loadAgentStats(ctx context.Context, dbPath string) (map[string]*store.AgentStats, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return map[string]*store.AgentStats{}, nil
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open report store: %w", err)
	}
	defer db.Close()

	list, err := db.AgentStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent stats: %w", err)
	}
	out := make(map[string]*store.AgentStats, len(list))
	for _, s := range list {
		out[s.AgentID] = s
	}
	return out, nil
}

func printAgents(out io.Writer, registry *agent.Registry, stats map[string]*store.AgentStats) error {
	defs := registry.List()
	if len(defs) == 0 {
		fmt.Fprintf(out, "No agents found in %s\n", registry.AgentsDir)
		return nil
	}

	idWidth := len("ID")
	for _, def := range defs {
		if len(def.ID) > idWidth {
			idWidth = len(def.ID)
		}
	}

	fmt.Fprintf(out, "Agents in %s:\n\n", registry.AgentsDir)
	header := fmt.Sprintf("%-*s  %-12s  %-11s  %-7s", idWidth, "ID", "CAPABILITY", "STATUS", "KIND")
	if stats != nil {
		header += fmt.Sprintf("  %5s  %9s  %6s  %s", "STEPS", "COMPLETED", "FAILED", "AVG")
	}
	fmt.Fprintln(out, header)

	for _, def := range defs {
		d := def.Descriptor()
		status := "available"
		if !d.Available {
			status = "unavailable"
		}
		kind := "llm"
		if len(def.Command) > 0 {
			kind = "command"
		}
		line := fmt.Sprintf("%-*s  %-12s  %-11s  %-7s", idWidth, d.ID, d.CapabilityTag, status, kind)
		if stats != nil {
			if s, ok := stats[d.ID]; ok {
				line += fmt.Sprintf("  %5d  %9d  %6d  %s", s.Steps, s.Completed, s.Failed, s.AvgDuration.Round(time.Millisecond))
			} else {
				line += fmt.Sprintf("  %5d  %9d  %6d  %s", 0, 0, 0, "-")
			}
		}
		fmt.Fprintln(out, line)
		if d.Name != "" && d.Name != d.ID {
			fmt.Fprintf(out, "%-*s  %s\n", idWidth, "", d.Name)
		}
	}
	return nil
}
