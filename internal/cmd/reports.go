package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/ergon/internal/models"
	"github.com/harrison/ergon/internal/store"
)

// NewReportsCommand creates the reports command
func NewReportsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports [flow-id]",
		Short: "List persisted execution reports",
		Long: `List the execution reports saved in the report store, most recent first.

With a flow ID argument, the full report for that flow is shown instead.

Examples:
  ergon reports
  ergon reports --limit 5 --status FAILED
  ergon reports --plan-id 6f1c2e1a-...
  ergon reports 0b7c9d2e-... --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runReports,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .ergon/config.yaml)")
	cmd.Flags().Int("limit", 20, "Maximum number of reports to list")
	cmd.Flags().String("plan-id", "", "Only list reports for this plan ID")
	cmd.Flags().String("status", "", "Only list reports with this status (COMPLETED, FAILED, ABORTED)")
	cmd.Flags().Bool("json", false, "Print the report as JSON (with a flow ID)")

	return cmd
}

func runReports(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if _, err := os.Stat(cfg.Store.DBPath); err != nil {
		fmt.Fprintf(out, "No reports found (no report store at %s)\n", cfg.Store.DBPath)
		return nil
	}

	db, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open report store: %w", err)
	}
	defer db.Close()

	if len(args) == 1 {
		report, err := db.GetReport(cmd.Context(), args[0])
		if errors.Is(err, store.ErrReportNotFound) {
			return fmt.Errorf("no report for flow %s", args[0])
		}
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		printReport(out, report)
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	planID, _ := cmd.Flags().GetString("plan-id")
	status, _ := cmd.Flags().GetString("status")

	records, err := db.ListReports(cmd.Context(), store.ListOptions{
		Limit:  limit,
		PlanID: planID,
		Status: models.PlanStatus(status),
	})
	if err != nil {
		return err
	}
	printReportList(out, records)
	return nil
}

func printReportList(out io.Writer, records []*store.ReportRecord) {
	if len(records) == 0 {
		fmt.Fprintf(out, "No reports found\n")
		return
	}

	fmt.Fprintf(out, "%-36s  %-19s  %-9s  %5s  %6s  %7s  %8s  %s\n",
		"FLOW", "STARTED", "STATUS", "STEPS", "FAILED", "RETRIED", "DURATION", "GOAL")
	for _, r := range records {
		fmt.Fprintf(out, "%-36s  %-19s  %-9s  %5d  %6d  %7d  %8s  %s\n",
			r.FlowID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Status,
			r.StepCount,
			r.FailedSteps,
			r.RetriedSteps,
			r.Duration.Round(time.Second),
			models.Truncate(firstLine(r.Goal), 60))
	}
}

func printReport(out io.Writer, report *models.ExecutionReport) {
	fmt.Fprintf(out, "Flow:      %s\n", report.FlowID)
	fmt.Fprintf(out, "Plan:      %s\n", report.PlanID)
	fmt.Fprintf(out, "Goal:      %s\n", report.Goal)
	fmt.Fprintf(out, "Status:    %s\n", report.Status)
	fmt.Fprintf(out, "Started:   %s\n", report.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "Duration:  %s\n", report.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "Retried:   %d step(s)\n", report.RetriedSteps)
	fmt.Fprintf(out, "\nSteps:\n")
	for _, s := range report.Steps {
		agentID := s.AgentID
		if agentID == "" {
			agentID = "-"
		}
		fmt.Fprintf(out, "  %d. [%s] %s (agent %s, %d attempt(s), %s)\n",
			s.Index+1, s.Status, firstLine(s.Description), agentID, s.Attempts, s.Duration.Round(time.Millisecond))
		if s.Result != "" {
			fmt.Fprintf(out, "     result: %s\n", firstLine(s.Result))
		}
		if s.Error != "" {
			fmt.Fprintf(out, "     error (%s): %s\n", s.ErrorKind, firstLine(s.Error))
		}
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
