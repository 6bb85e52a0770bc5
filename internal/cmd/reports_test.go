package cmd

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ergon/internal/models"
	"github.com/harrison/ergon/internal/store"
)

// seedReports stores one report per status, one minute apart, oldest first.
func seedReports(t *testing.T, root string) {
	t.Helper()
	db, err := store.Open(filepath.Join(root, ".ergon", "reports.db"))
	require.NoError(t, err)
	defer db.Close()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	reports := []*models.ExecutionReport{
		{
			FlowID: "flow-ok", PlanID: "plan-a", Goal: "send the weekly report", Status: models.PlanCompleted,
			StartedAt: base, CompletedAt: base.Add(3 * time.Second), Duration: 3 * time.Second,
			Steps: []models.StepSummary{
				{Index: 0, Description: "collect numbers", AgentID: "web-1", Status: models.StepCompleted, Attempts: 1, Result: "42"},
			},
		},
		{
			FlowID: "flow-bad", PlanID: "plan-b", Goal: "book a flight", Status: models.PlanFailed,
			StartedAt: base.Add(time.Minute), CompletedAt: base.Add(time.Minute), RetriedSteps: 1,
			Steps: []models.StepSummary{
				{Index: 0, Description: "search flights", Status: models.StepFailed, Attempts: 0,
					Error: "no available agent", ErrorKind: models.ErrorKindRouting},
				{Index: 1, Description: "pay", Status: models.StepSkipped},
			},
		},
	}
	for _, r := range reports {
		require.NoError(t, db.SaveReport(context.Background(), r))
	}
}

func TestReportsCommandNoStore(t *testing.T) {
	newProject(t)

	out, err := executeCommand(t, "reports")
	require.NoError(t, err)
	assert.Contains(t, out, "No reports found")
}

func TestReportsCommandList(t *testing.T) {
	root := newProject(t)
	seedReports(t, root)

	out, err := executeCommand(t, "reports")
	require.NoError(t, err)

	assert.Contains(t, out, "FLOW")
	okIdx := strings.Index(out, "flow-ok")
	badIdx := strings.Index(out, "flow-bad")
	require.NotEqual(t, -1, okIdx)
	require.NotEqual(t, -1, badIdx)
	assert.Less(t, badIdx, okIdx, "most recent report first")
	assert.Contains(t, out, "book a flight")
}

func TestReportsCommandFilters(t *testing.T) {
	root := newProject(t)
	seedReports(t, root)

	tests := []struct {
		name    string
		args    []string
		want    string
		notWant string
	}{
		{"plan id", []string{"reports", "--plan-id", "plan-a"}, "flow-ok", "flow-bad"},
		{"status", []string{"reports", "--status", "FAILED"}, "flow-bad", "flow-ok"},
		{"limit", []string{"reports", "--limit", "1"}, "flow-bad", "flow-ok"},
		{"no match", []string{"reports", "--plan-id", "nope"}, "No reports found", "flow-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeCommand(t, tt.args...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
			assert.NotContains(t, out, tt.notWant)
		})
	}
}

func TestReportsCommandShowReport(t *testing.T) {
	root := newProject(t)
	seedReports(t, root)

	out, err := executeCommand(t, "reports", "flow-bad")
	require.NoError(t, err)

	assert.Contains(t, out, "Status:    FAILED")
	assert.Contains(t, out, "1. [FAILED] search flights (agent -, 0 attempt(s)")
	assert.Contains(t, out, "error (routing): no available agent")
	assert.Contains(t, out, "2. [SKIPPED] pay")
}

func TestReportsCommandShowJSON(t *testing.T) {
	root := newProject(t)
	seedReports(t, root)

	out, err := executeCommand(t, "reports", "flow-ok", "--json")
	require.NoError(t, err)

	var report models.ExecutionReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "flow-ok", report.FlowID)
	assert.Equal(t, models.PlanCompleted, report.Status)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, "42", report.Steps[0].Result)
}

func TestReportsCommandUnknownFlow(t *testing.T) {
	root := newProject(t)
	seedReports(t, root)

	_, err := executeCommand(t, "reports", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no report for flow missing")
}
