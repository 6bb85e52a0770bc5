package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ergon/internal/models"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestNewFileLoggerCreatesRunLogAndSymlink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	fl, err := NewFileLogger(dir, "info")
	require.NoError(t, err)
	defer fl.Close()

	assert.FileExists(t, fl.RunFile())
	assert.True(t, strings.HasPrefix(filepath.Base(fl.RunFile()), "run-"))
	assert.DirExists(t, filepath.Join(dir, "steps"))

	target, err := os.Readlink(filepath.Join(dir, "latest.log"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(fl.RunFile()), target)

	assert.Contains(t, readFile(t, fl.RunFile()), "=== Ergon Run Log ===")
}

func TestNewFileLoggerReplacesStaleSymlink(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Symlink("run-old.log", filepath.Join(dir, "latest.log")))

	fl, err := NewFileLogger(dir, "info")
	require.NoError(t, err)
	defer fl.Close()

	target, err := os.Readlink(filepath.Join(dir, "latest.log"))
	require.NoError(t, err)
	assert.NotEqual(t, "run-old.log", target)
}

func TestNewFileLoggerInvalidDir(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(parent, []byte("x"), 0644))

	_, err := NewFileLogger(filepath.Join(parent, "logs"), "info")
	assert.Error(t, err)
}

func TestFileLoggerFlowEvents(t *testing.T) {
	fl, err := NewFileLogger(t.TempDir(), "info")
	require.NoError(t, err)

	plan := samplePlan()
	plan.Source = "plan.yaml"
	fl.LogFlowStart(testFlowID, plan)

	running := models.Step{Index: 0, RequiredCapability: "browser", AssignedAgentID: "web-1", Executions: 1}
	fl.LogStepStart(testFlowID, running)

	retrying := models.Step{Index: 0, RequiredCapability: "browser", Status: models.StepFailed, Attempt: 1}
	fl.LogStepRetry(testFlowID, retrying, errors.New("page not found"))
	fl.LogStepResult(testFlowID, finishedStep(0, models.StepCompleted))
	fl.Infof("note %d", 7)
	fl.Warnf("odd %s", "thing")
	require.NoError(t, fl.Close())

	out := readFile(t, fl.RunFile())
	assert.Contains(t, out, `flow `+testFlowID+` started: plan `+plan.ID+`, goal "count words", 2 steps (source: plan.yaml)`)
	assert.Contains(t, out, "    Step 1 (browser): fetch page")
	assert.Contains(t, out, "[INFO] [01234567] Step 1 (browser) started on web-1 (execution 1)")
	assert.Contains(t, out, "[WARN] [01234567] Step 1 (browser) FAILED, retry 1: page not found")
	assert.Contains(t, out, "[INFO] [01234567] Step 1 COMPLETED in 1s")
	assert.Contains(t, out, "[INFO] note 7")
	assert.Contains(t, out, "[WARN] odd thing")
}

func TestFileLoggerWritesStepDetail(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFileLogger(dir, "info")
	require.NoError(t, err)
	defer fl.Close()

	failed := finishedStep(1, models.StepFailed)
	failed.Description = "email the summary"
	failed.Attempt = 1
	failed.Executions = 2
	failed.Error.Retryable = true
	fl.LogStepResult(testFlowID, failed)

	detail := readFile(t, filepath.Join(dir, "steps", "01234567-step-2.log"))
	assert.Contains(t, detail, "=== Step 2 ===")
	assert.Contains(t, detail, "Flow: "+testFlowID)
	assert.Contains(t, detail, "Status: FAILED")
	assert.Contains(t, detail, "Agent: std-1")
	assert.Contains(t, detail, "Executions: 2")
	assert.Contains(t, detail, "Retries: 1")
	assert.Contains(t, detail, "Duration: 1.5s")
	assert.Contains(t, detail, "Instruction:\nemail the summary")
	assert.Contains(t, detail, "Error (agent, retryable=true):\nagent exploded")
	assert.NotContains(t, detail, "Result:")

	assert.Contains(t, readFile(t, fl.RunFile()), "[ERROR] [01234567] Step 2 FAILED")
}

func TestFileLoggerLevelFiltering(t *testing.T) {
	fl, err := NewFileLogger(t.TempDir(), "warn")
	require.NoError(t, err)

	fl.Infof("hidden")
	fl.Warnf("shown")
	fl.LogSummary(models.ExecutionReport{FlowID: testFlowID})
	require.NoError(t, fl.Close())

	out := readFile(t, fl.RunFile())
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.NotContains(t, out, "FLOW SUMMARY")
}

func TestFileLoggerSummary(t *testing.T) {
	fl, err := NewFileLogger(t.TempDir(), "info")
	require.NoError(t, err)

	fl.LogSummary(models.ExecutionReport{
		FlowID: testFlowID,
		PlanID: "plan-1",
		Status: models.PlanCompleted,
		Steps: []models.StepSummary{
			{Status: models.StepCompleted},
			{Status: models.StepCompleted},
		},
		RetriedSteps: 1,
	})
	require.NoError(t, fl.Close())

	out := readFile(t, fl.RunFile())
	assert.Contains(t, out, "=== FLOW SUMMARY ===")
	assert.Contains(t, out, "Plan:         plan-1")
	assert.Contains(t, out, "Status:       COMPLETED")
	assert.Contains(t, out, "Total steps:  2")
	assert.Contains(t, out, "Completed:    2")
	assert.Contains(t, out, "Retried:      1")
}

func TestFileLoggerCloseIsIdempotent(t *testing.T) {
	fl, err := NewFileLogger(t.TempDir(), "info")
	require.NoError(t, err)

	require.NoError(t, fl.Close())
	require.NoError(t, fl.Close())
	assert.NotPanics(t, func() { fl.Infof("after close") })
}
