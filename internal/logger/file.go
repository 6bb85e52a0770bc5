package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/ergon/internal/models"
)

// FileLogger writes flow events to a timestamped run log under logDir and
// one detail file per finished step under logDir/steps. latest.log always
// points at the newest run log.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	stepsDir string
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger creates the log directory, opens run-YYYYMMDD-HHMMSS.log and
// updates the latest.log symlink.
func NewFileLogger(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	stepsDir := filepath.Join(logDir, "steps")
	if err := os.MkdirAll(stepsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create steps directory: %w", err)
	}

	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", time.Now().Format("20060102-150405")))
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	fl := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		stepsDir: stepsDir,
		logLevel: normalizeLogLevel(logLevel),
	}
	fl.writeRunLog("=== Ergon Run Log ===\n")
	fl.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))
	return fl, nil
}

// RunFile returns the path of the current run log.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

func (fl *FileLogger) logWithLevel(level string, message string) {
	if !enabled(fl.logLevel, level) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), level, message))
}

// Warnf formats and logs a warning.
func (fl *FileLogger) Warnf(format string, args ...interface{}) {
	fl.logWithLevel("WARN", fmt.Sprintf(format, args...))
}

// Infof formats and logs an info message.
func (fl *FileLogger) Infof(format string, args ...interface{}) {
	fl.logWithLevel("INFO", fmt.Sprintf(format, args...))
}

// LogFlowStart records the plan with every step.
func (fl *FileLogger) LogFlowStart(flowID string, plan *models.Plan) {
	if plan == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "flow %s started: plan %s, goal %q, %d steps", flowID, plan.ID, plan.Goal, len(plan.Steps))
	if plan.Source != "" {
		fmt.Fprintf(&b, " (source: %s)", plan.Source)
	}
	for _, step := range plan.Steps {
		fmt.Fprintf(&b, "\n    %s: %s", step.DisplayName(), firstLine(step.Description))
	}
	fl.logWithLevel("INFO", b.String())
}

// LogStepStart records an attempt being handed to an agent.
func (fl *FileLogger) LogStepStart(flowID string, step models.Step) {
	fl.logWithLevel("INFO", fmt.Sprintf("[%s] %s started on %s (execution %d)",
		shortID(flowID), step.DisplayName(), step.AssignedAgentID, step.Executions))
}

// LogStepRetry records a failed attempt that will be retried.
func (fl *FileLogger) LogStepRetry(flowID string, step models.Step, err error) {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	fl.logWithLevel("WARN", fmt.Sprintf("[%s] %s %s, retry %d: %s",
		shortID(flowID), step.DisplayName(), step.Status, step.Attempt, reason))
}

// LogStepResult records the terminal status and writes the step detail file.
func (fl *FileLogger) LogStepResult(flowID string, step models.Step) {
	level := "INFO"
	if step.Status == models.StepFailed {
		level = "ERROR"
	}
	fl.logWithLevel(level, fmt.Sprintf("[%s] %s %s in %s", shortID(flowID), step.DisplayName(), step.Status, formatDuration(step.Duration())))

	if err := fl.writeStepLog(flowID, step); err != nil {
		fl.logWithLevel("WARN", err.Error())
	}
}

func (fl *FileLogger) writeStepLog(flowID string, step models.Step) error {
	path := filepath.Join(fl.stepsDir, fmt.Sprintf("%s-step-%d.log", shortID(flowID), step.Index+1))

	var b strings.Builder
	fmt.Fprintf(&b, "=== %s ===\n", step.DisplayName())
	fmt.Fprintf(&b, "Flow: %s\n", flowID)
	fmt.Fprintf(&b, "Status: %s\n", step.Status)
	fmt.Fprintf(&b, "Agent: %s\n", step.AssignedAgentID)
	fmt.Fprintf(&b, "Executions: %d\n", step.Executions)
	fmt.Fprintf(&b, "Retries: %d\n", step.Attempt)
	fmt.Fprintf(&b, "Duration: %.1fs\n\n", step.Duration().Seconds())
	fmt.Fprintf(&b, "Instruction:\n%s\n\n", step.Description)
	if step.Result != "" {
		fmt.Fprintf(&b, "Result:\n%s\n\n", step.Result)
	}
	if step.Error != nil {
		fmt.Fprintf(&b, "Error (%s, retryable=%v):\n%s\n\n", step.Error.Kind, step.Error.Retryable, step.Error.Message)
	}
	fmt.Fprintf(&b, "Completed at: %s\n", time.Now().Format(time.RFC3339))

	fl.mu.Lock()
	defer fl.mu.Unlock()
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write step log: %w", err)
	}
	return nil
}

// LogSummary appends the report summary to the run log.
func (fl *FileLogger) LogSummary(report models.ExecutionReport) {
	if !enabled(fl.logLevel, "INFO") {
		return
	}

	ts := timestamp()
	var b strings.Builder
	fmt.Fprintf(&b, "\n[%s] === FLOW SUMMARY ===\n", ts)
	fmt.Fprintf(&b, "[%s] Flow:         %s\n", ts, report.FlowID)
	fmt.Fprintf(&b, "[%s] Plan:         %s\n", ts, report.PlanID)
	fmt.Fprintf(&b, "[%s] Status:       %s\n", ts, report.Status)
	fmt.Fprintf(&b, "[%s] Total steps:  %d\n", ts, len(report.Steps))
	fmt.Fprintf(&b, "[%s] Completed:    %d\n", ts, report.CountByStatus(models.StepCompleted))
	fmt.Fprintf(&b, "[%s] Failed:       %d\n", ts, report.CountByStatus(models.StepFailed))
	fmt.Fprintf(&b, "[%s] Timed out:    %d\n", ts, report.CountByStatus(models.StepTimedOut))
	fmt.Fprintf(&b, "[%s] Skipped:      %d\n", ts, report.CountByStatus(models.StepSkipped))
	fmt.Fprintf(&b, "[%s] Retried:      %d\n", ts, report.RetriedSteps)
	fmt.Fprintf(&b, "[%s] Total time:   %.1fs\n", ts, report.Duration.Seconds())
	fmt.Fprintf(&b, "[%s] Completed at: %s\n", ts, report.CompletedAt.Format(time.RFC3339))
	fl.writeRunLog(b.String())
}

// Close flushes and closes the run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}
	return nil
}

func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		fl.runLog.Sync()
	}
}
