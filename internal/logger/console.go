// Package logger provides the console and file sinks for flow progress.
//
// Both loggers implement the flow controller's Logger interface and are safe
// for concurrent use, since several flows may log through the same instance.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/harrison/ergon/internal/models"
)

// ConsoleLogger writes "[HH:MM:SS] [LEVEL] message" lines to a writer.
// Color is enabled for terminals unless NO_COLOR is set.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
	scheme      *colorScheme
	flows       map[string]*flowCounter
}

type flowCounter struct {
	total int
	done  int
}

// NewConsoleLogger creates a ConsoleLogger. A nil writer discards everything.
// Unknown levels default to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
		scheme:      newColorScheme(),
		flows:       make(map[string]*flowCounter),
	}
}

// isTerminal reports whether w is a color-capable terminal.
func isTerminal(w io.Writer) bool {
	if w == nil || color.NoColor {
		return false
	}
	if w == os.Stdout || w == os.Stderr {
		return true
	}
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// SetColor forces color output on or off.
func (cl *ConsoleLogger) SetColor(enabled bool) {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	cl.colorOutput = enabled
}

// LogTrace logs a trace-level message (most verbose).
func (cl *ConsoleLogger) LogTrace(message string) { cl.logWithLevel("TRACE", message) }

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) { cl.logWithLevel("DEBUG", message) }

// LogInfo logs an info-level message.
func (cl *ConsoleLogger) LogInfo(message string) { cl.logWithLevel("INFO", message) }

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) { cl.logWithLevel("WARN", message) }

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) { cl.logWithLevel("ERROR", message) }

// Warnf formats and logs a warning.
func (cl *ConsoleLogger) Warnf(format string, args ...interface{}) {
	cl.logWithLevel("WARN", fmt.Sprintf(format, args...))
}

// Infof formats and logs an info message.
func (cl *ConsoleLogger) Infof(format string, args ...interface{}) {
	cl.logWithLevel("INFO", fmt.Sprintf(format, args...))
}

// Debugf formats and logs a debug message.
func (cl *ConsoleLogger) Debugf(format string, args ...interface{}) {
	cl.logWithLevel("DEBUG", fmt.Sprintf(format, args...))
}

func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil || !enabled(cl.logLevel, level) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	cl.writeLine(level, message)
}

// writeLine must be called with the mutex held.
func (cl *ConsoleLogger) writeLine(level, message string) {
	label := level
	if cl.colorOutput {
		if c := levelColor(level); c != nil {
			label = c.Sprint(level)
		}
	}
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", timestamp(), label, message)
}

func (cl *ConsoleLogger) paint(c *color.Color, s string) string {
	if !cl.colorOutput || c == nil {
		return s
	}
	return c.Sprint(s)
}

// LogFlowStart announces a plan and, at debug level, lists its steps.
func (cl *ConsoleLogger) LogFlowStart(flowID string, plan *models.Plan) {
	if cl.writer == nil || plan == nil {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	cl.flows[flowID] = &flowCounter{total: len(plan.Steps)}
	if !enabled(cl.logLevel, "INFO") {
		return
	}

	cl.writeLine("INFO", fmt.Sprintf("[%s] %s %q (%d steps)",
		shortID(flowID), cl.paint(cl.scheme.bold, "Starting flow"), plan.Goal, len(plan.Steps)))
	if enabled(cl.logLevel, "DEBUG") {
		for _, step := range plan.Steps {
			cl.writeLine("DEBUG", fmt.Sprintf("[%s]   %s: %s", shortID(flowID), step.DisplayName(), firstLine(step.Description)))
		}
	}
}

// LogStepStart logs which agent picked up a step.
func (cl *ConsoleLogger) LogStepStart(flowID string, step models.Step) {
	if cl.writer == nil || !enabled(cl.logLevel, "INFO") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	attempt := ""
	if step.Executions > 1 {
		attempt = fmt.Sprintf(" (attempt %d)", step.Executions)
	}
	cl.writeLine("INFO", fmt.Sprintf("[%s] %s -> %s%s: %s",
		shortID(flowID), cl.paint(cl.scheme.label, step.DisplayName()), step.AssignedAgentID, attempt, firstLine(step.Description)))
}

// LogStepRetry logs a failed attempt that will be retried.
func (cl *ConsoleLogger) LogStepRetry(flowID string, step models.Step, err error) {
	if cl.writer == nil || !enabled(cl.logLevel, "WARN") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	cl.writeLine("WARN", fmt.Sprintf("[%s] %s %s, retry %d: %s",
		shortID(flowID), step.DisplayName(), cl.paint(cl.scheme.stepStatus(step.Status), string(step.Status)), step.Attempt, reason))
}

// LogStepResult logs a step reaching a terminal status, followed by a progress bar.
func (cl *ConsoleLogger) LogStepResult(flowID string, step models.Step) {
	if cl.writer == nil {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	counter := cl.flows[flowID]
	if counter != nil {
		counter.done++
	}

	level := "INFO"
	if step.Status == models.StepFailed {
		level = "ERROR"
	}
	if !enabled(cl.logLevel, level) {
		return
	}

	line := fmt.Sprintf("[%s] %s: %s (%s)",
		shortID(flowID), step.DisplayName(), cl.paint(cl.scheme.stepStatus(step.Status), string(step.Status)), formatDuration(step.Duration()))
	if step.Error != nil && step.Status != models.StepCompleted {
		line += " - " + step.Error.Message
	}
	cl.writeLine(level, line)

	if counter != nil && enabled(cl.logLevel, "INFO") {
		bar := NewProgressBar(counter.done, counter.total, 10, cl.colorOutput)
		cl.writeLine("INFO", fmt.Sprintf("[%s] Progress: %s", shortID(flowID), bar.Render()))
	}
}

// LogSummary prints the execution report.
func (cl *ConsoleLogger) LogSummary(report models.ExecutionReport) {
	if cl.writer == nil {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	delete(cl.flows, report.FlowID)
	if !enabled(cl.logLevel, "INFO") {
		return
	}

	ts := timestamp()
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", ts, cl.paint(cl.scheme.bold, "=== Flow Summary ==="))
	fmt.Fprintf(&b, "[%s] Flow: %s\n", ts, report.FlowID)
	fmt.Fprintf(&b, "[%s] Goal: %s\n", ts, firstLine(report.Goal))
	fmt.Fprintf(&b, "[%s] Status: %s\n", ts, cl.paint(cl.scheme.planStatus(report.Status), string(report.Status)))
	fmt.Fprintf(&b, "[%s] Steps: %d total, %s, %s, %d timed out, %d skipped\n", ts,
		len(report.Steps),
		cl.paint(cl.scheme.success, fmt.Sprintf("%d completed", report.CountByStatus(models.StepCompleted))),
		cl.paint(failColor(cl.scheme, report.CountByStatus(models.StepFailed)), fmt.Sprintf("%d failed", report.CountByStatus(models.StepFailed))),
		report.CountByStatus(models.StepTimedOut),
		report.CountByStatus(models.StepSkipped))
	if report.RetriedSteps > 0 {
		fmt.Fprintf(&b, "[%s] Retried steps: %d\n", ts, report.RetriedSteps)
	}
	fmt.Fprintf(&b, "[%s] Duration: %s\n", ts, formatDuration(report.Duration))

	for _, s := range report.Steps {
		if s.Status == models.StepFailed || s.Status == models.StepTimedOut {
			fmt.Fprintf(&b, "[%s]   - Step %d: %s %s\n", ts, s.Index+1,
				cl.paint(cl.scheme.stepStatus(s.Status), string(s.Status)), s.Error)
		}
	}

	io.WriteString(cl.writer, b.String())
}

func failColor(s *colorScheme, failed int) *color.Color {
	if failed > 0 {
		return s.fail
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// NoOpLogger discards all flow events.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) LogFlowStart(string, *models.Plan) {}
func (n *NoOpLogger) LogStepStart(string, models.Step) {}
func (n *NoOpLogger) LogStepRetry(string, models.Step, error) {}
func (n *NoOpLogger) LogStepResult(string, models.Step) {}
func (n *NoOpLogger) LogSummary(models.ExecutionReport) {}
func (n *NoOpLogger) Warnf(string, ...interface{}) {}
func (n *NoOpLogger) Infof(string, ...interface{}) {}
