package logger

import (
	"github.com/fatih/color"

	"github.com/harrison/ergon/internal/models"
)

// colorScheme keeps status colors consistent between step lines and summaries.
type colorScheme struct {
	success *color.Color
	fail    *color.Color
	warn    *color.Color
	label   *color.Color
	muted   *color.Color
	bold    *color.Color
}

func newColorScheme() *colorScheme {
	return &colorScheme{
		success: color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		label:   color.New(color.FgCyan),
		muted:   color.New(color.FgHiBlack),
		bold:    color.New(color.Bold),
	}
}

func (s *colorScheme) stepStatus(status models.StepStatus) *color.Color {
	switch status {
	case models.StepCompleted:
		return s.success
	case models.StepFailed:
		return s.fail
	case models.StepTimedOut:
		return s.warn
	case models.StepSkipped:
		return s.muted
	default:
		return s.label
	}
}

func (s *colorScheme) planStatus(status models.PlanStatus) *color.Color {
	switch status {
	case models.PlanCompleted:
		return s.success
	case models.PlanFailed:
		return s.fail
	case models.PlanAborted:
		return s.warn
	default:
		return s.label
	}
}

func levelColor(level string) *color.Color {
	switch level {
	case "TRACE":
		return color.New(color.FgHiBlack)
	case "DEBUG":
		return color.New(color.FgCyan)
	case "INFO":
		return color.New(color.FgBlue)
	case "WARN":
		return color.New(color.FgYellow)
	case "ERROR":
		return color.New(color.FgRed)
	default:
		return nil
	}
}
