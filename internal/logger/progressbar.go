package logger

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// ProgressBar renders "[====      ] 2/5 (40%)" for a step count.
// It is a value type; callers build one per render.
type ProgressBar struct {
	Done  int
	Total int
	Width int
	Color bool
}

// NewProgressBar creates a bar; widths below 1 fall back to 10.
func NewProgressBar(done, total, width int, enableColor bool) ProgressBar {
	if width < 1 {
		width = 10
	}
	return ProgressBar{Done: done, Total: total, Width: width, Color: enableColor}
}

// Percentage returns the completion percentage clamped to 0-100.
func (pb ProgressBar) Percentage() int {
	if pb.Total <= 0 {
		return 0
	}
	perc := (pb.Done * 100) / pb.Total
	if perc > 100 {
		return 100
	}
	if perc < 0 {
		return 0
	}
	return perc
}

// Render returns the bar text, cyan while running and green when full.
func (pb ProgressBar) Render() string {
	perc := pb.Percentage()
	filled := (perc * pb.Width) / 100

	text := fmt.Sprintf("[%s%s] %d/%d (%d%%)",
		strings.Repeat("=", filled), strings.Repeat(" ", pb.Width-filled), pb.Done, pb.Total, perc)

	if !pb.Color {
		return text
	}
	if perc == 100 {
		return color.New(color.FgGreen).Sprint(text)
	}
	return color.New(color.FgCyan).Sprint(text)
}
