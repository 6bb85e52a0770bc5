// Package planner turns a goal into a plan, either by reading a plan file or
// by asking a language model.
package planner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harrison/ergon/internal/models"
)

// Parser reads a plan document and returns a plan in CREATED state.
type Parser interface {
	Parse(r io.Reader) (*models.Plan, error)
}

// Format names a plan file syntax. The zero value means unsupported.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatYAML     Format = "yaml"
)

var formatsByExt = map[string]Format{
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".yaml":     FormatYAML,
	".yml":      FormatYAML,
}

// DetectFormat maps a file extension to a plan format, case-insensitively.
func DetectFormat(filename string) Format {
	return formatsByExt[strings.ToLower(filepath.Ext(filename))]
}

// Supported reports whether filename has a plan file extension.
func Supported(filename string) bool {
	return DetectFormat(filename) != ""
}

// NewParser returns the parser for format.
func NewParser(format Format) (Parser, error) {
	switch format {
	case FormatMarkdown:
		return NewMarkdownParser(), nil
	case FormatYAML:
		return NewYAMLParser(), nil
	}
	return nil, fmt.Errorf("no parser for plan format %q", format)
}

func supportedExtensions() string {
	exts := make([]string, 0, len(formatsByExt))
	for ext := range formatsByExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return strings.Join(exts, ", ")
}

// ParseFile reads the plan at path. Plan.Source is set to its absolute path.
func ParseFile(path string) (*models.Plan, error) {
	parser, err := NewParser(DetectFormat(path))
	if err != nil {
		return nil, fmt.Errorf("%s: unsupported plan file (want one of %s)", path, supportedExtensions())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	plan, err := parser.Parse(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if abs, absErr := filepath.Abs(path); absErr == nil {
		plan.Source = abs
	} else {
		plan.Source = path
	}
	return plan, nil
}

// buildPlan validates parsed step specs and assembles the plan.
func buildPlan(goal string, specs []models.StepSpec) (*models.Plan, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}
	for i, spec := range specs {
		if strings.TrimSpace(spec.Description) == "" {
			return nil, fmt.Errorf("step %d: description is required", i+1)
		}
	}
	plan := models.NewPlan(strings.TrimSpace(goal), specs)
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}
