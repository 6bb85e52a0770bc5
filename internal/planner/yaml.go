package planner

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/harrison/ergon/internal/models"
)

// YAMLParser parses plan files of the form:
//
//	goal: Send the weekly report
//	steps:
//	  - description: Collect the numbers
//	    capability: browser
//	  - description: Email the summary
//	    capability: mail
type YAMLParser struct{}

type yamlPlan struct {
	Goal  string            `yaml:"goal"`
	Steps []models.StepSpec `yaml:"steps"`
}

// NewYAMLParser creates a YAMLParser.
func NewYAMLParser() *YAMLParser {
	return &YAMLParser{}
}

// Parse reads a YAML plan.
func (p *YAMLParser) Parse(r io.Reader) (*models.Plan, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	var doc yamlPlan
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return buildPlan(doc.Goal, doc.Steps)
}
