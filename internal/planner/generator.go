package planner

import (
	"context"
	"strings"

	"github.com/harrison/ergon/internal/models"
)

// Generator produces a plan for a goal given the capabilities currently
// offered by the agent directory. It is called once per flow run and is
// never retried by the flow.
type Generator interface {
	GeneratePlan(ctx context.Context, goal string, capabilities []string) (*models.Plan, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, goal string, capabilities []string) (*models.Plan, error)

// GeneratePlan calls f.
func (f GeneratorFunc) GeneratePlan(ctx context.Context, goal string, capabilities []string) (*models.Plan, error) {
	return f(ctx, goal, capabilities)
}

// FileGenerator reads a pre-written plan file instead of planning.
// The goal passed to GeneratePlan replaces the file's goal when the file has none.
type FileGenerator struct {
	Path string
}

// NewFileGenerator creates a FileGenerator for path.
func NewFileGenerator(path string) *FileGenerator {
	return &FileGenerator{Path: path}
}

// GeneratePlan parses the plan file. Each call returns a fresh plan.
func (g *FileGenerator) GeneratePlan(ctx context.Context, goal string, _ []string) (*models.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	plan, err := ParseFile(g.Path)
	if err != nil {
		return nil, err
	}
	if plan.Goal == "" {
		plan.Goal = strings.TrimSpace(goal)
	}
	return plan, nil
}
