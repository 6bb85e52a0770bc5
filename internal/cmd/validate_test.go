package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ergon/internal/agent"
	"github.com/harrison/ergon/internal/models"
)

const markdownPlan = `---
goal: Send the weekly report
---

## Step 1: Collect the numbers
**Capability**: browser

Open the dashboard and copy this week's totals.

## Step 2: Email the summary
**Capability**: mail

Send the totals to the team.
`

func testDirectory() agent.Directory {
	return agent.NewStaticDirectory(
		models.AgentDescriptor{ID: "std-1", CapabilityTag: "standard", Available: true},
		models.AgentDescriptor{ID: "mail-1", CapabilityTag: "mail", Available: true},
		models.AgentDescriptor{ID: "web-1", CapabilityTag: "browser", Available: false},
	)
}

func TestValidatePlansSingleFile(t *testing.T) {
	path := writePlanFile(t, t.TempDir(), "plan.yaml", twoStepPlan)

	var buf bytes.Buffer
	err := validatePlans([]string{path}, testDirectory(), 0, &buf)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "✓ "+path+": 2 step(s)")
	assert.Contains(t, buf.String(), "All 1 plan file(s) are valid.")
	assert.NotContains(t, buf.String(), "⚠")
}

func TestValidatePlansWarnings(t *testing.T) {
	path := writePlanFile(t, t.TempDir(), "plan-weekly.md", markdownPlan)

	var buf bytes.Buffer
	err := validatePlans([]string{path}, testDirectory(), 1, &buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "no available agent offers capability: browser")
	assert.NotContains(t, out, "capability: browser, mail")
	assert.Contains(t, out, "plan has 2 steps, more than max_steps (1)")
}

func TestValidatePlansNoAgents(t *testing.T) {
	path := writePlanFile(t, t.TempDir(), "plan.yaml", twoStepPlan)

	var buf bytes.Buffer
	require.NoError(t, validatePlans([]string{path}, agent.NewStaticDirectory(), 0, &buf))
	assert.Contains(t, buf.String(), "no agents are available to run this plan")
}

func TestValidatePlansDirectory(t *testing.T) {
	dir := t.TempDir()
	writePlanFile(t, dir, "plan-b.yaml", twoStepPlan)
	writePlanFile(t, dir, "plan-a.md", markdownPlan)
	writePlanFile(t, dir, "notes.md", "# not a plan")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))
	writePlanFile(t, filepath.Join(dir, "nested"), "plan-c.yml", twoStepPlan)

	var buf bytes.Buffer
	require.NoError(t, validatePlans([]string{dir}, testDirectory(), 0, &buf))

	out := buf.String()
	assert.Contains(t, out, "All 3 plan file(s) are valid.")
	assert.NotContains(t, out, "notes.md")
}

func TestValidatePlansInvalidFile(t *testing.T) {
	dir := t.TempDir()
	good := writePlanFile(t, dir, "good.yaml", twoStepPlan)
	empty := writePlanFile(t, dir, "empty.yaml", "goal: nothing\nsteps: []\n")
	broken := writePlanFile(t, dir, "broken.yaml", "steps: [unclosed\n")

	var buf bytes.Buffer
	err := validatePlans([]string{good, empty, broken}, testDirectory(), 0, &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 plan file(s) failed validation")

	out := buf.String()
	assert.Contains(t, out, "✓ "+good)
	assert.Contains(t, out, "✗ "+empty)
	assert.Contains(t, out, "✗ "+broken)
}

func TestCollectPlanFiles(t *testing.T) {
	dir := t.TempDir()
	a := writePlanFile(t, dir, "plan-a.yaml", twoStepPlan)

	files, err := collectPlanFiles([]string{a, dir})
	require.NoError(t, err)
	assert.Equal(t, []string{a}, files)

	_, err = collectPlanFiles([]string{filepath.Join(dir, "missing.yaml")})
	assert.Error(t, err)

	_, err = collectPlanFiles([]string{t.TempDir()})
	assert.ErrorContains(t, err, "no plan-* files")
}

func TestIsPlanFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"plan-01.md", true},
		{"plan-api.yaml", true},
		{"plan-x.YML", true},
		{"plan-x.markdown", true},
		{"plan.md", false},
		{"plan-x.txt", false},
		{"readme.md", false},
	}
	for _, tt := range tests {
		if got := isPlanFile(tt.name); got != tt.want {
			t.Errorf("isPlanFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	root := newProject(t)
	writeAgentFile(t, root, "std-1", "standard", "cat")
	path := writePlanFile(t, t.TempDir(), "plan.yaml", twoStepPlan)

	out, err := executeCommand(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "2 step(s)")
}
