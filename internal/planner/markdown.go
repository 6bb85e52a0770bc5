package planner

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/harrison/ergon/internal/models"
)

var (
	stepHeadingRegex = regexp.MustCompile(`^Step\s+(\d+)\s*:\s*(.+)$`)
	capabilityRegex  = regexp.MustCompile(`(?i)^capability\s*:\s*(\S+)$`)
)

// MarkdownParser parses plan files of the form:
//
//	---
//	goal: Send the weekly report
//	---
//	# Weekly report
//
//	## Step 1: Collect the numbers
//	**Capability**: browser
//
//	Open the dashboard and export last week's totals.
//
//	## Step 2: Email the summary
//	**Capability**: mail
//
// The goal comes from the frontmatter, or else from the first level-1 heading.
// Paragraphs under a step heading other than the capability line are appended
// to the step description.
type MarkdownParser struct {
	markdown goldmark.Markdown
}

type markdownFrontmatter struct {
	Goal string `yaml:"goal"`
}

type numberedSpec struct {
	number int
	spec   models.StepSpec
	body   []string
}

// NewMarkdownParser creates a MarkdownParser.
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{markdown: goldmark.New()}
}

// Parse reads a Markdown plan.
func (p *MarkdownParser) Parse(r io.Reader) (*models.Plan, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	var front markdownFrontmatter
	content, frontmatter := extractFrontmatter(content)
	if frontmatter != nil {
		if err := yaml.Unmarshal(frontmatter, &front); err != nil {
			return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
		}
	}

	doc := p.markdown.Parser().Parse(text.NewReader(content))

	title, steps, err := extractSteps(doc, content)
	if err != nil {
		return nil, err
	}

	goal := front.Goal
	if goal == "" {
		goal = title
	}

	specs := make([]models.StepSpec, len(steps))
	for i, s := range steps {
		specs[i] = s.spec
		if len(s.body) > 0 {
			specs[i].Description = s.spec.Description + "\n\n" + strings.Join(s.body, "\n\n")
		}
	}
	return buildPlan(goal, specs)
}

// extractSteps walks the top-level blocks of the document.
func extractSteps(doc ast.Node, source []byte) (string, []numberedSpec, error) {
	var title string
	var steps []numberedSpec
	current := -1

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			headingText := strings.TrimSpace(extractText(node, source))
			if node.Level == 1 && title == "" {
				title = headingText
				continue
			}
			if node.Level != 2 {
				continue
			}
			matches := stepHeadingRegex.FindStringSubmatch(headingText)
			if matches == nil {
				current = -1
				continue
			}
			number, err := strconv.Atoi(matches[1])
			if err != nil {
				return "", nil, fmt.Errorf("invalid step number %q", matches[1])
			}
			steps = append(steps, numberedSpec{
				number: number,
				spec:   models.StepSpec{Description: strings.TrimSpace(matches[2])},
			})
			current = len(steps) - 1

		case *ast.Paragraph, *ast.List, *ast.FencedCodeBlock, *ast.Blockquote:
			if current < 0 {
				continue
			}
			raw := strings.TrimSpace(blockText(n, source))
			if _, isPara := n.(*ast.Paragraph); isPara {
				first, rest, _ := strings.Cut(raw, "\n")
				if capability, ok := parseCapabilityLine(first); ok {
					steps[current].spec.RequiredCapability = capability
					raw = strings.TrimSpace(rest)
				}
			}
			if raw != "" {
				steps[current].body = append(steps[current].body, raw)
			}
		}
	}

	seen := make(map[int]bool)
	for _, s := range steps {
		if seen[s.number] {
			return "", nil, fmt.Errorf("duplicate step number %d", s.number)
		}
		seen[s.number] = true
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].number < steps[j].number })

	return title, steps, nil
}

// parseCapabilityLine recognises "Capability: x" with optional emphasis markers.
func parseCapabilityLine(raw string) (string, bool) {
	plain := strings.NewReplacer("*", "", "_", "", "`", "").Replace(raw)
	matches := capabilityRegex.FindStringSubmatch(strings.TrimSpace(plain))
	if matches == nil {
		return "", false
	}
	return strings.ToLower(matches[1]), true
}

// extractText extracts plain text from an inline container such as a heading
func extractText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
			continue
		}
		buf.WriteString(extractText(c, source))
	}
	return buf.String()
}

// blockText returns the raw source lines of a block, recursing into container blocks.
func blockText(n ast.Node, source []byte) string {
	if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
		var buf bytes.Buffer
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(source))
		}
		return strings.TrimRight(buf.String(), "\n")
	}

	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t := blockText(c, source); t != "" {
			parts = append(parts, t)
		}
	}
	if _, ok := n.(*ast.ListItem); ok {
		return "- " + strings.Join(parts, " ")
	}
	return strings.Join(parts, "\n")
}

// extractFrontmatter splits YAML frontmatter from markdown content.
// Returns the remaining content and the frontmatter (nil when absent).
func extractFrontmatter(content []byte) ([]byte, []byte) {
	lines := strings.Split(string(content), "\n")
	if len(lines) < 3 || strings.TrimSpace(lines[0]) != "---" {
		return content, nil
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			front := []byte(strings.Join(lines[1:i], "\n"))
			rest := []byte(strings.Join(lines[i+1:], "\n"))
			return rest, front
		}
	}
	return content, nil
}
