package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/harrison/ergon/internal/models"
)

// Definition is an agent declared in a markdown file with YAML frontmatter.
type Definition struct {
	ID          string      `yaml:"id" json:"id"`
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description" json:"description"`
	Capability  string      `yaml:"capability" json:"capability"`
	Available   *bool       `yaml:"available" json:"available,omitempty"` // nil means available
	Command     CommandLine `yaml:"command" json:"command,omitempty"`     // empty = LLM-backed agent
	Model       string      `yaml:"model" json:"model,omitempty"`
	Prompt      string      `yaml:"-" json:"-"` // Markdown body, used as the system prompt
	FilePath    string      `yaml:"-" json:"-"`
}

// Descriptor converts the definition into the router's view.
func (d *Definition) Descriptor() models.AgentDescriptor {
	available := true
	if d.Available != nil {
		available = *d.Available
	}
	capability := d.Capability
	if capability == "" {
		capability = models.StandardCapability
	}
	return models.AgentDescriptor{
		ID:            d.ID,
		Name:          d.Name,
		CapabilityTag: strings.ToLower(capability),
		Available:     available,
	}
}

// CommandLine handles both a single shell-like string and a YAML array
// for the command field in agent frontmatter.
type CommandLine []string

// UnmarshalYAML accepts:
// - String: "./agents/mail.sh --json"
// - YAML array: [./agents/mail.sh, --json]
func (c *CommandLine) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err == nil {
		*c = CommandLine(strings.Fields(str))
		return nil
	}

	var arr []string
	if err := value.Decode(&arr); err == nil {
		*c = CommandLine(arr)
		return nil
	}

	return fmt.Errorf("command must be either a string or an array")
}

// Registry is a Directory backed by agent definition files.
type Registry struct {
	AgentsDir string

	mu     sync.RWMutex
	agents map[string]*Definition
}

// NewRegistry creates a new agent registry.
// If agentsDir is empty, uses .ergon/agents as default.
func NewRegistry(agentsDir string) *Registry {
	if agentsDir == "" {
		agentsDir = filepath.Join(".ergon", "agents")
	}

	return &Registry{
		AgentsDir: agentsDir,
		agents:    make(map[string]*Definition),
	}
}

// Discover scans the agents directory and replaces the registry contents.
// Returns an empty map (not an error) if the directory doesn't exist.
//
// Root-level .md files and numbered category directories (01-*, 02-*, ...)
// are scanned; examples/, logs/ and README.md files are skipped.
// Files that fail to parse are reported on stderr and skipped.
func (r *Registry) Discover() (map[string]*Definition, error) {
	found := make(map[string]*Definition)

	if _, err := os.Stat(r.AgentsDir); os.IsNotExist(err) {
		r.replace(found)
		return found, nil
	}

	err := filepath.Walk(r.AgentsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if path == r.AgentsDir {
				return nil
			}
			relPath, err := filepath.Rel(r.AgentsDir, path)
			if err != nil {
				return err
			}
			dirName := strings.Split(relPath, string(filepath.Separator))[0]
			if dirName == "examples" || dirName == "logs" {
				return filepath.SkipDir
			}
			if len(dirName) >= 3 && dirName[0] >= '0' && dirName[0] <= '9' && dirName[1] >= '0' && dirName[1] <= '9' && dirName[2] == '-' {
				return nil
			}
			return filepath.SkipDir
		}

		if !strings.HasSuffix(path, ".md") || filepath.Base(path) == "README.md" {
			return nil
		}

		def, err := parseAgentFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse %s: %v\n", path, err)
			return nil
		}
		if existing, dup := found[def.ID]; dup {
			fmt.Fprintf(os.Stderr, "Warning: duplicate agent id %q in %s (already defined in %s)\n", def.ID, path, existing.FilePath)
			return nil
		}

		found[def.ID] = def
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.replace(found)
	return found, nil
}

func (r *Registry) replace(agents map[string]*Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = agents
}

// ListAvailableAgents returns descriptors for every known agent, sorted by ID.
func (r *Registry) ListAvailableAgents() ([]models.AgentDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.AgentDescriptor, 0, len(r.agents))
	for _, def := range r.agents {
		out = append(out, def.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get retrieves an agent definition by ID.
func (r *Registry) Get(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.agents[id]
	return def, ok
}

// List returns all definitions sorted by ID.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.agents))
	for _, def := range r.agents {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetAvailable overrides the availability of an agent until the next Discover.
func (r *Registry) SetAvailable(id string, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	cp := *def
	cp.Available = &available
	r.agents[id] = &cp
	return nil
}

// parseAgentFile parses a single agent file.
func parseAgentFile(path string) (*Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	frontmatter, body := extractFrontmatter(content)
	if frontmatter == nil {
		return nil, fmt.Errorf("no frontmatter found in %s", path)
	}

	var def Definition
	if err := yaml.Unmarshal(frontmatter, &def); err != nil {
		return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
	}

	if def.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if def.ID == "" {
		def.ID = def.Name
	}
	def.Prompt = strings.TrimSpace(string(body))
	def.FilePath = path

	return &def, nil
}

// extractFrontmatter extracts YAML frontmatter from markdown content.
// Returns the frontmatter and the remaining body.
func extractFrontmatter(content []byte) ([]byte, []byte) {
	lines := strings.Split(string(content), "\n")
	if len(lines) < 3 || strings.TrimSpace(lines[0]) != "---" {
		return nil, content
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			frontmatter := []byte(strings.Join(lines[1:i], "\n"))
			body := []byte(strings.Join(lines[i+1:], "\n"))
			return frontmatter, body
		}
	}

	return nil, content
}
