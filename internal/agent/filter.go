package agent

import (
	"fmt"
	"strings"

	"github.com/harrison/ergon/internal/models"
)

// Selection restricts a Directory to a fixed set of agent IDs.
// Availability still comes from the underlying directory on every call.
type Selection struct {
	base Directory
	ids  map[string]bool
}

// Select resolves names against the current contents of dir.
// Each name is matched by exact ID, then exact name (case-insensitive),
// then as a case-insensitive substring of the name. An empty names list
// selects every agent.
func Select(dir Directory, names []string) (Directory, error) {
	if len(names) == 0 {
		return dir, nil
	}

	agents, err := dir.ListAvailableAgents()
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	ids := make(map[string]bool)
	for _, name := range names {
		a, ok := resolve(agents, name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
		}
		ids[a.ID] = true
	}

	return &Selection{base: dir, ids: ids}, nil
}

// ListAvailableAgents returns the selected agents from a fresh snapshot.
func (s *Selection) ListAvailableAgents() ([]models.AgentDescriptor, error) {
	agents, err := s.base.ListAvailableAgents()
	if err != nil {
		return nil, err
	}
	out := make([]models.AgentDescriptor, 0, len(s.ids))
	for _, a := range agents {
		if s.ids[a.ID] {
			out = append(out, a)
		}
	}
	return out, nil
}

func resolve(agents []models.AgentDescriptor, name string) (models.AgentDescriptor, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.AgentDescriptor{}, false
	}

	for _, a := range agents {
		if a.ID == name {
			return a, true
		}
	}
	for _, a := range agents {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	lower := strings.ToLower(name)
	for _, a := range agents {
		if strings.Contains(strings.ToLower(a.Name), lower) {
			return a, true
		}
	}
	return models.AgentDescriptor{}, false
}
