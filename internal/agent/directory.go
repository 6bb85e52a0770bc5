// Package agent provides the agent directory and the agent invocation boundary.
//
// A Directory is the read-only view of the available agent instances; it is
// queried once per routing decision so liveness changes pushed by the agent
// management side are picked up between attempts. An Invoker hands a step
// instruction to one agent and returns its textual result.
package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/harrison/ergon/internal/models"
)

// Directory lists agent instances with their capability and availability.
type Directory interface {
	ListAvailableAgents() ([]models.AgentDescriptor, error)
}

// Invoker executes an instruction on one agent.
// history carries the results of prior completed steps.
type Invoker interface {
	InvokeAgent(ctx context.Context, agentID, instruction, history string) (string, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, agentID, instruction, history string) (string, error)

// InvokeAgent calls f.
func (f InvokerFunc) InvokeAgent(ctx context.Context, agentID, instruction, history string) (string, error) {
	return f(ctx, agentID, instruction, history)
}

// StaticDirectory is an in-memory directory whose availability can be flipped at runtime.
type StaticDirectory struct {
	mu     sync.RWMutex
	agents map[string]models.AgentDescriptor
}

// NewStaticDirectory creates a directory from descriptors.
func NewStaticDirectory(agents ...models.AgentDescriptor) *StaticDirectory {
	d := &StaticDirectory{agents: make(map[string]models.AgentDescriptor, len(agents))}
	for _, a := range agents {
		d.agents[a.ID] = a
	}
	return d
}

// ListAvailableAgents returns a snapshot sorted by ID.
func (d *StaticDirectory) ListAvailableAgents() ([]models.AgentDescriptor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedSnapshot(d.agents), nil
}

// Put adds or replaces an agent.
func (d *StaticDirectory) Put(a models.AgentDescriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[a.ID] = a
}

// SetAvailable flips the availability flag of an agent.
func (d *StaticDirectory) SetAvailable(id string, available bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	a.Available = available
	d.agents[id] = a
	return nil
}

// Get returns the descriptor for id.
func (d *StaticDirectory) Get(id string) (models.AgentDescriptor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[id]
	return a, ok
}

func sortedSnapshot(agents map[string]models.AgentDescriptor) []models.AgentDescriptor {
	out := make([]models.AgentDescriptor, 0, len(agents))
	for _, a := range agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
