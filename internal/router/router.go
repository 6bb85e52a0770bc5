// Package router selects the agent that runs a step.
//
// Routing is deterministic: given the same directory snapshot and the same
// assignment history, Route always returns the same agent. A Router holds the
// least-recently-used bookkeeping of exactly one flow and must not be shared
// between flows.
package router

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/harrison/ergon/internal/models"
)

// Reason explains why routing failed.
type Reason string

// NoAgentAvailable means no available agent matched the capability or the fallback.
const NoAgentAvailable Reason = "NoAgentAvailable"

// ErrNoAgentAvailable is matched by every RoutingError through errors.Is.
var ErrNoAgentAvailable = errors.New("no agent available")

// RoutingError is returned when no agent can take a step.
type RoutingError struct {
	Reason     Reason
	Capability string
}

func (e *RoutingError) Error() string {
	if e.Capability == "" {
		return fmt.Sprintf("routing failed (%s): no available agent", e.Reason)
	}
	return fmt.Sprintf("routing failed (%s): no available agent for capability %q or %q fallback",
		e.Reason, e.Capability, models.StandardCapability)
}

// Is makes errors.Is(err, ErrNoAgentAvailable) work for any RoutingError.
func (e *RoutingError) Is(target error) bool {
	return target == ErrNoAgentAvailable && e.Reason == NoAgentAvailable
}

// Router maps a step's required capability to one available agent.
type Router struct {
	mu       sync.Mutex
	lastUsed map[string]uint64 // agent ID -> assignment sequence number
	seq      uint64
}

// New creates a router with empty assignment history.
func New() *Router {
	return &Router{lastUsed: make(map[string]uint64)}
}

// Route picks an agent for requiredCapability from snapshot.
//
//  1. only available agents are considered
//  2. if a capability is required, the tag must match (case-insensitive)
//  3. with a required capability and no match, "standard" agents are used
//  4. otherwise a *RoutingError is returned
//  5. ties go to the least recently assigned agent, then the lowest ID
func (r *Router) Route(requiredCapability string, snapshot []models.AgentDescriptor) (models.AgentDescriptor, error) {
	capability := strings.TrimSpace(requiredCapability)

	var available []models.AgentDescriptor
	for _, a := range snapshot {
		if a.Available {
			available = append(available, a)
		}
	}

	candidates := available
	if capability != "" {
		candidates = filterByCapability(available, capability)
		if len(candidates) == 0 {
			candidates = filterByCapability(available, models.StandardCapability)
		}
	}

	if len(candidates) == 0 {
		return models.AgentDescriptor{}, &RoutingError{Reason: NoAgentAvailable, Capability: capability}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		ui, uj := r.lastUsed[candidates[i].ID], r.lastUsed[candidates[j].ID]
		if ui != uj {
			return ui < uj
		}
		return candidates[i].ID < candidates[j].ID
	})

	return candidates[0], nil
}

// Record marks agentID as the most recently assigned agent.
func (r *Router) Record(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.lastUsed[agentID] = r.seq
}

// LastUsed returns the assignment sequence number of agentID (0 if never assigned).
func (r *Router) LastUsed(agentID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUsed[agentID]
}

func filterByCapability(agents []models.AgentDescriptor, capability string) []models.AgentDescriptor {
	var out []models.AgentDescriptor
	for _, a := range agents {
		if a.HasCapability(capability) {
			out = append(out, a)
		}
	}
	return out
}
