package models

import "strings"

// AgentDescriptor is the read-only view of one agent instance in the directory.
type AgentDescriptor struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CapabilityTag string `json:"capability"`
	Available     bool   `json:"available"`
}

// HasCapability compares capability tags case-insensitively.
func (a AgentDescriptor) HasCapability(tag string) bool {
	return strings.EqualFold(strings.TrimSpace(a.CapabilityTag), strings.TrimSpace(tag))
}

// Capabilities returns the distinct, lower-cased capability tags of the available agents.
func Capabilities(agents []AgentDescriptor) []string {
	seen := make(map[string]bool)
	var caps []string
	for _, a := range agents {
		if !a.Available {
			continue
		}
		c := strings.ToLower(strings.TrimSpace(a.CapabilityTag))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		caps = append(caps, c)
	}
	return caps
}
