package bus

import (
	"strings"

	"overseer/pkg/models"
)

// MatchCapability chooses a standby agent for a task's preferred capability.
// Matching is best-effort substring matching in both directions; when no
// agent matches, any standby agent is acceptable. Returns nil when no agent
// in the slice is standby.
func MatchCapability(preferred string, agents []models.Agent) *models.Agent {
	var fallback *models.Agent
	preferred = strings.ToLower(strings.TrimSpace(preferred))

	for i := range agents {
		a := &agents[i]
		if a.Status != models.AgentStatusStandby {
			continue
		}
		if fallback == nil {
			fallback = a
		}
		if preferred == "" {
			continue
		}
		for _, cap := range a.Capabilities {
			cap = strings.ToLower(cap)
			if strings.Contains(cap, preferred) || strings.Contains(preferred, cap) {
				return a
			}
		}
	}
	return fallback
}
