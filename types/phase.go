package types

import (
	"fmt"
	"strings"
	"time"
)

// Phase is a coarse operating mode derived from token usage. It gates which
// agents of a team are eligible to run.
type Phase string

const (
	// PhaseExpansion is the default phase: token usage is low and agents
	// that produce new content are favored.
	PhaseExpansion Phase = "EXPANSION"

	// PhaseConvergence is entered when token usage approaches the budget;
	// agents that consolidate and trim are favored.
	PhaseConvergence Phase = "CONVERGENCE"
)

// ParsePhase converts a case-insensitive phase name into a Phase.
func ParsePhase(s string) (Phase, error) {
	switch Phase(strings.ToUpper(strings.TrimSpace(s))) {
	case PhaseExpansion:
		return PhaseExpansion, nil
	case PhaseConvergence:
		return PhaseConvergence, nil
	}
	return "", fmt.Errorf("invalid phase: %q", s)
}

// PhaseStatus is a point-in-time snapshot of the phase calculator state.
// It is purely derived from stored state; producing it has no side effects.
type PhaseStatus struct {
	Phase          Phase     `json:"phase"`
	TotalTokens    int64     `json:"total_tokens"`
	UsagePercent   float64   `json:"usage_percent"`
	StatusMessage  string    `json:"status_message"`
	Headroom       int64     `json:"headroom"`
	LastTransition time.Time `json:"last_transition"`
}
