package types

import "strings"

// TeamConfig is a named set of agent identities plus optional per-phase
// weight overrides. It is loaded once at scheduling start and treated as
// read-only for the duration of a run.
type TeamConfig struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Agents      []AgentIdentity `json:"agents" yaml:"agents"`
	PhaseConfig PhaseConfig     `json:"phase_config,omitempty" yaml:"phase_config"`
}

// PhaseConfig maps a phase to the agents active in that phase with their
// phase-specific weights. An empty entry means the full team runs with
// default weights.
type PhaseConfig map[Phase][]AgentIdentity

// ActiveFor returns the phase-specific agent list, or nil when no
// configuration exists for the phase (case-insensitive lookup).
func (pc PhaseConfig) ActiveFor(phase Phase) []AgentIdentity {
	if pc == nil {
		return nil
	}
	for p, agents := range pc {
		if strings.EqualFold(string(p), string(phase)) {
			return agents
		}
	}
	return nil
}

// NormalizeTeamID canonicalizes a team identifier so that "Book Writing",
// "book_writing" and "book-writing" all resolve to the same team.
func NormalizeTeamID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.ReplaceAll(id, "_", "-")
	id = strings.ReplaceAll(id, " ", "-")
	return id
}

// NormalizeAgentName lowercases an agent name and strips a trailing
// "agent" suffix, matching how team files have historically named agents.
func NormalizeAgentName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimSpace(strings.TrimSuffix(name, "agent"))
	return name
}

// RunStatus is the terminal status of one scheduling run.
type RunStatus string

const (
	RunStatusStarted          RunStatus = "started"
	RunStatusFailed           RunStatus = "failed"
	RunStatusNoAgentsForPhase RunStatus = "no_agents_for_phase"
	RunStatusInitFailed       RunStatus = "initialization_failed"
)

// RunSummary is the structured result of Scheduler.StartTeam. StartTeam
// always returns a summary for expected conditions; only unexpected
// internal errors surface as error values.
type RunSummary struct {
	RunID         string    `json:"run_id"`
	TeamID        string    `json:"team_id"`
	Workspace     string    `json:"workspace"`
	Phase         Phase     `json:"phase"`
	StartedAgents []string  `json:"agents"`
	Status        RunStatus `json:"status"`
}
