package types

import "time"

// AgentKind enumerates the capability variants an agent can have.
type AgentKind string

const (
	// KindEditing agents drive the external code/content editing tool.
	KindEditing AgentKind = "editing"

	// KindResearch agents query the LLM layer for reference material
	// before handing instructions to the editing tool.
	KindResearch AgentKind = "research"
)

// DefaultWeight is the selection weight assigned to agents whose
// configuration does not specify one.
const DefaultWeight = 0.5

// AgentIdentity is the immutable identity of an agent within a team.
// It is produced once by the config normalization boundary and never
// mutated afterwards.
type AgentIdentity struct {
	Name   string    `json:"name" yaml:"name"`
	Kind   AgentKind `json:"kind" yaml:"type"`
	Weight float64   `json:"weight" yaml:"weight"`
}

// HealthStatus describes the health portion of an agent status snapshot.
type HealthStatus struct {
	IsHealthy            bool `json:"is_healthy"`
	ConsecutiveNoChanges int  `json:"consecutive_no_changes"`
	ErrorCount           int  `json:"error_count"`
}

// AgentStatus is a point-in-time snapshot of one agent's runtime state as
// reported by the registry. Snapshots are not transactionally consistent
// with concurrent Start/Stop calls.
type AgentStatus struct {
	Name            string        `json:"name"`
	Running         bool          `json:"running"`
	State           string        `json:"status"`
	LastRun         *time.Time    `json:"last_run,omitempty"`
	LastChange      *time.Time    `json:"last_change,omitempty"`
	CurrentInterval time.Duration `json:"current_interval"`
	Health          HealthStatus  `json:"health"`
	CacheHits       int64         `json:"cache_hits"`
	CacheMisses     int64         `json:"cache_misses"`
}

// SystemMetrics aggregates per-agent counters for system health scoring.
type SystemMetrics struct {
	TotalAgents   int   `json:"total_agents"`
	ActiveAgents  int   `json:"active_agents"`
	HealthyAgents int   `json:"healthy_agents"`
	ErrorCount    int64 `json:"error_count"`
	CacheHits     int64 `json:"cache_hits"`
	CacheMisses   int64 `json:"cache_misses"`
	FileReads     int64 `json:"file_reads"`
	FileWrites    int64 `json:"file_writes"`
}

// TotalOperations returns the denominator used for the error-rate component
// of the system health score.
func (m SystemMetrics) TotalOperations() int64 {
	return m.CacheHits + m.CacheMisses + m.FileReads + m.FileWrites
}
