// Package types defines the shared data model for the KinOS orchestration
// core: project phases, agent identities, team configuration, status
// snapshots, and the structured error taxonomy.
//
// The types package is the lowest-level package with no internal
// dependencies, so every other package can import it without cycles.
package types
