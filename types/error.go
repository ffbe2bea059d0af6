package types

import "fmt"

// ErrorCode represents a unified error code across the orchestrator.
type ErrorCode string

// Scheduling error codes
const (
	ErrTeamNotFound     ErrorCode = "TEAM_NOT_FOUND"
	ErrNoAgentsForPhase ErrorCode = "NO_AGENTS_FOR_PHASE"
	ErrInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrRunInterrupted   ErrorCode = "RUN_INTERRUPTED"
)

// Agent lifecycle error codes
const (
	ErrAgentNotFound    ErrorCode = "AGENT_NOT_FOUND"
	ErrAgentInitFailed  ErrorCode = "AGENT_INIT_FAILED"
	ErrAgentStartFailed ErrorCode = "AGENT_START_FAILED"
	ErrAgentStopTimeout ErrorCode = "AGENT_STOP_TIMEOUT"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
)

// Phase error codes
const (
	ErrPhaseComputation ErrorCode = "PHASE_COMPUTATION"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Agent     string    `json:"agent,omitempty"`
	Team      string    `json:"team,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithAgent tags the error with the agent it concerns.
func (e *Error) WithAgent(name string) *Error {
	e.Agent = name
	return e
}

// WithTeam tags the error with the team it concerns.
func (e *Error) WithTeam(id string) *Error {
	e.Team = id
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
