package models

import "time"

// SessionStatus represents the lifecycle state of one diagnostic session.
type SessionStatus string

const (
	// SessionStatusIdle is the state before a flow has been started.
	SessionStatusIdle SessionStatus = "idle"
	// SessionStatusRunning means the session is traversing the flow.
	SessionStatusRunning SessionStatus = "running"
	// SessionStatusEmergencyHalted means an emergency trigger short-circuited traversal.
	SessionStatusEmergencyHalted SessionStatus = "emergency_halted"
	// SessionStatusCompleted means traversal finished and a solution was produced.
	SessionStatusCompleted SessionStatus = "completed"
)

// IsValidSessionStatus checks if the given session status is supported.
func IsValidSessionStatus(s SessionStatus) bool {
	switch s {
	case SessionStatusIdle, SessionStatusRunning, SessionStatusEmergencyHalted, SessionStatusCompleted:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the receiver may legally move to next.
// Reset returns any state to Running at the first step, so the halted and
// completed states admit Running as their only successor.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionStatusIdle:
		return next == SessionStatusRunning
	case SessionStatusRunning:
		return next == SessionStatusRunning || next == SessionStatusEmergencyHalted || next == SessionStatusCompleted
	case SessionStatusEmergencyHalted, SessionStatusCompleted:
		return next == SessionStatusRunning
	default:
		return false
	}
}

// SessionState is a point-in-time snapshot of a diagnostic session, as
// returned by the session API. The transcript slice is a copy; mutating it
// does not affect the running session.
type SessionState struct {
	ID              string        `json:"id"`
	FlowID          string        `json:"flowId"`
	Status          SessionStatus `json:"status"`
	CurrentStepID   string        `json:"currentStepId,omitempty"`
	CurrentStep     *Step         `json:"currentStep,omitempty"`
	Progress        int           `json:"progress"`
	Answers         []Answer      `json:"answers"`
	EmergencyAction string        `json:"emergencyAction,omitempty"`
	Solution        string        `json:"solution,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}
