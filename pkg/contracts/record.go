package contracts

import (
	"time"

	"github.com/google/uuid"
)

// ActionStatus is the lifecycle state of a request.
type ActionStatus string

// Lifecycle states. Received and running are in flight; the rest are terminal.
const (
	StatusReceived  ActionStatus = "received"
	StatusRunning   ActionStatus = "running"
	StatusSucceeded ActionStatus = "succeeded"
	StatusFailed    ActionStatus = "failed"
	StatusDenied    ActionStatus = "denied"
)

// Terminal reports whether s never transitions further.
func (s ActionStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusDenied:
		return true
	default:
		return false
	}
}

// ActionRecord is the latest known state of a request. Each transition
// replaces the previous record; no history is kept here.
type ActionRecord struct {
	RequestID  uuid.UUID    `json:"request_id"`
	Status     ActionStatus `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at"`
	Summary    *string      `json:"summary"`
	Error      *string      `json:"error"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
