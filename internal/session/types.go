package session

import (
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")
)

// Session status values.
const (
	StatusActive     = "active"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Session is the metadata record for one workflow run. Timestamps are epoch
// seconds, matching the event wire format.
type Session struct {
	SessionID      string         `json:"session_id"`
	UserRequest    string         `json:"user_request"`
	Context        map[string]any `json:"context"`
	CreatedAt      float64        `json:"created_at"`
	LastActivity   float64        `json:"last_activity"`
	Status         string         `json:"status"`
	TotalSteps     int            `json:"total_steps"`
	CompletedSteps int            `json:"completed_steps"`
	CurrentStep    string         `json:"current_step,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
}

// Update carries the optional fields of a session update; nil fields are
// left untouched. Every applied update also refreshes LastActivity.
type Update struct {
	Status         *string
	CurrentStep    *string
	TotalSteps     *int
	CompletedSteps *int
}

func (u Update) apply(s *Session) {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.CurrentStep != nil {
		s.CurrentStep = *u.CurrentStep
	}
	if u.TotalSteps != nil {
		s.TotalSteps = *u.TotalSteps
	}
	if u.CompletedSteps != nil {
		s.CompletedSteps = *u.CompletedSteps
	}
	s.LastActivity = nowSeconds()
}

// String and Int build pointers for Update literals.
func String(s string) *string { return &s }
func Int(n int) *int          { return &n }

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
