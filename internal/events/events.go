package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Visibility tags the audience of an event. Filters project on it at the
// subscriber boundary; every event enters queues and buffers regardless.
type Visibility string

const (
	VisibilityUserFacing   Visibility = "user_facing"   // user chat UI and model history
	VisibilityModelOnly    Visibility = "model_only"    // model memory, not the chat UI
	VisibilityLiveUIOnly   Visibility = "live_ui_only"  // real-time UI stream only
	VisibilityInternalOnly Visibility = "internal_only" // server logs/debugging
)

// ParseVisibility coerces unknown values to VisibilityUserFacing so that
// deserialization stays permissive across versions.
func ParseVisibility(s string) Visibility {
	switch v := Visibility(s); v {
	case VisibilityUserFacing, VisibilityModelOnly, VisibilityLiveUIOnly, VisibilityInternalOnly:
		return v
	}
	return VisibilityUserFacing
}

// Type is the event type on the wire. The constants below form the known
// enumeration; unknown strings are carried verbatim for forward compatibility.
type Type string

const (
	TypeWorkflowStarted      Type = "workflow_started"
	TypeWorkflowCompleted    Type = "workflow_completed"
	TypeStepStarted          Type = "step_started"
	TypeStepProgress         Type = "step_progress"
	TypeStepCompleted        Type = "step_completed"
	TypeStepFailed           Type = "step_failed"
	TypeToolExecuted         Type = "tool_executed"
	TypeToolCompleted        Type = "tool_completed"
	TypeError                Type = "error"
	TypeHeartbeat            Type = "heartbeat"
	TypeAgentMessage         Type = "agent_message"
	TypeTokenChunk           Type = "token_chunk"
	TypeWorkflowInterruption Type = "workflow_interruption"
	TypeReasoningChunk       Type = "reasoning_chunk"
	TypeUserDecision         Type = "user_decision"
)

// Event is a single immutable record in a session stream. The ID is assigned
// at construction and never changes; once published an Event must not be
// mutated.
type Event struct {
	ID              string
	Type            Type
	SessionID       string
	Timestamp       float64
	StepNumber      *int
	Message         string
	Data            map[string]any
	ProgressPercent *float64
	ToolUsed        string
	DurationMS      *int64
	Success         bool
	Metadata        map[string]any
	Visibility      Visibility
}

// Option configures optional Event fields at construction.
type Option func(*Event)

func WithMessage(msg string) Option         { return func(e *Event) { e.Message = msg } }
func WithData(data map[string]any) Option   { return func(e *Event) { e.Data = data } }
func WithVisibility(v Visibility) Option    { return func(e *Event) { e.Visibility = v } }
func WithStep(n int) Option                 { return func(e *Event) { e.StepNumber = &n } }
func WithProgress(pct float64) Option       { return func(e *Event) { e.ProgressPercent = &pct } }
func WithTool(tool string) Option           { return func(e *Event) { e.ToolUsed = tool } }
func WithDurationMS(ms int64) Option        { return func(e *Event) { e.DurationMS = &ms } }
func WithMetadata(md map[string]any) Option { return func(e *Event) { e.Metadata = md } }
func WithSuccess(ok bool) Option            { return func(e *Event) { e.Success = ok } }
func WithID(id string) Option               { return func(e *Event) { e.ID = id } }
func WithTimestamp(ts float64) Option       { return func(e *Event) { e.Timestamp = ts } }

// New constructs an event stamped with the current time and a fresh ID.
func New(eventType Type, sessionID string, opts ...Option) Event {
	e := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		SessionID:  sessionID,
		Timestamp:  Now(),
		Success:    true,
		Visibility: VisibilityUserFacing,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Now returns the current time as epoch seconds, the timestamp unit used on
// the wire.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// wireEvent is the JSON shape. Field names are stable; absent optional fields
// are omitted.
type wireEvent struct {
	Type       string         `json:"type"`
	EventID    string         `json:"eventId"`
	SessionID  string         `json:"sessionId"`
	Timestamp  float64        `json:"timestamp"`
	Step       *int           `json:"step,omitempty"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	Progress   *float64       `json:"progress,omitempty"`
	Tool       string         `json:"tool,omitempty"`
	Duration   *int64         `json:"duration,omitempty"`
	Success    *bool          `json:"success"`
	Visibility string         `json:"visibility"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// MarshalJSON emits the stable wire field names.
func (e Event) MarshalJSON() ([]byte, error) {
	success := e.Success
	return json.Marshal(wireEvent{
		Type:       string(e.Type),
		EventID:    e.ID,
		SessionID:  e.SessionID,
		Timestamp:  e.Timestamp,
		Step:       e.StepNumber,
		Message:    e.Message,
		Data:       e.Data,
		Progress:   e.ProgressPercent,
		Tool:       e.ToolUsed,
		Duration:   e.DurationMS,
		Success:    &success,
		Visibility: string(e.Visibility),
		Metadata:   e.Metadata,
	})
}

// UnmarshalJSON is permissive: unknown types are preserved verbatim, unknown
// visibility values are coerced to user_facing, and a missing success field
// defaults to true.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	id := w.EventID
	if id == "" {
		id = uuid.NewString()
	}
	success := true
	if w.Success != nil {
		success = *w.Success
	}
	*e = Event{
		ID:              id,
		Type:            Type(w.Type),
		SessionID:       w.SessionID,
		Timestamp:       w.Timestamp,
		StepNumber:      w.Step,
		Message:         w.Message,
		Data:            w.Data,
		ProgressPercent: w.Progress,
		ToolUsed:        w.Tool,
		DurationMS:      w.Duration,
		Success:         success,
		Metadata:        w.Metadata,
		Visibility:      ParseVisibility(w.Visibility),
	}
	return nil
}

// SSEFormat renders the event as a single SSE frame with an id line so
// clients can resume via Last-Event-ID.
func (e Event) SSEFormat() string {
	data, _ := json.Marshal(e)
	return fmt.Sprintf("id: %s\nevent: message\ndata: %s\n\n", e.ID, data)
}
