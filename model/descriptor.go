package model

import "time"

// Stage display states, derived from completion data. A stage is completed
// when every status in it is completed, current when it contains the order's
// current status, in_progress when it has some completions, else pending.
const (
	StageStateCompleted  = "completed"
	StageStateCurrent    = "current"
	StageStateInProgress = "in_progress"
	StageStatePending    = "pending"
)

// Timeline entry states for status entries.
const (
	EntryStateCompleted = "completed"
	EntryStateCurrent   = "current"
	EntryStatePending   = "pending"
)

// Timeline entry kinds.
const (
	EntryKindStatus = "status"
	EntryKindEvent  = "event"
)

// TrackingDescriptor is the fully derived tracking view for a single order,
// sent to the frontend as one document.
type TrackingDescriptor struct {
	OrderID          string          `json:"order_id"`
	OrderType        string          `json:"order_type"`
	CustomerName     string          `json:"customer_name,omitempty"`
	Progress         ProgressSummary `json:"progress"`
	ActiveStageIndex int             `json:"active_stage_index"`
	Stages           []StageTimeline `json:"stages"`
}

// ProgressSummary is the header block of the tracking view. CurrentStatus and
// CurrentStage are never absent; unresolvable values render as the
// "Not Started" / "Unknown Stage" sentinels.
type ProgressSummary struct {
	PercentComplete int              `json:"percent_complete"`
	CurrentStatus   WorkflowStatus   `json:"current_status"`
	CurrentStage    StageRef         `json:"current_stage"`
	NextStatuses    []WorkflowStatus `json:"next_statuses"`
}

// StageRef identifies a stage without its statuses.
type StageRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StageTimeline is the merged per-stage timeline.
type StageTimeline struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	State          string          `json:"state"`
	CompletedSteps int             `json:"completed_steps"`
	TotalSteps     int             `json:"total_steps"`
	Entries        []TimelineEntry `json:"entries"`
}

// TimelineEntry is one row in a stage timeline: either a workflow status or
// an order event. Timestamp is nil for untimed entries, which sort after
// timestamped ones.
type TimelineEntry struct {
	Kind      string     `json:"kind"`
	Timestamp *time.Time `json:"timestamp,omitempty"`

	// Status entries.
	StatusID    string `json:"status_id,omitempty"`
	Name        string `json:"name,omitempty"`
	State       string `json:"state,omitempty"`
	Notes       string `json:"notes,omitempty"`
	CompletedBy string `json:"completed_by,omitempty"`

	// Event entries.
	EventID     string `json:"event_id,omitempty"`
	EventType   string `json:"event_type,omitempty"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
	Actor       string `json:"actor,omitempty"`
}

// SessionDescriptor is the session poll response.
type SessionDescriptor struct {
	SubjectID string     `json:"subject_id"`
	Email     string     `json:"email,omitempty"`
	Roles     []string   `json:"roles,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// WorkflowResponse is the validated catalog passthrough response.
type WorkflowResponse struct {
	OrderType string          `json:"order_type"`
	Stages    []WorkflowStage `json:"stages"`
}

// EventsResponse is the filtered event list response.
type EventsResponse struct {
	OrderID string         `json:"order_id"`
	Events  []HistoryEvent `json:"events"`
	Total   int            `json:"total"`
}

// OrderResponse wraps an order returned after a mutation.
type OrderResponse struct {
	Order Order `json:"order"`
}
