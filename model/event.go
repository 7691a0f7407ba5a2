package model

// Event types emitted by the CRM backend. Anything outside this set is
// treated as EventTypeOther.
const (
	EventTypeOrderCreation        = "order_creation"
	EventTypeWorkflowStatusChange = "workflow_status_change"
	EventTypeStageCompletion      = "stage_completion"
	EventTypeStageTransition      = "stage_transition"
	EventTypeNote                 = "note"
	EventTypeDocument             = "document"
	EventTypePayment              = "payment"
	EventTypeStatusChange         = "status_change"
	EventTypeOther                = "other"
)

var eventTypeLabels = map[string]string{
	EventTypeOrderCreation:        "Order Created",
	EventTypeWorkflowStatusChange: "Status Change",
	EventTypeStageCompletion:      "Stage Completed",
	EventTypeStageTransition:      "Stage Transition",
	EventTypeNote:                 "Note",
	EventTypeDocument:             "Document",
	EventTypePayment:              "Payment",
	EventTypeStatusChange:         "Status Change",
}

// NormalizeEventType maps a backend event type onto the closed set above.
func NormalizeEventType(eventType string) string {
	if _, ok := eventTypeLabels[eventType]; ok {
		return eventType
	}
	return EventTypeOther
}

// EventTypeLabel returns the display label for an event type.
func EventTypeLabel(eventType string) string {
	if label, ok := eventTypeLabels[eventType]; ok {
		return label
	}
	return "Event"
}

// HistoryEvent is a single entry in an order's event history. CreatedAt may
// be absent; such events sort after timestamped ones.
type HistoryEvent struct {
	EventID       string `json:"event_id"`
	EventType     string `json:"event_type"`
	CreatedAt     Time   `json:"created_at,omitzero"`
	Description   string `json:"description,omitempty"`
	PreviousStage string `json:"previous_stage,omitempty"`
	NewStage      string `json:"new_stage,omitempty"`
	UserEmail     string `json:"user_email,omitempty"`
	CreatedBy     string `json:"created_by,omitempty"`
}
