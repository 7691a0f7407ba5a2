package model

import (
	"bytes"
	"fmt"
	"time"
)

// Order workflow types. The CRM backend omits the type on older orders, in
// which case MATERIALS_ONLY applies.
const (
	OrderTypeMaterialsOnly            = "MATERIALS_ONLY"
	OrderTypeMaterialsAndInstallation = "MATERIALS_AND_INSTALLATION"
)

// Order is the CRM backend's view of an order, reduced to the fields the
// tracking view consumes.
type Order struct {
	OrderID           string             `json:"order_id"`
	CustomerName      string             `json:"customer_name,omitempty"`
	Type              string             `json:"type,omitempty"`
	WorkflowType      string             `json:"workflow_type,omitempty"`
	WorkflowStatus    string             `json:"workflow_status,omitempty"`
	CurrentStatus     string             `json:"current_status,omitempty"`
	CompletedStatuses []string           `json:"completed_statuses,omitempty"`
	StatusHistory     []StatusCompletion `json:"status_history,omitempty"`
}

// OrderType resolves the workflow type of the order. The backend populates
// either `type` or `workflow_type` depending on its age; absent both, the
// order follows the materials-only workflow.
func (o *Order) OrderType() string {
	if o.Type != "" {
		return o.Type
	}
	if o.WorkflowType != "" {
		return o.WorkflowType
	}
	return OrderTypeMaterialsOnly
}

// StatusCompletion records that a workflow status was completed on an order.
// An order may carry several completions for the same status; the most recent
// one wins for display.
type StatusCompletion struct {
	Status      string `json:"status"`
	CompletedAt Time   `json:"completed_at,omitzero"`
	CompletedBy string `json:"completed_by,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// WorkflowStage is one stage of a workflow catalog as served by the CRM
// backend, containing an ordered list of statuses.
type WorkflowStage struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Statuses []WorkflowStatus `json:"statuses"`
}

// WorkflowStatus is a single status within a stage.
type WorkflowStatus struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Time wraps time.Time to tolerate the timestamp shapes the CRM backend
// emits: RFC 3339 with or without fractional seconds, naive ISO 8601 without
// a zone offset, plus null and the empty string. Naive timestamps are read
// as UTC.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("model: invalid timestamp %s", data)
	}
	s := string(data[1 : len(data)-1])
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("model: unparseable timestamp %q", s)
}

// MarshalJSON implements json.Marshaler. Zero times serialize as null.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339) + `"`), nil
}

// IsZero reports whether the timestamp is absent.
func (t Time) IsZero() bool {
	return t.Time.IsZero()
}
