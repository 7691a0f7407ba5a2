package integration

import (
	"net/http"
	"testing"

	"github.com/fensterwerk/orderdesk/model"
)

func TestTrackingView_endToEnd(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ManagerClaims())

	resp := h.GET("/ui/orders/ORD-1001/tracking", token)

	var desc model.TrackingDescriptor
	h.AssertJSON(t, resp, http.StatusOK, &desc)

	if desc.OrderID != "ORD-1001" {
		t.Errorf("order_id = %q", desc.OrderID)
	}
	if desc.OrderType != model.OrderTypeMaterialsOnly {
		t.Errorf("order_type = %q", desc.OrderType)
	}
	if desc.CustomerName != "Meier GmbH" {
		t.Errorf("customer_name = %q", desc.CustomerName)
	}
	// 2 of 6 catalog statuses completed.
	if desc.Progress.PercentComplete != 33 {
		t.Errorf("percent_complete = %d, want 33", desc.Progress.PercentComplete)
	}
	if desc.Progress.CurrentStatus.ID != "QUOTE_SENT" {
		t.Errorf("current status = %q, want QUOTE_SENT", desc.Progress.CurrentStatus.ID)
	}
	if desc.Progress.CurrentStage.ID != "QUOTATION" {
		t.Errorf("current stage = %q, want QUOTATION", desc.Progress.CurrentStage.ID)
	}
	if desc.ActiveStageIndex != 1 {
		t.Errorf("active_stage_index = %d, want 1", desc.ActiveStageIndex)
	}
	if len(desc.Stages) != 3 {
		t.Fatalf("stages = %d, want 3", len(desc.Stages))
	}

	wantStates := []string{model.StageStateCompleted, model.StageStateCurrent, model.StageStatePending}
	for i, want := range wantStates {
		if desc.Stages[i].State != want {
			t.Errorf("stage[%d] %s state = %q, want %q", i, desc.Stages[i].ID, desc.Stages[i].State, want)
		}
	}

	if len(desc.Progress.NextStatuses) != 3 {
		t.Fatalf("next_statuses = %d, want 3\n%s", len(desc.Progress.NextStatuses), FormatJSON(desc.Progress))
	}
	if desc.Progress.NextStatuses[0].ID != "QUOTE_ACCEPTED" {
		t.Errorf("next status = %q, want QUOTE_ACCEPTED", desc.Progress.NextStatuses[0].ID)
	}
}

func TestTrackingView_catalogCached(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ManagerClaims())

	for i := 0; i < 3; i++ {
		resp := h.GET("/ui/orders/ORD-1001/tracking", token)
		h.AssertStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	if got := h.CRM.RequestCount("/workflow/full-workflow/{orderType}"); got != 1 {
		t.Errorf("workflow fetched %d times, want 1 (cached)", got)
	}
}

func TestTrackingView_invalidCatalogFailsClosed(t *testing.T) {
	// QUOTE_SENT appears in two stages, which invalidates the catalog.
	h := NewTestHarness(t, WithStages([]model.WorkflowStage{
		{ID: "A", Name: "A", Statuses: []model.WorkflowStatus{{ID: "QUOTE_SENT", Name: "Quote Sent"}}},
		{ID: "B", Name: "B", Statuses: []model.WorkflowStatus{{ID: "QUOTE_SENT", Name: "Quote Sent"}}},
	}))
	token := h.GenerateToken(ManagerClaims())

	resp := h.GET("/ui/orders/ORD-1001/tracking", token)
	h.AssertErrorCode(t, resp, http.StatusBadGateway, model.ErrCatalogInvalid)

	resp = h.GET("/ui/workflow/materials_only", token)
	h.AssertErrorCode(t, resp, http.StatusBadGateway, model.ErrCatalogInvalid)
}

func TestEvents_listAndFilter(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ClerkClaims())

	var all model.EventsResponse
	h.AssertJSON(t, h.GET("/ui/orders/ORD-1001/events", token), http.StatusOK, &all)
	if all.Total != 3 {
		t.Errorf("total = %d, want 3", all.Total)
	}

	var filtered model.EventsResponse
	h.AssertJSON(t, h.GET("/ui/orders/ORD-1001/events?q=deposit", token), http.StatusOK, &filtered)
	if filtered.Total != 1 || filtered.Events[0].EventID != "ev-2" {
		t.Errorf("filtered = %s", FormatJSON(filtered))
	}
}

func TestWorkflow_passthrough(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ManagerClaims())

	var wf model.WorkflowResponse
	h.AssertJSON(t, h.GET("/ui/workflow/materials_only", token), http.StatusOK, &wf)

	if wf.OrderType != model.OrderTypeMaterialsOnly {
		t.Errorf("order_type = %q", wf.OrderType)
	}
	if len(wf.Stages) != 3 {
		t.Errorf("stages = %d, want 3", len(wf.Stages))
	}
}

func TestStatusUpdate_endToEnd(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ManagerClaims())

	resp := h.POST("/ui/orders/ORD-1001/status", map[string]any{
		"new_status": "QUOTE_ACCEPTED",
		"notes":      "customer signed",
	}, token)

	var updated model.OrderResponse
	h.AssertJSON(t, resp, http.StatusOK, &updated)
	if updated.Order.CurrentStatus != "QUOTE_ACCEPTED" {
		t.Errorf("current_status = %q, want QUOTE_ACCEPTED", updated.Order.CurrentStatus)
	}
	if len(updated.Order.CompletedStatuses) != 3 {
		t.Errorf("completed = %v, want QUOTE_SENT appended", updated.Order.CompletedStatuses)
	}

	calls := h.CRM.Calls()
	if len(calls) != 1 {
		t.Fatalf("mutation calls = %d, want 1", len(calls))
	}
	if calls[0].Cookie != token {
		t.Error("session cookie was not forwarded to the backend")
	}
	if calls[0].Body["notes"] != "customer signed" {
		t.Errorf("notes = %v", calls[0].Body["notes"])
	}

	// The tracking view reflects the committed state: 3 of 6 completed.
	var desc model.TrackingDescriptor
	h.AssertJSON(t, h.GET("/ui/orders/ORD-1001/tracking", token), http.StatusOK, &desc)
	if desc.Progress.PercentComplete != 50 {
		t.Errorf("percent_complete = %d, want 50", desc.Progress.PercentComplete)
	}
	if desc.Progress.CurrentStatus.ID != "QUOTE_ACCEPTED" {
		t.Errorf("current status = %q", desc.Progress.CurrentStatus.ID)
	}
}

func TestSetCurrentStatus_endToEnd(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ManagerClaims())

	resp := h.POST("/ui/orders/ORD-1001/current", map[string]any{
		"status": "IN_PRODUCTION",
	}, token)

	var updated model.OrderResponse
	h.AssertJSON(t, resp, http.StatusOK, &updated)
	if updated.Order.CurrentStatus != "IN_PRODUCTION" {
		t.Errorf("current_status = %q, want IN_PRODUCTION", updated.Order.CurrentStatus)
	}
	// No completion is recorded for the status being left.
	if len(updated.Order.CompletedStatuses) != 2 {
		t.Errorf("completed = %v, want unchanged", updated.Order.CompletedStatuses)
	}
}

func TestRemoveCompletion_endToEnd(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ManagerClaims())

	resp := h.POST("/ui/orders/ORD-1001/completions/remove", map[string]any{
		"status": "QUOTE_REQUESTED",
	}, token)

	var updated model.OrderResponse
	h.AssertJSON(t, resp, http.StatusOK, &updated)
	if len(updated.Order.CompletedStatuses) != 1 || updated.Order.CompletedStatuses[0] != "NEW_LEAD" {
		t.Errorf("completed = %v, want [NEW_LEAD]", updated.Order.CompletedStatuses)
	}
}

func TestAddNote_endToEnd(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ClerkClaims())

	resp := h.POST("/ui/orders/ORD-1001/notes", map[string]any{
		"note": "call customer about delivery window",
	}, token)

	var events model.EventsResponse
	h.AssertJSON(t, resp, http.StatusOK, &events)
	if events.Total != 4 {
		t.Fatalf("total = %d, want 4 after adding a note", events.Total)
	}
	last := events.Events[len(events.Events)-1]
	if last.Description != "call customer about delivery window" {
		t.Errorf("note description = %q", last.Description)
	}
}

func TestMutations_rejectMissingFields(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ManagerClaims())

	tests := []struct {
		name string
		path string
		body map[string]any
	}{
		{"updateStatus", "/ui/orders/ORD-1001/status", map[string]any{"notes": "no status"}},
		{"setCurrentStatus", "/ui/orders/ORD-1001/current", map[string]any{}},
		{"removeCompletion", "/ui/orders/ORD-1001/completions/remove", map[string]any{}},
		{"addNote", "/ui/orders/ORD-1001/notes", map[string]any{"note": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.POST(tt.path, tt.body, token)
			h.AssertErrorCode(t, resp, http.StatusUnprocessableEntity, model.ErrValidationError)
		})
	}

	if got := len(h.CRM.Calls()); got != 0 {
		t.Errorf("backend received %d mutation calls, want 0", got)
	}
}
