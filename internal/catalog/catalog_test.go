package catalog

import (
	"errors"
	"testing"

	"github.com/fensterwerk/orderdesk/model"
)

func testStages() []model.WorkflowStage {
	return []model.WorkflowStage{
		{
			ID:   StageLeadAcquisition,
			Name: "Lead Acquisition",
			Statuses: []model.WorkflowStatus{
				{ID: "NEW_LEAD", Name: "New Lead"},
				{ID: "QUOTE_REQUESTED", Name: "Quote Requested"},
			},
		},
		{
			ID:   StageQuotation,
			Name: "Quotation",
			Statuses: []model.WorkflowStatus{
				{ID: "QUOTE_PREPARED", Name: "Quote Prepared"},
				{ID: "QUOTE_SENT", Name: "Quote Sent"},
				{ID: "QUOTE_ACCEPTED", Name: "Quote Accepted"},
			},
		},
		{
			ID:   StageFulfillment,
			Name: "Fulfillment",
			Statuses: []model.WorkflowStatus{
				{ID: "DELIVERY_SCHEDULED", Name: "Delivery Scheduled"},
			},
		},
	}
}

func TestNew_valid(t *testing.T) {
	cat, err := New(testStages())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := len(cat.StagesInOrder()); got != 3 {
		t.Errorf("stage count = %d, want 3", got)
	}
	if got := len(cat.Flattened()); got != 6 {
		t.Errorf("flattened count = %d, want 6", got)
	}
	if cat.FirstStage().ID != StageLeadAcquisition {
		t.Errorf("first stage = %q, want %q", cat.FirstStage().ID, StageLeadAcquisition)
	}
}

func TestNew_invalidCatalogs(t *testing.T) {
	tests := []struct {
		name   string
		stages []model.WorkflowStage
	}{
		{"nil stages", nil},
		{"empty stages", []model.WorkflowStage{}},
		{"stage without id", []model.WorkflowStage{
			{Name: "Anonymous", Statuses: []model.WorkflowStatus{{ID: "A"}}},
		}},
		{"stage without status list", []model.WorkflowStage{
			{ID: "S1", Name: "Stage"},
		}},
		{"status without id", []model.WorkflowStage{
			{ID: "S1", Statuses: []model.WorkflowStatus{{Name: "Unnamed"}}},
		}},
		{"duplicate status across stages", []model.WorkflowStage{
			{ID: "S1", Statuses: []model.WorkflowStatus{{ID: "A"}}},
			{ID: "S2", Statuses: []model.WorkflowStatus{{ID: "A"}}},
		}},
		{"duplicate status within stage", []model.WorkflowStage{
			{ID: "S1", Statuses: []model.WorkflowStatus{{ID: "A"}, {ID: "A"}}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.stages)
			if err == nil {
				t.Fatal("New() should fail")
			}
			var envelope *model.ErrorEnvelope
			if !errors.As(err, &envelope) {
				t.Fatalf("error type = %T, want *model.ErrorEnvelope", err)
			}
			if envelope.Code != model.ErrCatalogInvalid {
				t.Errorf("code = %q, want %q", envelope.Code, model.ErrCatalogInvalid)
			}
		})
	}
}

func TestNew_emptyStatusListIsValid(t *testing.T) {
	// A stage may legitimately hold zero statuses as long as the list
	// itself is present.
	stages := []model.WorkflowStage{
		{ID: "S1", Statuses: []model.WorkflowStatus{}},
	}
	if _, err := New(stages); err != nil {
		t.Fatalf("New() error = %v", err)
	}
}

func TestCatalog_lookups(t *testing.T) {
	cat, err := New(testStages())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	status, ok := cat.StatusByID("QUOTE_SENT")
	if !ok {
		t.Fatal("QUOTE_SENT should be found")
	}
	if status.Name != "Quote Sent" {
		t.Errorf("name = %q, want Quote Sent", status.Name)
	}

	stage, ok := cat.StageContaining("QUOTE_SENT")
	if !ok || stage.ID != StageQuotation {
		t.Errorf("StageContaining(QUOTE_SENT) = %q, want %q", stage.ID, StageQuotation)
	}

	if _, ok := cat.StatusByID("NO_SUCH_STATUS"); ok {
		t.Error("unknown status should not be found")
	}
	if _, ok := cat.StageContaining("NO_SUCH_STATUS"); ok {
		t.Error("unknown status should have no containing stage")
	}

	stage, ok = cat.StageByID(StageFulfillment)
	if !ok || stage.Name != "Fulfillment" {
		t.Errorf("StageByID(FULFILLMENT) = %+v, found=%v", stage, ok)
	}
	if _, ok := cat.StageByID("NO_SUCH_STAGE"); ok {
		t.Error("unknown stage should not be found")
	}
}

func TestCatalog_position(t *testing.T) {
	cat, err := New(testStages())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		statusID string
		want     int
	}{
		{"NEW_LEAD", 0},
		{"QUOTE_REQUESTED", 1},
		{"QUOTE_PREPARED", 2},
		{"QUOTE_ACCEPTED", 4},
		{"DELIVERY_SCHEDULED", 5},
		{"NO_SUCH_STATUS", -1},
	}

	for _, tt := range tests {
		if got := cat.Position(tt.statusID); got != tt.want {
			t.Errorf("Position(%q) = %d, want %d", tt.statusID, got, tt.want)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		statusID string
		want     string
	}{
		{"NEW_LEAD", StageLeadAcquisition},
		{"SITE_VISIT_COMPLETED", StageLeadAcquisition},
		{"QUOTE_SENT", StageQuotation},
		{"QUOTE_ACCEPTED", StageQuotation},
		{"MATERIALS_ORDERED", StageProcurement},
		{"DEPOSIT_RECEIVED", StageProcurement},
		{"PO_SENT", StageProcurement},
		{"DELIVERY_SCHEDULED", StageFulfillment},
		{"INSTALLATION_COMPLETED", StageFulfillment},
		{"READY_FOR_PICKUP", StageFulfillment},
		{"PAYMENT_RECEIVED", StageFinalization},
		{"ORDER_COMPLETED", StageFinalization},
		{"ORDER_CANCELLED", StageCancelled},
		{"QUOTE_REJECTED", StageCancelled},
		{"PAYMENT_PENDING", StageOnHold},
		{"AWAITING_CUSTOMER_APPROVAL", StageOnHold},

		// Case-insensitive lookup.
		{"quote_sent", StageQuotation},
		{"Materials_Ordered", StageProcurement},

		// Total function: empty and unknown codes fall back.
		{"", StageLeadAcquisition},
		{"SOMETHING_THE_BACKEND_INVENTED", StageLeadAcquisition},
	}

	for _, tt := range tests {
		if got := ClassifyStatus(tt.statusID); got != tt.want {
			t.Errorf("ClassifyStatus(%q) = %q, want %q", tt.statusID, got, tt.want)
		}
	}
}

func TestKnownStatus(t *testing.T) {
	if !KnownStatus("QUOTE_SENT") {
		t.Error("QUOTE_SENT should be known")
	}
	if !KnownStatus("quote_sent") {
		t.Error("lookup should be case-insensitive")
	}
	if KnownStatus("SOMETHING_THE_BACKEND_INVENTED") {
		t.Error("unknown code should not be known")
	}
}
