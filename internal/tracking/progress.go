package tracking

import (
	"github.com/fensterwerk/orderdesk/internal/catalog"
	"github.com/fensterwerk/orderdesk/model"
)

// Sentinels for the progress header when the current status cannot be
// resolved against the catalog. Callers always receive a value.
var (
	notStartedStatus = model.WorkflowStatus{ID: "NOT_STARTED", Name: "Not Started"}
	unknownStage     = model.StageRef{ID: "UNKNOWN", Name: "Unknown Stage"}
)

// Summarize builds the progress header: percent complete, the resolved
// current status and stage, and up to n upcoming statuses.
func Summarize(order model.Order, cat *catalog.Catalog, tracker *CompletionTracker, n int) model.ProgressSummary {
	summary := model.ProgressSummary{
		PercentComplete: tracker.PercentComplete(),
		CurrentStatus:   notStartedStatus,
		CurrentStage:    unknownStage,
		NextStatuses:    tracker.NextActionable(n),
	}

	if status, ok := cat.StatusByID(order.CurrentStatus); ok {
		summary.CurrentStatus = status
	}
	if stage, ok := cat.StageContaining(order.CurrentStatus); ok {
		summary.CurrentStage = model.StageRef{ID: stage.ID, Name: stage.Name}
	}

	return summary
}
