// Package tracking derives the order-tracking view from an immutable
// snapshot of an order, its audit events, and the workflow catalog. All
// derivation is a full recompute per request; nothing here holds state
// across calls.
package tracking

import (
	"math"

	"github.com/fensterwerk/orderdesk/internal/catalog"
	"github.com/fensterwerk/orderdesk/model"
)

// CompletionTracker answers completion questions about one order against
// its catalog's flattened status sequence.
type CompletionTracker struct {
	order           model.Order
	catalog         *catalog.Catalog
	completed       map[string]bool
	maxCompletedIdx int
}

// NewCompletionTracker builds a tracker for an order snapshot.
func NewCompletionTracker(order model.Order, cat *catalog.Catalog) *CompletionTracker {
	t := &CompletionTracker{
		order:           order,
		catalog:         cat,
		completed:       make(map[string]bool, len(order.CompletedStatuses)),
		maxCompletedIdx: -1,
	}
	for _, id := range order.CompletedStatuses {
		t.completed[id] = true
		if pos := cat.Position(id); pos > t.maxCompletedIdx {
			t.maxCompletedIdx = pos
		}
	}
	return t
}

// IsCompleted reports whether the status appears in the order's completed
// set.
func (t *CompletionTracker) IsCompleted(statusID string) bool {
	return t.completed[statusID]
}

// IsCurrent reports whether the status is the order's current status.
func (t *CompletionTracker) IsCurrent(statusID string) bool {
	return statusID != "" && statusID == t.order.CurrentStatus
}

// IsSkipped reports whether the status was implicitly bypassed: it is not
// completed, not current, and some status later in the flattened sequence
// is completed. Skipped statuses are not rendered as pending action items.
func (t *CompletionTracker) IsSkipped(statusID string) bool {
	if t.IsCompleted(statusID) || t.IsCurrent(statusID) {
		return false
	}
	pos := t.catalog.Position(statusID)
	return pos >= 0 && pos < t.maxCompletedIdx
}

// MostRecentCompletion returns the status_history entry for the status with
// the greatest completed_at. An order may record several completions for
// the same status; the latest one wins.
func (t *CompletionTracker) MostRecentCompletion(statusID string) (model.StatusCompletion, bool) {
	var best model.StatusCompletion
	found := false
	for _, c := range t.order.StatusHistory {
		if c.Status != statusID {
			continue
		}
		if !found || c.CompletedAt.Time.After(best.CompletedAt.Time) {
			best = c
			found = true
		}
	}
	return best, found
}

// PercentComplete is the share of the catalog's distinct statuses that are
// completed, rounded to the nearest integer. An empty catalog yields 0.
func (t *CompletionTracker) PercentComplete() int {
	total := len(t.catalog.Flattened())
	if total == 0 {
		return 0
	}
	done := 0
	for _, status := range t.catalog.Flattened() {
		if t.completed[status.ID] {
			done++
		}
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}

// ActiveStageIndex is the index of the stage containing the current status.
// When no stage contains it, the index one past the last stage with any
// completed status applies; with no completions at all the first stage is
// active. The result may therefore be one past the last stage.
func (t *CompletionTracker) ActiveStageIndex() int {
	stages := t.catalog.StagesInOrder()
	for i, stage := range stages {
		for _, status := range stage.Statuses {
			if t.IsCurrent(status.ID) {
				return i
			}
		}
	}

	lastCompleted := -1
	for i, stage := range stages {
		for _, status := range stage.Statuses {
			if t.completed[status.ID] {
				lastCompleted = i
				break
			}
		}
	}
	if lastCompleted >= 0 {
		return lastCompleted + 1
	}
	return 0
}

// NextActionable returns up to n statuses immediately following the current
// status in the flattened sequence. The result is empty when the current
// status is absent from the catalog or is the last element.
func (t *CompletionTracker) NextActionable(n int) []model.WorkflowStatus {
	next := []model.WorkflowStatus{}
	pos := t.catalog.Position(t.order.CurrentStatus)
	if pos < 0 || n <= 0 {
		return next
	}
	flattened := t.catalog.Flattened()
	for i := pos + 1; i < len(flattened) && len(next) < n; i++ {
		next = append(next, flattened[i])
	}
	return next
}
