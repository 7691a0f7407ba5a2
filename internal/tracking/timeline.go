package tracking

import (
	"sort"

	"github.com/fensterwerk/orderdesk/internal/catalog"
	"github.com/fensterwerk/orderdesk/model"
)

// BuildTimelines merges, per stage, the order's status entries with its
// assigned audit events into one deterministically ordered render list.
// Timestamped entries sort ascending; untimed entries follow in catalog
// status order. The merge is idempotent: equal inputs yield equal output.
func BuildTimelines(order model.Order, events []model.HistoryEvent, cat *catalog.Catalog, tracker *CompletionTracker, assigner *EventStageAssigner) []model.StageTimeline {
	eventsByStage := make(map[string][]model.HistoryEvent)
	for _, ev := range events {
		stageID := assigner.StageFor(ev)
		eventsByStage[stageID] = append(eventsByStage[stageID], ev)
	}

	stages := cat.StagesInOrder()
	timelines := make([]model.StageTimeline, 0, len(stages))
	for _, stage := range stages {
		timelines = append(timelines, buildStageTimeline(stage, eventsByStage[stage.ID], cat, tracker))
	}
	return timelines
}

func buildStageTimeline(stage model.WorkflowStage, events []model.HistoryEvent, cat *catalog.Catalog, tracker *CompletionTracker) model.StageTimeline {
	entries := []model.TimelineEntry{}
	completedSteps := 0

	// Status entries first, in catalog order. Skipped statuses are not
	// rendered at all; the sort pass below moves timestamped completions
	// into chronological position.
	for _, status := range stage.Statuses {
		switch {
		case tracker.IsCompleted(status.ID):
			completedSteps++
			entry := model.TimelineEntry{
				Kind:     model.EntryKindStatus,
				StatusID: status.ID,
				Name:     status.Name,
				State:    model.EntryStateCompleted,
			}
			if completion, ok := tracker.MostRecentCompletion(status.ID); ok {
				if !completion.CompletedAt.IsZero() {
					ts := completion.CompletedAt.Time
					entry.Timestamp = &ts
				}
				entry.Notes = completion.Notes
				entry.CompletedBy = completion.CompletedBy
			}
			entries = append(entries, entry)
		case tracker.IsSkipped(status.ID):
			// not rendered
		case tracker.IsCurrent(status.ID):
			entries = append(entries, model.TimelineEntry{
				Kind:     model.EntryKindStatus,
				StatusID: status.ID,
				Name:     status.Name,
				State:    model.EntryStateCurrent,
			})
		default:
			entries = append(entries, model.TimelineEntry{
				Kind:     model.EntryKindStatus,
				StatusID: status.ID,
				Name:     status.Name,
				State:    model.EntryStatePending,
			})
		}
	}

	for _, ev := range events {
		if entry, ok := eventEntry(ev, cat); ok {
			entries = append(entries, entry)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ti, tj := entries[i].Timestamp, entries[j].Timestamp
		switch {
		case ti != nil && tj != nil:
			return ti.Before(*tj)
		case ti != nil:
			return true
		default:
			return false
		}
	})

	state := stageState(stage, tracker, completedSteps)

	return model.StageTimeline{
		ID:             stage.ID,
		Name:           stage.Name,
		State:          state,
		CompletedSteps: completedSteps,
		TotalSteps:     len(stage.Statuses),
		Entries:        entries,
	}
}

// eventEntry converts an audit event into a timeline entry. Stage
// transitions are internal plumbing and never render. Status-change events
// take the display name of the status they point at, and are suppressed
// when that status is not in the live catalog.
func eventEntry(ev model.HistoryEvent, cat *catalog.Catalog) (model.TimelineEntry, bool) {
	eventType := model.NormalizeEventType(ev.EventType)
	if eventType == model.EventTypeStageTransition {
		return model.TimelineEntry{}, false
	}

	label := model.EventTypeLabel(eventType)
	if eventType == model.EventTypeWorkflowStatusChange {
		status, ok := cat.StatusByID(ev.NewStage)
		if !ok {
			return model.TimelineEntry{}, false
		}
		label = status.Name
	}

	entry := model.TimelineEntry{
		Kind:        model.EntryKindEvent,
		EventID:     ev.EventID,
		EventType:   eventType,
		Label:       label,
		Description: ev.Description,
		Actor:       eventActor(ev),
	}
	if !ev.CreatedAt.IsZero() {
		ts := ev.CreatedAt.Time
		entry.Timestamp = &ts
	}
	return entry, true
}

func eventActor(ev model.HistoryEvent) string {
	if ev.UserEmail != "" {
		return ev.UserEmail
	}
	return ev.CreatedBy
}

func stageState(stage model.WorkflowStage, tracker *CompletionTracker, completedSteps int) string {
	for _, status := range stage.Statuses {
		if tracker.IsCurrent(status.ID) {
			return model.StageStateCurrent
		}
	}
	if len(stage.Statuses) > 0 && completedSteps == len(stage.Statuses) {
		return model.StageStateCompleted
	}
	if completedSteps > 0 {
		return model.StageStateInProgress
	}
	return model.StageStatePending
}
