package tracking

import (
	"sort"
	"time"

	"github.com/fensterwerk/orderdesk/internal/catalog"
	"github.com/fensterwerk/orderdesk/model"
)

// initialStatusCode stands in for the order's workflow status when the
// snapshot carries none. Every order starts life as a new lead.
const initialStatusCode = "NEW_LEAD"

type stageMarker struct {
	at     time.Time
	status string
}

// EventStageAssigner resolves the stage an audit event belongs to, by
// reconstructing the chronology of status changes from the event stream
// itself. Assignment is a pure function of the order snapshot and the full
// event list; it does not depend on the order events are supplied in.
type EventStageAssigner struct {
	catalog        *catalog.Catalog
	markers        []stageMarker
	fallbackStatus string
}

// NewEventStageAssigner builds an assigner from the order snapshot and its
// complete event list.
func NewEventStageAssigner(order model.Order, events []model.HistoryEvent, cat *catalog.Catalog) *EventStageAssigner {
	a := &EventStageAssigner{
		catalog:        cat,
		fallbackStatus: order.WorkflowStatus,
	}
	if a.fallbackStatus == "" {
		a.fallbackStatus = initialStatusCode
	}

	for _, ev := range events {
		if model.NormalizeEventType(ev.EventType) != model.EventTypeWorkflowStatusChange {
			continue
		}
		if ev.NewStage == "" || ev.CreatedAt.IsZero() {
			continue
		}
		a.markers = append(a.markers, stageMarker{at: ev.CreatedAt.Time, status: ev.NewStage})
	}
	// Ties on the timestamp break on the status code, so the winning
	// marker never depends on the order events were supplied in.
	sort.Slice(a.markers, func(i, j int) bool {
		if !a.markers[i].at.Equal(a.markers[j].at) {
			return a.markers[i].at.Before(a.markers[j].at)
		}
		return a.markers[i].status < a.markers[j].status
	})

	return a
}

// StageFor returns the stage id the event is assigned to. Creation events
// pin to the first stage; status-change events classify their own new
// status; everything else resolves against the latest marker at or before
// the event's timestamp, falling back to the order's workflow status. The
// result always names a stage present in the live catalog.
func (a *EventStageAssigner) StageFor(ev model.HistoryEvent) string {
	switch model.NormalizeEventType(ev.EventType) {
	case model.EventTypeOrderCreation:
		return a.catalog.FirstStage().ID
	case model.EventTypeWorkflowStatusChange:
		if ev.NewStage != "" {
			return a.existing(catalog.ClassifyStatus(ev.NewStage))
		}
	}

	status := a.fallbackStatus
	if !ev.CreatedAt.IsZero() {
		for _, m := range a.markers {
			if m.at.After(ev.CreatedAt.Time) {
				break
			}
			status = m.status
		}
	}
	return a.existing(catalog.ClassifyStatus(status))
}

// existing maps a classified stage id onto the live catalog, falling back
// to the first stage so no event is ever dropped for grouping.
func (a *EventStageAssigner) existing(stageID string) string {
	if _, ok := a.catalog.StageByID(stageID); ok {
		return stageID
	}
	return a.catalog.FirstStage().ID
}
