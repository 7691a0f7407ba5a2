package tracking

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fensterwerk/orderdesk/internal/catalog"
	"github.com/fensterwerk/orderdesk/internal/observability"
	"github.com/fensterwerk/orderdesk/model"
)

// Backend is the read side of the CRM client the service consumes.
type Backend interface {
	GetOrder(ctx context.Context, orderID string) (model.Order, error)
	GetEvents(ctx context.Context, orderID string) ([]model.HistoryEvent, error)
}

// Mutator is the write side. Every mutation returns the backend's response
// unchanged; the service follows up with a full refetch rather than an
// optimistic local merge.
type Mutator interface {
	UpdateStatus(ctx context.Context, orderID, newStatus, notes string) (model.Order, error)
	SetCurrentStatus(ctx context.Context, orderID, status, notes string) (model.Order, error)
	RemoveCompletion(ctx context.Context, orderID, status, notes string) (model.Order, error)
	AddNote(ctx context.Context, orderID, note string) error
}

// CatalogSource resolves validated catalogs per order type.
type CatalogSource interface {
	Resolve(ctx context.Context, orderType string) (*catalog.Catalog, error)
}

// Service assembles tracking snapshots and serves the derived views.
type Service struct {
	backend         Backend
	mutator         Mutator
	catalogs        CatalogSource
	nextStatusCount int
	metrics         *observability.Metrics
	logger          *zap.Logger
}

// NewService wires the service. Metrics may be nil in tests.
func NewService(backend Backend, mutator Mutator, catalogs CatalogSource, nextStatusCount int, metrics *observability.Metrics, logger *zap.Logger) *Service {
	if nextStatusCount < 1 {
		nextStatusCount = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		backend:         backend,
		mutator:         mutator,
		catalogs:        catalogs,
		nextStatusCount: nextStatusCount,
		metrics:         metrics,
		logger:          logger,
	}
}

// Tracking fetches the order and its events concurrently, resolves the
// catalog for the order's type, and derives the full tracking descriptor.
// An optional search term filters which events enter the timeline.
func (s *Service) Tracking(ctx context.Context, orderID, query string) (*model.TrackingDescriptor, error) {
	started := time.Now()

	var (
		wg        sync.WaitGroup
		order     model.Order
		events    []model.HistoryEvent
		orderErr  error
		eventsErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		order, orderErr = s.backend.GetOrder(ctx, orderID)
	}()
	go func() {
		defer wg.Done()
		events, eventsErr = s.backend.GetEvents(ctx, orderID)
	}()
	wg.Wait()

	if orderErr != nil {
		return nil, orderErr
	}
	if eventsErr != nil {
		return nil, eventsErr
	}

	orderType := catalog.NormalizeOrderType(order.OrderType())
	ctx, catalogSpan := observability.StartSpan(ctx, "catalog.resolve",
		observability.AttrOrderType.String(orderType))
	cat, err := s.catalogs.Resolve(ctx, orderType)
	observability.EndSpanWithError(catalogSpan, err)
	if err != nil {
		s.recordDerivation(orderType, "error", started, 0)
		return nil, err
	}

	_, deriveSpan := observability.StartSpan(ctx, "tracking.derive",
		observability.AttrOrderID.String(orderID),
		observability.AttrOrderType.String(orderType))
	events = FilterEvents(events, query)
	descriptor := Derive(order, events, cat, s.nextStatusCount)
	deriveSpan.End()
	s.recordDerivation(orderType, "ok", started, len(events))

	return descriptor, nil
}

// Derive runs the snapshot through the full reconciliation pipeline.
func Derive(order model.Order, events []model.HistoryEvent, cat *catalog.Catalog, nextStatusCount int) *model.TrackingDescriptor {
	tracker := NewCompletionTracker(order, cat)
	assigner := NewEventStageAssigner(order, events, cat)

	return &model.TrackingDescriptor{
		OrderID:          order.OrderID,
		OrderType:        catalog.NormalizeOrderType(order.OrderType()),
		CustomerName:     order.CustomerName,
		Progress:         Summarize(order, cat, tracker, nextStatusCount),
		ActiveStageIndex: tracker.ActiveStageIndex(),
		Stages:           BuildTimelines(order, events, cat, tracker, assigner),
	}
}

// Events returns the order's event history, filtered by the optional
// search term.
func (s *Service) Events(ctx context.Context, orderID, query string) (*model.EventsResponse, error) {
	events, err := s.backend.GetEvents(ctx, orderID)
	if err != nil {
		return nil, err
	}
	events = FilterEvents(events, query)
	return &model.EventsResponse{
		OrderID: orderID,
		Events:  events,
		Total:   len(events),
	}, nil
}

// Workflow returns the validated catalog for an order type.
func (s *Service) Workflow(ctx context.Context, orderType string) (*model.WorkflowResponse, error) {
	normalized := catalog.NormalizeOrderType(orderType)
	cat, err := s.catalogs.Resolve(ctx, normalized)
	if err != nil {
		return nil, err
	}
	return &model.WorkflowResponse{
		OrderType: normalized,
		Stages:    cat.StagesInOrder(),
	}, nil
}

// UpdateStatus submits a status update and refetches the order so the
// response reflects the backend's committed state.
func (s *Service) UpdateStatus(ctx context.Context, orderID, newStatus, notes string) (*model.OrderResponse, error) {
	if _, err := s.mutator.UpdateStatus(ctx, orderID, newStatus, notes); err != nil {
		s.recordStatusUpdate("update_status", "error")
		return nil, err
	}
	s.recordStatusUpdate("update_status", "ok")
	return s.refetchOrder(ctx, orderID)
}

// SetCurrentStatus moves the order's current status without recording a
// completion, then refetches.
func (s *Service) SetCurrentStatus(ctx context.Context, orderID, status, notes string) (*model.OrderResponse, error) {
	if _, err := s.mutator.SetCurrentStatus(ctx, orderID, status, notes); err != nil {
		s.recordStatusUpdate("set_current_status", "error")
		return nil, err
	}
	s.recordStatusUpdate("set_current_status", "ok")
	return s.refetchOrder(ctx, orderID)
}

// RemoveCompletion strikes a completion record from the order, then
// refetches.
func (s *Service) RemoveCompletion(ctx context.Context, orderID, status, notes string) (*model.OrderResponse, error) {
	if _, err := s.mutator.RemoveCompletion(ctx, orderID, status, notes); err != nil {
		s.recordStatusUpdate("remove_completion", "error")
		return nil, err
	}
	s.recordStatusUpdate("remove_completion", "ok")
	return s.refetchOrder(ctx, orderID)
}

// AddNote appends a note event and returns the refetched event list.
func (s *Service) AddNote(ctx context.Context, orderID, note string) (*model.EventsResponse, error) {
	if err := s.mutator.AddNote(ctx, orderID, note); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordNoteAdded()
	}
	return s.Events(ctx, orderID, "")
}

func (s *Service) refetchOrder(ctx context.Context, orderID string) (*model.OrderResponse, error) {
	order, err := s.backend.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &model.OrderResponse{Order: order}, nil
}

func (s *Service) recordDerivation(orderType, status string, started time.Time, eventCount int) {
	if s.metrics != nil {
		s.metrics.RecordTrackingDerivation(orderType, status, time.Since(started), eventCount)
	}
}

func (s *Service) recordStatusUpdate(operation, status string) {
	if s.metrics != nil {
		s.metrics.RecordStatusUpdate(operation, status)
	}
}

// FilterEvents applies a case-insensitive search term over an event's
// description, type, stage codes, and actor fields. An empty term keeps
// everything.
func FilterEvents(events []model.HistoryEvent, query string) []model.HistoryEvent {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return events
	}
	filtered := []model.HistoryEvent{}
	for _, ev := range events {
		if eventMatches(ev, q) {
			filtered = append(filtered, ev)
		}
	}
	return filtered
}

func eventMatches(ev model.HistoryEvent, q string) bool {
	for _, field := range []string{
		ev.Description,
		ev.EventType,
		ev.PreviousStage,
		ev.NewStage,
		ev.UserEmail,
		ev.CreatedBy,
	} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
