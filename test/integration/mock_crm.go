package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fensterwerk/orderdesk/model"
)

// StatusCall records one mutation request received by the mock CRM.
type StatusCall struct {
	OrderID string
	Path    string
	Body    map[string]any
	Cookie  string
}

// MockCRM is an httptest-backed stand-in for the CRM service. It serves the
// order, event, and workflow endpoints the BFF consumes and supports failure
// injection for resilience tests.
type MockCRM struct {
	t      *testing.T
	server *httptest.Server

	mu            sync.Mutex
	order         model.Order
	events        []model.HistoryEvent
	stages        []model.WorkflowStage
	authenticated bool

	failRemaining int
	failStatus    int

	calls         []StatusCall
	requestCounts map[string]int
}

// NewMockCRM starts a mock CRM server seeded with the given fixtures.
func NewMockCRM(t *testing.T, order model.Order, events []model.HistoryEvent, stages []model.WorkflowStage) *MockCRM {
	t.Helper()

	m := &MockCRM{
		t:             t,
		order:         order,
		events:        events,
		stages:        stages,
		authenticated: true,
		requestCounts: make(map[string]int),
	}

	r := chi.NewRouter()
	r.Get("/orders/{orderId}", m.handleGetOrder)
	r.Get("/order-events/{orderId}", m.handleGetEvents)
	r.Get("/workflow/full-workflow/{orderType}", m.handleGetWorkflow)
	r.Get("/auth/check-auth", m.handleCheckAuth)
	r.Post("/orders/{orderId}/update-status", m.handleUpdateStatus)
	r.Post("/orders/{orderId}/set-current-status", m.handleSetCurrentStatus)
	r.Post("/orders/{orderId}/remove-completed-status", m.handleRemoveCompletedStatus)
	r.Post("/order-events/{orderId}/note", m.handleAddNote)

	m.server = httptest.NewServer(r)
	t.Cleanup(m.server.Close)
	return m
}

// URL returns the mock server's base URL.
func (m *MockCRM) URL() string {
	return m.server.URL
}

// FailNext makes the next n requests fail with the given HTTP status.
func (m *MockCRM) FailNext(n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRemaining = n
	m.failStatus = status
}

// SetAuthenticated controls the check-auth response.
func (m *MockCRM) SetAuthenticated(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticated = ok
}

// Order returns the current order state.
func (m *MockCRM) Order() model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order
}

// Calls returns all recorded mutation calls.
func (m *MockCRM) Calls() []StatusCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StatusCall(nil), m.calls...)
}

// RequestCount returns how many requests hit the given route pattern.
func (m *MockCRM) RequestCount(pattern string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCounts[pattern]
}

// intercept counts the request and applies injected failures. Returns true
// when the request was answered with a failure.
func (m *MockCRM) intercept(w http.ResponseWriter, r *http.Request) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	pattern := chi.RouteContext(r.Context()).RoutePattern()
	m.requestCounts[pattern]++

	if m.failRemaining > 0 {
		m.failRemaining--
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.failStatus)
		json.NewEncoder(w).Encode(map[string]string{"detail": "injected failure"})
		return true
	}
	return false
}

func (m *MockCRM) recordCall(r *http.Request, body map[string]any) {
	cookie := ""
	if c, err := r.Cookie("session"); err == nil {
		cookie = c.Value
	}
	m.mu.Lock()
	m.calls = append(m.calls, StatusCall{
		OrderID: chi.URLParam(r, "orderId"),
		Path:    r.URL.Path,
		Body:    body,
		Cookie:  cookie,
	})
	m.mu.Unlock()
}

func (m *MockCRM) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}
	m.mu.Lock()
	order := m.order
	m.mu.Unlock()

	if chi.URLParam(r, "orderId") != order.OrderID {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Order not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (m *MockCRM) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}
	m.mu.Lock()
	events := append([]model.HistoryEvent(nil), m.events...)
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, events)
}

func (m *MockCRM) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}
	m.mu.Lock()
	stages := m.stages
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"stages": stages})
}

func (m *MockCRM) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}
	m.mu.Lock()
	ok := m.authenticated
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": ok})
}

func (m *MockCRM) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}
	body := decodeBody(w, r)
	if body == nil {
		return
	}
	m.recordCall(r, body)

	newStatus, _ := body["new_status"].(string)
	m.mu.Lock()
	if m.order.CurrentStatus != "" {
		m.order.CompletedStatuses = append(m.order.CompletedStatuses, m.order.CurrentStatus)
		m.order.StatusHistory = append(m.order.StatusHistory, model.StatusCompletion{
			Status:      m.order.CurrentStatus,
			CompletedAt: model.Time{Time: time.Now().UTC()},
		})
	}
	m.order.CurrentStatus = newStatus
	order := m.order
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (m *MockCRM) handleSetCurrentStatus(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}
	body := decodeBody(w, r)
	if body == nil {
		return
	}
	m.recordCall(r, body)

	status, _ := body["status"].(string)
	m.mu.Lock()
	m.order.CurrentStatus = status
	order := m.order
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (m *MockCRM) handleRemoveCompletedStatus(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}
	body := decodeBody(w, r)
	if body == nil {
		return
	}
	m.recordCall(r, body)

	status, _ := body["status"].(string)
	m.mu.Lock()
	kept := m.order.CompletedStatuses[:0]
	for _, s := range m.order.CompletedStatuses {
		if s != status {
			kept = append(kept, s)
		}
	}
	m.order.CompletedStatuses = kept
	order := m.order
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (m *MockCRM) handleAddNote(w http.ResponseWriter, r *http.Request) {
	if m.intercept(w, r) {
		return
	}
	body := decodeBody(w, r)
	if body == nil {
		return
	}
	m.recordCall(r, body)

	note, _ := body["note"].(string)
	m.mu.Lock()
	m.events = append(m.events, model.HistoryEvent{
		EventID:     "ev-note",
		EventType:   model.EventTypeNote,
		CreatedAt:   model.Time{Time: time.Now().UTC()},
		Description: note,
	})
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func decodeBody(w http.ResponseWriter, r *http.Request) map[string]any {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid body"})
		return nil
	}
	return body
}
