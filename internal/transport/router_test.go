package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fensterwerk/orderdesk/internal/catalog"
	"github.com/fensterwerk/orderdesk/internal/config"
	"github.com/fensterwerk/orderdesk/internal/crm"
	"github.com/fensterwerk/orderdesk/internal/observability"
	"github.com/fensterwerk/orderdesk/internal/tracking"
	"github.com/fensterwerk/orderdesk/model"
)

// --- fakes ---

type fakeBackend struct {
	order      model.Order
	events     []model.HistoryEvent
	orderErr   error
	eventsErr  error
	orderCalls int
	eventCalls int
}

func (f *fakeBackend) GetOrder(_ context.Context, _ string) (model.Order, error) {
	f.orderCalls++
	return f.order, f.orderErr
}

func (f *fakeBackend) GetEvents(_ context.Context, _ string) ([]model.HistoryEvent, error) {
	f.eventCalls++
	return f.events, f.eventsErr
}

type fakeMutator struct {
	updateCalls int
	setCalls    int
	removeCalls int
	noteCalls   int
	err         error
}

func (f *fakeMutator) UpdateStatus(_ context.Context, _, _, _ string) (model.Order, error) {
	f.updateCalls++
	return model.Order{}, f.err
}

func (f *fakeMutator) SetCurrentStatus(_ context.Context, _, _, _ string) (model.Order, error) {
	f.setCalls++
	return model.Order{}, f.err
}

func (f *fakeMutator) RemoveCompletion(_ context.Context, _, _, _ string) (model.Order, error) {
	f.removeCalls++
	return model.Order{}, f.err
}

func (f *fakeMutator) AddNote(_ context.Context, _, _ string) error {
	f.noteCalls++
	return f.err
}

type fakeCatalogSource struct {
	cat *catalog.Catalog
	err error
}

func (f *fakeCatalogSource) Resolve(_ context.Context, _ string) (*catalog.Catalog, error) {
	return f.cat, f.err
}

type fakeAuthChecker struct {
	ok  bool
	err error
}

func (f *fakeAuthChecker) CheckAuth(_ context.Context) (bool, error) {
	return f.ok, f.err
}

type stubHealthChecker struct{ err error }

func (s stubHealthChecker) HealthCheck(_ context.Context) error { return s.err }

// --- helpers ---

func routerTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]model.WorkflowStage{
		{ID: "LEAD_ACQUISITION", Name: "Lead Acquisition", Statuses: []model.WorkflowStatus{
			{ID: "NEW_LEAD", Name: "New Lead"},
			{ID: "QUOTE_REQUESTED", Name: "Quote Requested"},
		}},
		{ID: "QUOTATION", Name: "Quotation", Statuses: []model.WorkflowStatus{
			{ID: "QUOTE_SENT", Name: "Quote Sent"},
			{ID: "QUOTE_ACCEPTED", Name: "Quote Accepted"},
		}},
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return cat
}

func stubAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithClaims(r.Context(), map[string]any{
			"sub":   "user-1",
			"email": "user@fensterwerk.de",
			"roles": []any{"admin"},
			"exp":   float64(time.Now().Add(time.Hour).Unix()),
		})
		ctx = WithSessionToken(ctx, "tok-123")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type routerFixture struct {
	backend *fakeBackend
	mutator *fakeMutator
	auth    *fakeAuthChecker
	idem    *crm.MemoryIdempotencyStore
	router  http.Handler
}

func newTestRouter(t *testing.T) *routerFixture {
	t.Helper()
	backend := &fakeBackend{
		order: model.Order{
			OrderID:           "ORD-1",
			CustomerName:      "Meier GmbH",
			Type:              model.OrderTypeMaterialsOnly,
			CurrentStatus:     "QUOTE_SENT",
			CompletedStatuses: []string{"NEW_LEAD", "QUOTE_REQUESTED"},
		},
		events: []model.HistoryEvent{
			{EventID: "ev-1", EventType: "note", Description: "called the customer"},
		},
	}
	mutator := &fakeMutator{}
	auth := &fakeAuthChecker{ok: true}
	idem := crm.NewMemoryIdempotencyStore()

	cfg := config.Defaults()
	cfg.Identity.Issuer = "https://auth.fensterwerk.de"
	cfg.Identity.Audience = "orderdesk-bff"
	cfg.Identity.JWKSURL = "http://unused"
	cfg.Services[config.ServiceCRM] = config.ServiceConfig{BaseURL: "http://unused"}
	cfg.Observability.Metrics.Enabled = false
	cfg.Observability.Tracing.Enabled = false
	cfg.Idempotency.Enabled = true

	svc := tracking.NewService(backend, mutator, &fakeCatalogSource{cat: routerTestCatalog(t)}, 3, nil, nil)

	router := NewRouter(Dependencies{
		Config:       cfg,
		Authenticate: stubAuth,
		Service:      svc,
		AuthChecker:  auth,
		Idempotency:  idem,
		Readiness: observability.ReadinessChecks{
			CRMBackend: stubHealthChecker{},
		},
	})

	return &routerFixture{
		backend: backend,
		mutator: mutator,
		auth:    auth,
		idem:    idem,
		router:  router,
	}
}

func (f *routerFixture) do(method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error.Code
}

// --- tests ---

func TestRouter_health(t *testing.T) {
	f := newTestRouter(t)
	w := f.do("GET", "/ui/health", nil, nil)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body observability.HealthResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestRouter_ready(t *testing.T) {
	f := newTestRouter(t)
	w := f.do("GET", "/ui/ready", nil, nil)
	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRouter_securityAndCorrelationHeaders(t *testing.T) {
	f := newTestRouter(t)
	w := f.do("GET", "/ui/health", nil, map[string]string{"X-Correlation-Id": "corr-42"})

	if got := w.Header().Get("X-Correlation-Id"); got != "corr-42" {
		t.Errorf("X-Correlation-Id = %q, want corr-42", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}

	// Absent header gets a generated ID.
	w = f.do("GET", "/ui/health", nil, nil)
	if w.Header().Get("X-Correlation-Id") == "" {
		t.Error("correlation ID should be generated when absent")
	}
}

func TestRouter_corsPreflight(t *testing.T) {
	f := newTestRouter(t)
	w := f.do("OPTIONS", "/ui/orders/ORD-1/tracking", nil, map[string]string{"Origin": "https://admin.fensterwerk.de"})
	if w.Code != 204 {
		t.Errorf("status = %d, want 204 for preflight", w.Code)
	}
}

func TestRouter_tracking(t *testing.T) {
	f := newTestRouter(t)
	w := f.do("GET", "/ui/orders/ORD-1/tracking", nil, nil)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	var desc model.TrackingDescriptor
	if err := json.NewDecoder(w.Body).Decode(&desc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if desc.OrderID != "ORD-1" {
		t.Errorf("order_id = %q", desc.OrderID)
	}
	if desc.ActiveStageIndex != 1 {
		t.Errorf("active_stage_index = %d, want 1", desc.ActiveStageIndex)
	}
	if desc.Progress.PercentComplete != 50 {
		t.Errorf("percent_complete = %d, want 50", desc.Progress.PercentComplete)
	}
	if len(desc.Stages) != 2 {
		t.Errorf("stages = %d, want 2", len(desc.Stages))
	}
}

func TestRouter_tracking_backendNotFound(t *testing.T) {
	f := newTestRouter(t)
	f.backend.orderErr = model.NewNotFoundError("order ORD-1 not found")

	w := f.do("GET", "/ui/orders/ORD-1/tracking", nil, nil)
	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if code := errorCode(t, w); code != model.ErrNotFound {
		t.Errorf("code = %q, want NOT_FOUND", code)
	}
}

func TestRouter_tracking_invalidCatalogFailsClosed(t *testing.T) {
	f := newTestRouter(t)

	svc := tracking.NewService(f.backend, f.mutator,
		&fakeCatalogSource{err: model.NewCatalogInvalidError("stage without statuses")}, 3, nil, nil)

	cfg := config.Defaults()
	cfg.Observability.Metrics.Enabled = false
	router := NewRouter(Dependencies{
		Config:       cfg,
		Authenticate: stubAuth,
		Service:      svc,
		AuthChecker:  f.auth,
	})

	req := httptest.NewRequest("GET", "/ui/orders/ORD-1/tracking", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != 502 {
		t.Errorf("status = %d, want 502 for invalid catalog", w.Code)
	}
	if code := errorCode(t, w); code != model.ErrCatalogInvalid {
		t.Errorf("code = %q, want CATALOG_INVALID", code)
	}
}

func TestRouter_events(t *testing.T) {
	f := newTestRouter(t)
	w := f.do("GET", "/ui/orders/ORD-1/events", nil, nil)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp model.EventsResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Total != 1 || len(resp.Events) != 1 {
		t.Errorf("events = %+v", resp)
	}
}

func TestRouter_events_queryFilters(t *testing.T) {
	f := newTestRouter(t)
	f.backend.events = []model.HistoryEvent{
		{EventID: "ev-1", EventType: "note", Description: "called the customer"},
		{EventID: "ev-2", EventType: "payment", Description: "deposit received"},
	}

	w := f.do("GET", "/ui/orders/ORD-1/events?q=deposit", nil, nil)
	var resp model.EventsResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Total != 1 || resp.Events[0].EventID != "ev-2" {
		t.Errorf("filtered events = %+v", resp)
	}
}

func TestRouter_workflow(t *testing.T) {
	f := newTestRouter(t)
	w := f.do("GET", "/ui/workflow/materials_only", nil, nil)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp model.WorkflowResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.OrderType != model.OrderTypeMaterialsOnly {
		t.Errorf("order_type = %q", resp.OrderType)
	}
	if len(resp.Stages) != 2 {
		t.Errorf("stages = %d, want 2", len(resp.Stages))
	}
}

func TestRouter_session(t *testing.T) {
	f := newTestRouter(t)
	w := f.do("GET", "/ui/session", nil, nil)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var desc model.SessionDescriptor
	json.NewDecoder(w.Body).Decode(&desc)
	if desc.SubjectID != "user-1" {
		t.Errorf("subject_id = %q, want user-1", desc.SubjectID)
	}
	if desc.ExpiresAt == nil {
		t.Error("expires_at should be derived from the exp claim")
	}
}

func TestRouter_session_revokedUpstream(t *testing.T) {
	f := newTestRouter(t)
	f.auth.ok = false

	w := f.do("GET", "/ui/session", nil, nil)
	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRouter_session_backendDown(t *testing.T) {
	f := newTestRouter(t)
	f.auth.err = model.NewBackendUnavailableError()

	w := f.do("GET", "/ui/session", nil, nil)
	if w.Code != 502 {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestRouter_updateStatus(t *testing.T) {
	f := newTestRouter(t)
	w := f.do("POST", "/ui/orders/ORD-1/status",
		map[string]string{"new_status": "QUOTE_ACCEPTED", "notes": "verbal ok"}, nil)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	if f.mutator.updateCalls != 1 {
		t.Errorf("updateCalls = %d, want 1", f.mutator.updateCalls)
	}
	if f.backend.orderCalls != 1 {
		t.Errorf("orderCalls = %d, want 1 (refetch)", f.backend.orderCalls)
	}

	var resp model.OrderResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Order.OrderID != "ORD-1" {
		t.Errorf("order = %+v", resp.Order)
	}
}

func TestRouter_updateStatus_missingStatus(t *testing.T) {
	f := newTestRouter(t)
	w := f.do("POST", "/ui/orders/ORD-1/status", map[string]string{"notes": "x"}, nil)

	if w.Code != 422 {
		t.Errorf("status = %d, want 422", w.Code)
	}
	if f.mutator.updateCalls != 0 {
		t.Error("mutator should not be called on validation failure")
	}
}

func TestRouter_updateStatus_badJSON(t *testing.T) {
	f := newTestRouter(t)
	req := httptest.NewRequest("POST", "/ui/orders/ORD-1/status", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != 400 {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRouter_updateStatus_idempotentReplay(t *testing.T) {
	f := newTestRouter(t)
	body := map[string]string{"new_status": "QUOTE_ACCEPTED"}
	header := map[string]string{"X-Idempotency-Key": "key-1"}

	w1 := f.do("POST", "/ui/orders/ORD-1/status", body, header)
	w2 := f.do("POST", "/ui/orders/ORD-1/status", body, header)

	if w1.Code != 200 || w2.Code != 200 {
		t.Fatalf("statuses = %d, %d, want 200 both", w1.Code, w2.Code)
	}
	if f.mutator.updateCalls != 1 {
		t.Errorf("updateCalls = %d, want 1 (replay served from store)", f.mutator.updateCalls)
	}
}

func TestRouter_updateStatus_idempotencyConflict(t *testing.T) {
	f := newTestRouter(t)
	header := map[string]string{"X-Idempotency-Key": "key-1"}

	f.do("POST", "/ui/orders/ORD-1/status", map[string]string{"new_status": "QUOTE_SENT"}, header)
	w := f.do("POST", "/ui/orders/ORD-1/status", map[string]string{"new_status": "QUOTE_ACCEPTED"}, header)

	if w.Code != 409 {
		t.Errorf("status = %d, want 409 for reused key with different input", w.Code)
	}
	if code := errorCode(t, w); code != model.ErrConflict {
		t.Errorf("code = %q, want CONFLICT", code)
	}
}

func TestRouter_updateStatus_mutationErrorNotStored(t *testing.T) {
	f := newTestRouter(t)
	f.mutator.err = model.NewConflictError("invalid transition")
	header := map[string]string{"X-Idempotency-Key": "key-1"}
	body := map[string]string{"new_status": "QUOTE_ACCEPTED"}

	w := f.do("POST", "/ui/orders/ORD-1/status", body, header)
	if w.Code != 409 {
		t.Fatalf("status = %d, want 409", w.Code)
	}

	// Failure is not cached; a retry reaches the backend again.
	f.mutator.err = nil
	w = f.do("POST", "/ui/orders/ORD-1/status", body, header)
	if w.Code != 200 {
		t.Errorf("retry status = %d, want 200", w.Code)
	}
	if f.mutator.updateCalls != 2 {
		t.Errorf("updateCalls = %d, want 2", f.mutator.updateCalls)
	}
}

func TestRouter_setCurrentStatus(t *testing.T) {
	f := newTestRouter(t)
	w := f.do("POST", "/ui/orders/ORD-1/current",
		map[string]string{"status": "QUOTE_SENT", "notes": "correction"}, nil)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if f.mutator.setCalls != 1 {
		t.Errorf("setCalls = %d, want 1", f.mutator.setCalls)
	}
}

func TestRouter_removeCompletion(t *testing.T) {
	f := newTestRouter(t)
	w := f.do("POST", "/ui/orders/ORD-1/completions/remove",
		map[string]string{"status": "QUOTE_REQUESTED"}, nil)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if f.mutator.removeCalls != 1 {
		t.Errorf("removeCalls = %d, want 1", f.mutator.removeCalls)
	}
}

func TestRouter_removeCompletion_missingStatus(t *testing.T) {
	f := newTestRouter(t)
	w := f.do("POST", "/ui/orders/ORD-1/completions/remove", map[string]string{}, nil)
	if w.Code != 422 {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestRouter_addNote(t *testing.T) {
	f := newTestRouter(t)
	w := f.do("POST", "/ui/orders/ORD-1/notes", map[string]string{"note": "call back Friday"}, nil)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if f.mutator.noteCalls != 1 {
		t.Errorf("noteCalls = %d, want 1", f.mutator.noteCalls)
	}
	var resp model.EventsResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.OrderID != "ORD-1" {
		t.Errorf("order_id = %q", resp.OrderID)
	}
}

func TestRouter_addNote_empty(t *testing.T) {
	f := newTestRouter(t)
	w := f.do("POST", "/ui/orders/ORD-1/notes", map[string]string{"note": ""}, nil)
	if w.Code != 422 {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestRouter_recoversFromPanic(t *testing.T) {
	cfg := config.Defaults()
	cfg.Observability.Metrics.Enabled = false
	router := NewRouter(Dependencies{
		Config: cfg,
		Authenticate: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				panic(fmt.Errorf("boom"))
			})
		},
	})

	req := httptest.NewRequest("GET", "/ui/session", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != 500 {
		t.Errorf("status = %d, want 500 after panic", w.Code)
	}
}
