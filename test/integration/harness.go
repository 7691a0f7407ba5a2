// Package integration provides a reusable test harness for end-to-end
// integration testing of the OrderDesk BFF server. It starts a full HTTP
// server wired to a mock CRM backend, an in-memory idempotency store, and a
// test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fensterwerk/orderdesk/internal/catalog"
	"github.com/fensterwerk/orderdesk/internal/config"
	"github.com/fensterwerk/orderdesk/internal/crm"
	"github.com/fensterwerk/orderdesk/internal/observability"
	"github.com/fensterwerk/orderdesk/internal/tracking"
	"github.com/fensterwerk/orderdesk/internal/transport"
	"github.com/fensterwerk/orderdesk/model"
)

// TestHarness encapsulates a fully wired BFF instance with a mock CRM
// backend for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	CRM              *MockCRM
	IdempotencyStore *crm.MemoryIdempotencyStore
	Service          *tracking.Service
	Catalogs         *catalog.Resolver

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	order              model.Order
	events             []model.HistoryEvent
	stages             []model.WorkflowStage
	idempotencyEnabled bool
	handlerTimeout     time.Duration
	retryAttempts      int
	breakerThreshold   int
	crmTimeout         time.Duration
}

// WithOrder seeds the mock CRM with the given order.
func WithOrder(order model.Order) HarnessOption {
	return func(c *harnessConfig) {
		c.order = order
	}
}

// WithEvents seeds the mock CRM event history.
func WithEvents(events []model.HistoryEvent) HarnessOption {
	return func(c *harnessConfig) {
		c.events = events
	}
}

// WithStages seeds the mock CRM workflow definition.
func WithStages(stages []model.WorkflowStage) HarnessOption {
	return func(c *harnessConfig) {
		c.stages = stages
	}
}

// WithIdempotency enables idempotency checking with an in-memory store.
func WithIdempotency() HarnessOption {
	return func(c *harnessConfig) {
		c.idempotencyEnabled = true
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithRetryAttempts sets the CRM client's maximum attempt count.
func WithRetryAttempts(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.retryAttempts = n
	}
}

// WithBreakerThreshold sets the CRM circuit breaker failure threshold.
func WithBreakerThreshold(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.breakerThreshold = n
	}
}

// WithCRMTimeout sets the per-request CRM client timeout.
func WithCRMTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.crmTimeout = d
	}
}

// NewTestHarness creates and starts a full BFF test instance. The server is
// automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		order:            DefaultOrder(),
		events:           DefaultEvents(),
		stages:           DefaultStages(),
		handlerTimeout:   10 * time.Second,
		retryAttempts:    1,
		breakerThreshold: 5,
		crmTimeout:       5 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}

	// Step 1: Start mock CRM and JWT issuer.
	h.CRM = NewMockCRM(t, hc.order, hc.events, hc.stages)
	h.issuer = newTokenIssuer(t)

	// Step 2: Build config pointing at the mocks.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	h.cfg.Services[config.ServiceCRM] = config.ServiceConfig{
		BaseURL: h.CRM.URL(),
		Timeout: hc.crmTimeout,
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold: hc.breakerThreshold,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
		},
		Retry: config.RetryConfig{
			MaxAttempts:    hc.retryAttempts,
			BackoffInitial: time.Millisecond,
			BackoffMax:     5 * time.Millisecond,
			IdempotentOnly: true,
		},
	}
	h.cfg.Idempotency.Enabled = hc.idempotencyEnabled
	h.cfg.Observability.Metrics.Enabled = false
	h.cfg.Observability.Tracing.Enabled = false

	// Step 3: Wire the real stack.
	logger := zap.NewNop()
	crmClient := crm.NewClient(h.cfg.CRM(), h.cfg.Identity.SessionCookie, nil, logger)
	h.Catalogs = catalog.NewResolver(crmClient, h.cfg.Catalog, nil)
	h.Service = tracking.NewService(crmClient, crmClient, h.Catalogs, h.cfg.Tracking.NextStatusCount, nil, logger)

	var idempotency crm.IdempotencyStore
	if hc.idempotencyEnabled {
		h.IdempotencyStore = crm.NewMemoryIdempotencyStore()
		idempotency = h.IdempotencyStore
	}

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour, logger)

	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Authenticate: transport.SessionAuthenticator(h.cfg.Identity, jwks),
		Service:      h.Service,
		AuthChecker:  crmClient,
		Idempotency:  idempotency,
		Readiness: observability.ReadinessChecks{
			CRMBackend: crmClient,
		},
		Logger: logger,
	})

	// Step 4: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs a GET request authenticated via the session cookie.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, headers)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.AddCookie(&http.Cookie{Name: h.cfg.Identity.SessionCookie, Value: token})
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertErrorCode checks the status and the code field of the error envelope.
func (h *TestHarness) AssertErrorCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", body.Error.Code, code, body.Error.Message)
	}
}

// --- Default test claims ---

// ManagerClaims returns TestClaims for a sales manager user.
func ManagerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-manager",
		Email:     "manager@fensterwerk.de",
		Roles:     []string{"sales_manager"},
	}
}

// ClerkClaims returns TestClaims for a back-office clerk user.
func ClerkClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-clerk",
		Email:     "clerk@fensterwerk.de",
		Roles:     []string{"back_office"},
	}
}

// --- Default fixtures ---

// DefaultOrder returns the order the mock CRM serves unless overridden.
func DefaultOrder() model.Order {
	return model.Order{
		OrderID:           "ORD-1001",
		CustomerName:      "Meier GmbH",
		Type:              model.OrderTypeMaterialsOnly,
		CurrentStatus:     "QUOTE_SENT",
		CompletedStatuses: []string{"NEW_LEAD", "QUOTE_REQUESTED"},
		StatusHistory: []model.StatusCompletion{
			{Status: "NEW_LEAD", CompletedAt: fixedTime("2026-02-01T09:00:00Z"), CompletedBy: "manager@fensterwerk.de"},
			{Status: "QUOTE_REQUESTED", CompletedAt: fixedTime("2026-02-03T14:30:00Z")},
		},
	}
}

// DefaultStages returns the workflow definition the mock CRM serves.
func DefaultStages() []model.WorkflowStage {
	return []model.WorkflowStage{
		{
			ID:   "LEAD_ACQUISITION",
			Name: "Lead Acquisition",
			Statuses: []model.WorkflowStatus{
				{ID: "NEW_LEAD", Name: "New Lead"},
				{ID: "QUOTE_REQUESTED", Name: "Quote Requested"},
			},
		},
		{
			ID:   "QUOTATION",
			Name: "Quotation",
			Statuses: []model.WorkflowStatus{
				{ID: "QUOTE_SENT", Name: "Quote Sent"},
				{ID: "QUOTE_ACCEPTED", Name: "Quote Accepted"},
			},
		},
		{
			ID:   "PRODUCTION",
			Name: "Production",
			Statuses: []model.WorkflowStatus{
				{ID: "IN_PRODUCTION", Name: "In Production"},
				{ID: "READY_FOR_DELIVERY", Name: "Ready for Delivery"},
			},
		},
	}
}

// DefaultEvents returns the event history the mock CRM serves.
func DefaultEvents() []model.HistoryEvent {
	return []model.HistoryEvent{
		{
			EventID:   "ev-1",
			EventType: model.EventTypeOrderCreation,
			CreatedAt: fixedTime("2026-02-01T09:00:00Z"),
			UserEmail: "manager@fensterwerk.de",
		},
		{
			EventID:     "ev-2",
			EventType:   model.EventTypeNote,
			CreatedAt:   fixedTime("2026-02-03T15:00:00Z"),
			Description: "Customer asked about deposit terms",
			UserEmail:   "clerk@fensterwerk.de",
		},
		{
			EventID:     "ev-3",
			EventType:   model.EventTypeDocument,
			CreatedAt:   fixedTime("2026-02-04T10:00:00Z"),
			Description: "Quote PDF uploaded",
		},
	}
}

func fixedTime(s string) model.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic("bad fixture timestamp: " + s)
	}
	return model.Time{Time: t}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
