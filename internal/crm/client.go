package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fensterwerk/orderdesk/internal/config"
	"github.com/fensterwerk/orderdesk/internal/observability"
	"github.com/fensterwerk/orderdesk/model"
)

// maxResponseBytes caps how much of a backend response body is read.
const maxResponseBytes = 10 << 20

// errCircuitOpen marks a request refused by the open circuit breaker.
// Unlike transient transport failures it is never retried.
var errCircuitOpen = errors.New("crm: circuit breaker open")

// Client talks to the CRM backend. All methods forward the caller's
// session cookie and correlation id from the request context, and every
// request goes through the service's circuit breaker and retry policy.
type Client struct {
	cfg           config.ServiceConfig
	http          *http.Client
	breaker       *CircuitBreaker
	sessionCookie string
	metrics       *observability.Metrics
	logger        *zap.Logger
}

// NewClient builds the CRM client from the service configuration.
// sessionCookie names the cookie the backend expects the session token in.
// Metrics may be nil.
func NewClient(cfg config.ServiceConfig, sessionCookie string, metrics *observability.Metrics, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if sessionCookie == "" {
		sessionCookie = "session"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := cfg.CircuitBreaker
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker:       NewCircuitBreaker(cb.FailureThreshold, cb.SuccessThreshold, cb.Timeout),
		sessionCookie: sessionCookie,
		metrics:       metrics,
		logger:        logger,
	}
}

type orderEnvelope struct {
	Order model.Order `json:"order"`
}

// GetOrder fetches one order. Both the bare order shape and the
// {"order": …} envelope are accepted.
func (c *Client) GetOrder(ctx context.Context, orderID string) (model.Order, error) {
	body, err := c.do(ctx, "get_order", http.MethodGet, "/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return model.Order{}, err
	}
	return decodeOrder(body)
}

type workflowEnvelope struct {
	Stages []model.WorkflowStage `json:"stages"`
}

// FetchWorkflow fetches the raw workflow stage definitions for an order
// type. Structural validation happens in the catalog package.
func (c *Client) FetchWorkflow(ctx context.Context, orderType string) ([]model.WorkflowStage, error) {
	body, err := c.do(ctx, "get_workflow", http.MethodGet, "/workflow/full-workflow/"+url.PathEscape(orderType), nil)
	if err != nil {
		return nil, err
	}
	var envelope workflowEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, model.NewCatalogInvalidError("workflow response is not valid JSON")
	}
	return envelope.Stages, nil
}

// GetEvents fetches the order's full event history.
func (c *Client) GetEvents(ctx context.Context, orderID string) ([]model.HistoryEvent, error) {
	body, err := c.do(ctx, "get_events", http.MethodGet, "/order-events/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, err
	}
	events := []model.HistoryEvent{}
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("crm: decode events: %w", err)
	}
	return events, nil
}

// UpdateStatus completes the order's current status and moves it to
// newStatus.
func (c *Client) UpdateStatus(ctx context.Context, orderID, newStatus, notes string) (model.Order, error) {
	payload := map[string]any{"new_status": newStatus}
	if notes != "" {
		payload["notes"] = notes
	}
	body, err := c.do(ctx, "update_status", http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/update-status", payload)
	if err != nil {
		return model.Order{}, err
	}
	return decodeOrder(body)
}

// SetCurrentStatus moves the order to an arbitrary status without
// recording a completion for the one it leaves.
func (c *Client) SetCurrentStatus(ctx context.Context, orderID, status, notes string) (model.Order, error) {
	payload := map[string]any{"status": status, "notes": notes}
	body, err := c.do(ctx, "set_current_status", http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/set-current-status", payload)
	if err != nil {
		return model.Order{}, err
	}
	return decodeOrder(body)
}

// RemoveCompletion strikes a status from the order's completed set.
func (c *Client) RemoveCompletion(ctx context.Context, orderID, status, notes string) (model.Order, error) {
	payload := map[string]any{"status": status, "notes": notes}
	body, err := c.do(ctx, "remove_completion", http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/remove-completed-status", payload)
	if err != nil {
		return model.Order{}, err
	}
	return decodeOrder(body)
}

// AddNote appends a note event to the order's history.
func (c *Client) AddNote(ctx context.Context, orderID, note string) error {
	_, err := c.do(ctx, "add_note", http.MethodPost, "/order-events/"+url.PathEscape(orderID)+"/note", map[string]any{"note": note})
	return err
}

// CheckAuth asks the backend whether the forwarded session is still valid.
func (c *Client) CheckAuth(ctx context.Context) (bool, error) {
	body, err := c.do(ctx, "check_auth", http.MethodGet, "/auth/check-auth", nil)
	if err != nil {
		return false, err
	}
	var resp struct {
		Authenticated bool `json:"authenticated"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("crm: decode check-auth: %w", err)
	}
	return resp.Authenticated, nil
}

// HealthCheck probes backend connectivity for the readiness endpoint. Any
// well-formed HTTP response counts as reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/auth/check-auth", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("crm backend returned %d", resp.StatusCode)
	}
	return nil
}

// do executes one logical backend call with retry and circuit breaking,
// returning the response body for 2xx responses and a coded error envelope
// otherwise.
func (c *Client) do(ctx context.Context, operation, method, path string, payload any) ([]byte, error) {
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("crm: marshal body: %w", err)
		}
	}

	retry := c.cfg.Retry
	maxAttempts := retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	canRetry := isIdempotentMethod(method) || !retry.IdempotentOnly

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(retry, attempt)
			select {
			case <-ctx.Done():
				return nil, model.NewBackendTimeoutError()
			case <-time.After(delay):
			}
			if c.metrics != nil {
				c.metrics.RecordBackendRetry(config.ServiceCRM)
			}
		}

		body, status, err := c.executeOnce(ctx, operation, method, path, bodyBytes)
		if err != nil {
			lastErr = err
			if errors.Is(err, errCircuitOpen) {
				return nil, model.NewBackendUnavailableError()
			}
			if !canRetry || !isRetryableError(err) {
				return nil, mapTransportError(err)
			}
			c.logger.Debug("crm: retrying after error",
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		if isRetryableStatus(status) && canRetry && attempt < maxAttempts-1 {
			lastErr = errorFromStatus(status, body)
			c.logger.Debug("crm: retrying after status",
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
				zap.Int("status", status))
			continue
		}

		if status >= http.StatusBadRequest {
			return nil, errorFromStatus(status, body)
		}
		return body, nil
	}

	return nil, mapTransportError(lastErr)
}

// executeOnce performs a single HTTP request with circuit breaker
// protection.
func (c *Client) executeOnce(ctx context.Context, operation, method, path string, bodyBytes []byte) ([]byte, int, error) {
	if err := c.breaker.Allow(); err != nil {
		c.updateBreakerGauge()
		return nil, 0, errCircuitOpen
	}

	var body io.Reader
	if bodyBytes != nil {
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("crm: build request: %w", err)
	}
	c.setHeaders(ctx, req, method)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		c.updateBreakerGauge()
		c.recordRequest(operation, 0, started)
		if ctx.Err() != nil {
			return nil, 0, model.NewBackendTimeoutError()
		}
		// Raw transport errors stay uncoded here so the retry loop can
		// distinguish them from final backend verdicts.
		return nil, 0, fmt.Errorf("crm: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.breaker.RecordFailure()
		c.updateBreakerGauge()
		c.recordRequest(operation, resp.StatusCode, started)
		return nil, 0, fmt.Errorf("crm: read response: %w", err)
	}

	// 4xx are not infrastructure failures; only 5xx trips the breaker.
	if resp.StatusCode >= http.StatusInternalServerError {
		c.breaker.RecordFailure()
	} else if resp.StatusCode < http.StatusBadRequest {
		c.breaker.RecordSuccess()
	}
	c.updateBreakerGauge()
	c.recordRequest(operation, resp.StatusCode, started)

	return respBody, resp.StatusCode, nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request, method string) {
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		req.Header.Set("Content-Type", "application/json")
	}

	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		if rctx.SessionToken != "" {
			req.AddCookie(&http.Cookie{
				Name:  c.sessionCookie,
				Value: sanitizeHeader(rctx.SessionToken),
			})
		}
		if rctx.CorrelationID != "" {
			req.Header.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		}
		if rctx.SubjectID != "" {
			req.Header.Set("X-Request-Subject", sanitizeHeader(rctx.SubjectID))
		}
	}

	observability.InjectTraceHeaders(ctx, req.Header)
}

func (c *Client) recordRequest(operation string, status int, started time.Time) {
	if c.metrics != nil {
		c.metrics.RecordBackendRequest(config.ServiceCRM, operation, status, time.Since(started))
	}
}

func (c *Client) updateBreakerGauge() {
	if c.metrics == nil {
		return
	}
	var state float64
	switch c.breaker.State() {
	case BreakerHalfOpen:
		state = 1
	case BreakerOpen:
		state = 2
	}
	c.metrics.SetBackendCircuitBreakerState(config.ServiceCRM, state)
}

func decodeOrder(body []byte) (model.Order, error) {
	var envelope orderEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Order.OrderID != "" {
		return envelope.Order, nil
	}
	var order model.Order
	if err := json.Unmarshal(body, &order); err != nil {
		return model.Order{}, fmt.Errorf("crm: decode order: %w", err)
	}
	return order, nil
}

type backendError struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// errorFromStatus maps a backend response to a coded error envelope,
// carrying the backend's own message through where one is present.
func errorFromStatus(status int, body []byte) error {
	var be backendError
	_ = json.Unmarshal(body, &be)
	msg := be.Detail
	if msg == "" {
		msg = be.Message
	}
	if msg == "" {
		msg = be.Error
	}

	switch {
	case status == http.StatusNotFound:
		if msg == "" {
			msg = "resource not found"
		}
		return model.NewNotFoundError(msg)
	case status == http.StatusConflict:
		if msg == "" {
			msg = "conflicting update"
		}
		return model.NewConflictError(msg)
	case status == http.StatusUnauthorized:
		if msg == "" {
			msg = "backend rejected the session"
		}
		return model.NewUnauthorizedError(msg)
	case status == http.StatusForbidden:
		if msg == "" {
			msg = "not allowed"
		}
		return model.NewForbiddenError(msg)
	case status == http.StatusTooManyRequests:
		return model.NewRateLimitedError()
	case status == http.StatusGatewayTimeout:
		return model.NewBackendTimeoutError()
	case status >= http.StatusInternalServerError:
		return model.NewBackendUnavailableError()
	default:
		if msg == "" {
			msg = fmt.Sprintf("backend returned %d", status)
		}
		return model.NewBadRequestError(msg)
	}
}

// --- classification helpers ---

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	// Coded envelopes come from mapped backend statuses or caller
	// cancellation and are final; raw transport failures (connection
	// refused, client timeout) may be retried.
	var envelope *model.ErrorEnvelope
	return !errors.As(err, &envelope)
}

// mapTransportError converts a raw transport failure into its coded
// envelope once no further attempts will be made.
func mapTransportError(err error) error {
	if err == nil {
		return nil
	}
	var envelope *model.ErrorEnvelope
	if errors.As(err, &envelope) {
		return err
	}
	if isTimeoutError(err) {
		return model.NewBackendTimeoutError()
	}
	if isConnectionError(err) {
		return model.NewBackendUnavailableError()
	}
	return err
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// sanitizeHeader strips newlines and carriage returns to prevent header
// injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			delay = cfg.BackoffMax
			break
		}
	}
	return delay
}
