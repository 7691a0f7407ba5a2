package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fensterwerk/orderdesk/internal/config"
	"github.com/fensterwerk/orderdesk/internal/crm"
	"github.com/fensterwerk/orderdesk/internal/observability"
	"github.com/fensterwerk/orderdesk/internal/tracking"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Authenticate func(http.Handler) http.Handler
	Service      *tracking.Service
	AuthChecker  AuthChecker
	Idempotency  crm.IdempotencyStore
	Metrics      *observability.Metrics
	Readiness    observability.ReadinessChecks
	Logger       *zap.Logger
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes — bypass authentication.
	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, observability.Handler())
	}

	// Authenticated routes — full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	mutations := MutationDeps{
		Service:     deps.Service,
		Idempotency: deps.Idempotency,
		IdemConfig:  deps.Config.Idempotency,
		Metrics:     deps.Metrics,
	}

	r.Group(func(r chi.Router) {
		if deps.Config.Observability.Tracing.Enabled {
			r.Use(observability.TracingMiddleware)
		}
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Get("/ui/session", handleSession(deps.AuthChecker))
		r.Get("/ui/orders/{orderId}/tracking", handleTracking(deps.Service))
		r.Get("/ui/orders/{orderId}/events", handleEvents(deps.Service))
		r.Get("/ui/workflow/{orderType}", handleWorkflow(deps.Service))
		r.Post("/ui/orders/{orderId}/status", handleUpdateStatus(mutations))
		r.Post("/ui/orders/{orderId}/current", handleSetCurrentStatus(mutations))
		r.Post("/ui/orders/{orderId}/completions/remove", handleRemoveCompletion(mutations))
		r.Post("/ui/orders/{orderId}/notes", handleAddNote(deps.Service))
	})

	return r
}
