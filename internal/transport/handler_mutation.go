package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fensterwerk/orderdesk/internal/config"
	"github.com/fensterwerk/orderdesk/internal/crm"
	"github.com/fensterwerk/orderdesk/internal/observability"
	"github.com/fensterwerk/orderdesk/internal/tracking"
	"github.com/fensterwerk/orderdesk/model"
)

type updateStatusRequest struct {
	NewStatus string `json:"new_status"`
	Notes     string `json:"notes"`
}

type setStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type noteRequest struct {
	Note string `json:"note"`
}

// MutationDeps bundles what the status mutation handlers need beyond the
// tracking service. Idempotency is optional; a nil store disables it.
type MutationDeps struct {
	Service     *tracking.Service
	Idempotency crm.IdempotencyStore
	IdemConfig  config.IdempotencyConfig
	Metrics     *observability.Metrics
}

func handleUpdateStatus(deps MutationDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		orderID := chi.URLParam(r, "orderId")

		var req updateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if req.NewStatus == "" {
			WriteValidationError(w, []model.FieldError{{
				Field:   "new_status",
				Code:    "required",
				Message: "new_status must not be empty",
			}})
			return
		}

		deps.execute(w, r, orderID,
			crm.HashInput("update_status", orderID, req.NewStatus, req.Notes),
			func() (*model.OrderResponse, error) {
				return deps.Service.UpdateStatus(r.Context(), orderID, req.NewStatus, req.Notes)
			})
	}
}

func handleSetCurrentStatus(deps MutationDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		orderID := chi.URLParam(r, "orderId")

		var req setStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if req.Status == "" {
			WriteValidationError(w, []model.FieldError{{
				Field:   "status",
				Code:    "required",
				Message: "status must not be empty",
			}})
			return
		}

		deps.execute(w, r, orderID,
			crm.HashInput("set_current_status", orderID, req.Status, req.Notes),
			func() (*model.OrderResponse, error) {
				return deps.Service.SetCurrentStatus(r.Context(), orderID, req.Status, req.Notes)
			})
	}
}

func handleRemoveCompletion(deps MutationDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		orderID := chi.URLParam(r, "orderId")

		var req setStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if req.Status == "" {
			WriteValidationError(w, []model.FieldError{{
				Field:   "status",
				Code:    "required",
				Message: "status must not be empty",
			}})
			return
		}

		deps.execute(w, r, orderID,
			crm.HashInput("remove_completion", orderID, req.Status, req.Notes),
			func() (*model.OrderResponse, error) {
				return deps.Service.RemoveCompletion(r.Context(), orderID, req.Status, req.Notes)
			})
	}
}

func handleAddNote(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		orderID := chi.URLParam(r, "orderId")

		var req noteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if req.Note == "" {
			WriteValidationError(w, []model.FieldError{{
				Field:   "note",
				Code:    "required",
				Message: "note must not be empty",
			}})
			return
		}

		events, err := svc.AddNote(r.Context(), orderID, req.Note)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, events)
	}
}

// execute runs a status mutation, replaying a cached result when the request
// carries an X-Idempotency-Key that was already used with the same input.
func (d MutationDeps) execute(w http.ResponseWriter, r *http.Request, orderID, inputHash string, mutate func() (*model.OrderResponse, error)) {
	key := r.Header.Get("X-Idempotency-Key")
	useIdem := d.Idempotency != nil && d.IdemConfig.Enabled && key != ""

	if useIdem {
		fullKey := crm.FormatIdempotencyKey(orderID, key)
		cached, found, err := d.Idempotency.Check(r.Context(), fullKey, inputHash)
		if err != nil {
			WriteError(w, err)
			return
		}
		if found {
			if d.Metrics != nil {
				d.Metrics.RecordIdempotencyHit()
			}
			WriteJSON(w, http.StatusOK, cached)
			return
		}
	}

	result, err := mutate()
	if err != nil {
		WriteError(w, err)
		return
	}

	if useIdem {
		fullKey := crm.FormatIdempotencyKey(orderID, key)
		// A store failure must not fail the mutation that already committed.
		_ = d.Idempotency.Store(r.Context(), fullKey, inputHash, *result, d.IdemConfig.Store.DefaultTTL)
	}

	WriteJSON(w, http.StatusOK, result)
}
