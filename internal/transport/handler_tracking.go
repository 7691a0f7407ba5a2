package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fensterwerk/orderdesk/internal/tracking"
	"github.com/fensterwerk/orderdesk/model"
)

func handleTracking(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		orderID := chi.URLParam(r, "orderId")

		descriptor, err := svc.Tracking(r.Context(), orderID, r.URL.Query().Get("q"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, descriptor)
	}
}

func handleEvents(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		orderID := chi.URLParam(r, "orderId")

		events, err := svc.Events(r.Context(), orderID, r.URL.Query().Get("q"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, events)
	}
}

func handleWorkflow(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		orderType := chi.URLParam(r, "orderType")

		workflow, err := svc.Workflow(r.Context(), orderType)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, workflow)
	}
}
