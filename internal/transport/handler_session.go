package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/fensterwerk/orderdesk/model"
)

// AuthChecker verifies the session against the CRM backend. Satisfied by
// the CRM client.
type AuthChecker interface {
	CheckAuth(ctx context.Context) (bool, error)
}

// handleSession serves the session poll. The JWT was already verified by
// the auth middleware; the backend check catches sessions revoked upstream.
func handleSession(auth AuthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		if auth != nil {
			ok, err := auth.CheckAuth(r.Context())
			if err != nil {
				WriteError(w, err)
				return
			}
			if !ok {
				WriteError(w, model.NewUnauthorizedError("Session no longer valid"))
				return
			}
		}

		WriteJSON(w, http.StatusOK, model.SessionDescriptor{
			SubjectID: rctx.SubjectID,
			Email:     rctx.Email,
			Roles:     rctx.Roles,
			ExpiresAt: claimExpiry(rctx.Claims),
		})
	}
}

func claimExpiry(claims map[string]any) *time.Time {
	if claims == nil {
		return nil
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil
	}
	t := time.Unix(int64(exp), 0).UTC()
	return &t
}
