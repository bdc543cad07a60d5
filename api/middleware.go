package api

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
)

// RequirePlan admits callers on one of plans, or on any paid plan when
// none are given. Anonymous callers get 401 NO_AUTH.
func (a *API) RequirePlan(plans ...plan.ID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := a.identity(r)
			if !ok {
				writeError(w, billing.ErrNoAuth)
				return
			}
			if _, err := a.eng.Guard().RequirePlan(r.Context(), id, plans...); err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireFeature admits callers whose plan grants capability.
func (a *API) RequireFeature(capability plan.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := a.identity(r)
			if !ok {
				writeError(w, billing.ErrNoAuth)
				return
			}
			if _, err := a.eng.Guard().RequireFeature(r.Context(), id, capability); err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TrackUsage rejects callers whose quota for action is used up and
// charges one unit once the wrapped handler has answered with a 2xx
// status. Anonymous requests pass through uncharged.
func (a *API) TrackUsage(action usage.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := a.identity(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if _, err := a.eng.Guard().Precheck(r.Context(), id.AccountID, action); err != nil {
				writeError(w, err)
				return
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status < 200 || status > 299 {
				return
			}
			// The response is already sent.
			if _, err := a.eng.Guard().Commit(r.Context(), id.AccountID, action); err != nil {
				a.logger.Warn("usage commit failed",
					"account_id", id.AccountID,
					"action", action,
					"error", err,
				)
			}
		})
	}
}
