package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidahmann/afaap/internal/auth"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v chi.Router) {
		v.Use(h.authenticate)

		v.Post("/transactions", withRoles(h.RegisterTransaction, auth.RoleIngest, auth.RoleAdmin))

		v.Post("/models", withRoles(h.RegisterModel, auth.RoleDeveloper, auth.RoleAdmin))
		v.Get("/models/{model_id}", h.GetModel)
		v.Post("/models/{model_id}/approve", withRoles(h.ApproveModel, auth.RoleOfficer, auth.RoleAdmin))
		v.Post("/models/{model_id}/evaluate", withRoles(h.EvaluateDeployment, auth.RoleDeveloper, auth.RoleOfficer, auth.RoleAdmin))

		v.Post("/decisions", withRoles(h.CreateDecision, auth.RoleIngest, auth.RoleAdmin))
		v.Get("/decisions/{decision_id}", h.GetDecision)
		v.Post("/decisions/{decision_id}/classify", withRoles(h.Classify, auth.RoleIngest, auth.RoleAdmin))
		v.Post("/decisions/{decision_id}/review", withRoles(h.RecordReview, auth.RoleOfficer, auth.RoleAdmin))

		v.Get("/sla/violations", withRoles(h.SLAViolations, auth.RoleOfficer, auth.RoleAuditor, auth.RoleAdmin))

		v.Post("/ledger/entries", withRoles(h.AppendEntry, auth.RoleAdmin))
		v.Get("/ledger/{table}/verify", withRoles(h.VerifyTable, auth.RoleAuditor, auth.RoleAdmin))
		v.Get("/ledger/{table}/{subject_id}", h.History)
		v.Get("/ledger/{table}/{subject_id}/verify", withRoles(h.Verify, auth.RoleAuditor, auth.RoleAdmin))
	})
	return r
}

type principalKey struct{}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Auth == nil {
			writeJSON(w, http.StatusUnauthorized, errorBody("authentication not configured"))
			return
		}
		principal, err := h.Auth.Authenticate(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody(err.Error()))
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func withRoles(next http.HandlerFunc, roles ...auth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !principalFrom(r).HasRole(roles...) {
			writeJSON(w, http.StatusForbidden, errorBody("role not permitted"))
			return
		}
		next(w, r)
	}
}

func principalFrom(r *http.Request) auth.Principal {
	p, _ := r.Context().Value(principalKey{}).(auth.Principal)
	return p
}
