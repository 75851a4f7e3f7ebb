package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/davidahmann/afaap/internal/auth"
	"github.com/davidahmann/afaap/internal/govern"
	"github.com/davidahmann/afaap/internal/ledger"
	"github.com/davidahmann/afaap/pkg/types"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	Auth    auth.Authenticator
	Service *govern.Service
	Logger  *slog.Logger
	Now     func() time.Time
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

func (h *Handler) RegisterTransaction(w http.ResponseWriter, r *http.Request) {
	var req govern.NewTransaction
	if !decode(w, r, &req) {
		return
	}
	tx, err := h.Service.RegisterTransaction(r.Context(), principalFrom(r).ActorID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *Handler) RegisterModel(w http.ResponseWriter, r *http.Request) {
	var req govern.NewModel
	if !decode(w, r, &req) {
		return
	}
	model, err := h.Service.RegisterModel(r.Context(), principalFrom(r).ActorID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, model)
}

func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	model, err := h.Service.GetModel(r.Context(), chi.URLParam(r, "model_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (h *Handler) ApproveModel(w http.ResponseWriter, r *http.Request) {
	model, err := h.Service.ApproveModel(r.Context(), principalFrom(r).ActorID, chi.URLParam(r, "model_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (h *Handler) EvaluateDeployment(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.EvaluateDeployment(r.Context(), principalFrom(r).ActorID, chi.URLParam(r, "model_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) CreateDecision(w http.ResponseWriter, r *http.Request) {
	var req govern.NewDecision
	if !decode(w, r, &req) {
		return
	}
	d, err := h.Service.CreateDecision(r.Context(), principalFrom(r).ActorID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.GetDecision(r.Context(), chi.URLParam(r, "decision_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.Classify(r.Context(), principalFrom(r).ActorID, chi.URLParam(r, "decision_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type reviewRequest struct {
	Outcome     types.ReviewOutcome `json:"review_decision"`
	EscalatedTo *string             `json:"escalated_to,omitempty"`
}

func (h *Handler) RecordReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.Service.RecordReview(r.Context(), principalFrom(r).ActorID, govern.ReviewInput{
		DecisionID:  chi.URLParam(r, "decision_id"),
		Outcome:     req.Outcome,
		EscalatedTo: req.EscalatedTo,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) SLAViolations(w http.ResponseWriter, r *http.Request) {
	violations, err := h.Service.SLAViolations(r.Context(), h.now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"violations": violations})
}

type appendRequest struct {
	SubjectTable string          `json:"subject_table"`
	SubjectID    string          `json:"subject_id"`
	Operation    types.Operation `json:"operation"`
	Field        *string         `json:"field,omitempty"`
	OldValue     *string         `json:"old_value,omitempty"`
	NewValue     *string         `json:"new_value,omitempty"`
}

// AppendEntry writes an entry as the authenticated actor. The body cannot
// choose the actor.
func (h *Handler) AppendEntry(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if !decode(w, r, &req) {
		return
	}
	if !knownTable(req.SubjectTable) {
		writeJSON(w, http.StatusBadRequest, errorBody("unknown subject_table"))
		return
	}
	entry, err := h.Service.Append(r.Context(), ledger.AppendInput{
		SubjectTable: req.SubjectTable,
		SubjectID:    req.SubjectID,
		Operation:    req.Operation,
		Field:        req.Field,
		OldValue:     req.OldValue,
		NewValue:     req.NewValue,
		ActorID:      principalFrom(r).ActorID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if !knownTable(table) {
		writeJSON(w, http.StatusBadRequest, errorBody("unknown subject_table"))
		return
	}
	entries, err := h.Service.History(r.Context(), principalFrom(r), table, chi.URLParam(r, "subject_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if !knownTable(table) {
		writeJSON(w, http.StatusBadRequest, errorBody("unknown subject_table"))
		return
	}
	result, err := h.Service.Verify(r.Context(), table, chi.URLParam(r, "subject_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) VerifyTable(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if !knownTable(table) {
		writeJSON(w, http.StatusBadRequest, errorBody("unknown subject_table"))
		return
	}
	results, err := h.Service.VerifyTable(r.Context(), table)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	valid := true
	for _, res := range results {
		if !res.Valid {
			valid = false
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject_table": table,
		"valid":         valid,
		"results":       results,
	})
}

func knownTable(table string) bool {
	switch table {
	case types.TableDecisions, types.TableModels, types.TableTransactions:
		return true
	default:
		return false
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
