package api

import (
	"errors"
	"net/http"

	"github.com/davidahmann/afaap/internal/entity"
	"github.com/davidahmann/afaap/internal/govern"
	"github.com/davidahmann/afaap/internal/ledger"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, govern.ErrInvalidInput),
		errors.Is(err, govern.ErrActorMissing),
		errors.Is(err, ledger.ErrMalformedFieldChange),
		errors.Is(err, ledger.ErrUnknownOperation),
		errors.Is(err, ledger.ErrMissingSubject),
		errors.Is(err, ledger.ErrNonCanonicalText):
		return http.StatusBadRequest
	case errors.Is(err, govern.ErrSubjectNotFound),
		errors.Is(err, entity.ErrNotFound),
		errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, govern.ErrAlreadyExists),
		errors.Is(err, govern.ErrAlreadyReviewed),
		errors.Is(err, entity.ErrAlreadyClassified),
		errors.Is(err, ledger.ErrChainExists):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrConcurrentAppendConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger().Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody(msg))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
