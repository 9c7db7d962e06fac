package fulfillment

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/antonminaichev/tstore/internal/logger"
	"github.com/go-chi/chi/v5"
)

type Handler struct {
	tracker   *Tracker
	submitter *Submitter
}

func NewHandler(t *Tracker, s *Submitter) *Handler {
	return &Handler{tracker: t, submitter: s}
}

// Routes are mounted under /api/admin behind the JWT middleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/orders/{id}/refresh-fulfillment", h.RefreshFulfillment)
	r.Post("/orders/{id}/submit-fulfillment", h.SubmitFulfillment)
	return r
}

func (h *Handler) RefreshFulfillment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	o, err := h.tracker.RefreshByID(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, o)
	case errors.Is(err, ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order_not_found")
	case errors.Is(err, ErrNotSubmitted):
		writeError(w, http.StatusBadRequest, "not_submitted")
	default:
		logger.FromCtx(r.Context()).Error("refresh fulfillment", "order", id, "err", err)
		writeError(w, http.StatusBadGateway, "partner_unavailable")
	}
}

func (h *Handler) SubmitFulfillment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.submitter.SubmitOrderID(r.Context(), id)
	switch {
	case errors.Is(err, ErrNoPaymentRef):
		writeError(w, http.StatusBadRequest, "not_paid")
	case err != nil:
		logger.FromCtx(r.Context()).Error("submit fulfillment", "order", id, "err", err)
		writeError(w, http.StatusBadGateway, "submit_failed")
	case res.Reason == ReasonOrderNotFound:
		writeError(w, http.StatusNotFound, res.Reason)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
