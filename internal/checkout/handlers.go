package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/antonminaichev/tstore/internal/logger"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req Request
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	res, err := h.svc.Checkout(r.Context(), req)
	if err != nil {
		h.writeCheckoutError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *ValidationError
	var vu *VariantUnavailableError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation_failed", "issues": ve.Issues})
	case errors.As(err, &vu):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":     vu.Error(),
			"wanted":    vu.Wanted,
			"available": vu.Available,
		})
	case errors.Is(err, ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrUnsupportedCurrency), errors.Is(err, ErrDestinationIneligible),
		errors.Is(err, ErrProductUnavailable), errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrOrderTooSmall), errors.Is(err, ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrPaymentUnavailable):
		logger.FromCtx(r.Context()).Error("checkout payment", "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": ErrPaymentUnavailable.Error()})
	default:
		logger.FromCtx(r.Context()).Error("checkout", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "checkout_failed"})
	}
}

// Eligibility answers GET /api/shipping/eligibility?country=XX.
func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request) {
	country := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("country")))
	if len(country) != 2 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "country must be an ISO-2 code"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"country": country, "eligible": ShippingEligible(country)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
