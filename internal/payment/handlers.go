package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/antonminaichev/tstore/internal/logger"
)

const maxWebhookBody = 1 << 20

type Handler struct {
	bridge    *Bridge
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewHandler(b *Bridge, secret string, tolerance time.Duration) *Handler {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Handler{bridge: b, secret: secret, tolerance: tolerance, now: time.Now}
}

// Webhook verifies the signature over the raw body before anything is decoded.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromCtx(r.Context())
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	ev, err := VerifyWebhook(body, r.Header.Get("Stripe-Signature"), h.secret, h.tolerance, h.now())
	if err != nil {
		log.Warn("webhook rejected", "err", err)
		msg := "invalid_payload"
		if errors.Is(err, ErrInvalidSignature) {
			msg = "invalid_signature"
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	if err := h.bridge.HandleEvent(r.Context(), ev); err != nil {
		log.Error("webhook handler failed", "event", ev.ID, "type", ev.Type, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "handler_failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
