package catalog

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/antonminaichev/tstore/internal/logger"
	"github.com/antonminaichev/tstore/internal/types/catalog"
	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes are mounted under /api/admin behind the JWT middleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Put("/products/{id}", h.SaveProduct)
	r.Get("/products/{id}/specs", h.ListSpecs)
	r.Post("/products/{id}/specs", h.CreateDraft)
	r.Patch("/specs/{specID}", h.UpdateSpec)
	r.Put("/specs/{specID}/variants", h.ReplaceVariants)
	r.Post("/specs/{specID}/publish", h.Publish)
	return r
}

func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	var p catalog.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	p.ID = chi.URLParam(r, "id")
	if err := h.svc.SaveProduct(r.Context(), &p); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) ListSpecs(w http.ResponseWriter, r *http.Request) {
	specs, err := h.svc.ListSpecs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"specs": specs})
}

func (h *Handler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	sp, err := h.svc.CreateDraft(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sp)
}

func (h *Handler) UpdateSpec(w http.ResponseWriter, r *http.Request) {
	var patch catalog.SpecPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	sp, err := h.svc.UpdateSpec(r.Context(), chi.URLParam(r, "specID"), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (h *Handler) ReplaceVariants(w http.ResponseWriter, r *http.Request) {
	var variants []catalog.Variant
	if err := json.NewDecoder(r.Body).Decode(&variants); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	sp, err := h.svc.ReplaceVariants(r.Context(), chi.URLParam(r, "specID"), variants)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	sp, err := h.svc.Publish(r.Context(), chi.URLParam(r, "specID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrSpecNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSpecPublished):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNoArtwork), errors.Is(err, ErrNoVariants), errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.FromCtx(r.Context()).Error("catalog request failed", "err", err)
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
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
