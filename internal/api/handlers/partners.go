package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/cdrcore/internal/api/errors"
	"github.com/bigkaa/cdrcore/internal/domain/model"
)

// PartnerLoader — загрузка реестра партнёров PDQ.
type PartnerLoader interface {
	LoadRegistry(ctx context.Context, data []byte, allowed []string) (*model.RegistryCounts, error)
}

// PartnerHandler — /api/v1/partners.
type PartnerHandler struct {
	base
	loader PartnerLoader
}

// NewPartnerHandler создаёт обработчик реестра партнёров.
func NewPartnerHandler(loader PartnerLoader, logger *slog.Logger) *PartnerHandler {
	return &PartnerHandler{
		base:   base{logger: logger.With(slog.String("component", "partner_api"))},
		loader: loader,
	}
}

// Mount регистрирует маршруты.
func (h *PartnerHandler) Mount(r chi.Router) {
	r.Put("/registry", h.LoadRegistry)
}

// LoadRegistry — PUT /registry[?product=PDQ&product=TEST]. Тело — файл
// реестра в исходном формате; реестр заменяется целиком.
func (h *PartnerHandler) LoadRegistry(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	counts, err := h.loader.LoadRegistry(r.Context(), data, r.URL.Query()["product"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
