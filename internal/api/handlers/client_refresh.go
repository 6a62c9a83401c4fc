package handlers

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/cdrcore/internal/api/errors"
	"github.com/bigkaa/cdrcore/internal/manifest"
)

// ClientRefresher — обновление клиентских файлов (service.ClientRefreshService).
type ClientRefresher interface {
	Handle(ctx context.Context, body []byte) (any, error)
	CheckTicket(ctx context.Context, client *manifest.Ticket) (*manifest.Current, error)
	MakeDelta(ctx context.Context, client *manifest.Manifest) (*manifest.Updates, error)
}

// ClientRefreshHandler — /api/v1/client-refresh. Запросы и ответы в XML.
type ClientRefreshHandler struct {
	base
	refresher ClientRefresher
}

// NewClientRefreshHandler создаёт обработчик обновления клиентских файлов.
func NewClientRefreshHandler(refresher ClientRefresher, logger *slog.Logger) *ClientRefreshHandler {
	return &ClientRefreshHandler{
		base:      base{logger: logger.With(slog.String("component", "client_refresh_api"))},
		refresher: refresher,
	}
}

// Mount регистрирует маршруты.
func (h *ClientRefreshHandler) Mount(r chi.Router) {
	r.Post("/", h.Handle)
	r.Post("/ticket", h.CheckTicket)
	r.Post("/delta", h.MakeDelta)
}

// Handle — POST /: Ticket → Current, Manifest → Updates.
func (h *ClientRefreshHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	resp, err := h.refresher.Handle(r.Context(), body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeXML(w, http.StatusOK, resp)
}

// CheckTicket — POST /ticket
func (h *ClientRefreshHandler) CheckTicket(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	ticket, err := manifest.ParseTicket(bytes.NewReader(body))
	if err != nil {
		h.malformed(w, r, err)
		return
	}
	cur, err := h.refresher.CheckTicket(r.Context(), ticket)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeXML(w, http.StatusOK, cur)
}

// MakeDelta — POST /delta
func (h *ClientRefreshHandler) MakeDelta(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	m, err := manifest.Parse(bytes.NewReader(body))
	if err != nil {
		h.malformed(w, r, err)
		return
	}
	updates, err := h.refresher.MakeDelta(r.Context(), m)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeXML(w, http.StatusOK, updates)
}

func (h *ClientRefreshHandler) malformed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, manifest.ErrMalformed) {
		apierrors.ValidationError(w, err.Error())
		return
	}
	h.fail(w, r, err)
}
