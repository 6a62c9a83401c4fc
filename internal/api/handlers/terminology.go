package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/cdrcore/internal/api/errors"
	"github.com/bigkaa/cdrcore/internal/domain/model"
	"github.com/bigkaa/cdrcore/internal/service"
)

// ConceptReconciler — сверка Term-документов с NCI Thesaurus.
type ConceptReconciler interface {
	ReconcileConcept(ctx context.Context, code string, docID *int) (*service.ConceptResult, error)
	RefreshAll(ctx context.Context) ([]service.RefreshOutcome, error)
}

// ProtocolImporter — импорт протоколов из внешних источников.
type ProtocolImporter interface {
	RunImport(ctx context.Context, source model.ImportSource, ids []string) (*service.ImportReport, error)
	ListEvents(ctx context.Context, jobID int) ([]*model.ImportEvent, error)
}

// TerminologyHandler — /api/v1/concepts и /api/v1/imports.
type TerminologyHandler struct {
	base
	concepts ConceptReconciler
	imports  ProtocolImporter
}

// NewTerminologyHandler создаёт обработчик сверки терминологии.
func NewTerminologyHandler(concepts ConceptReconciler, imports ProtocolImporter, logger *slog.Logger) *TerminologyHandler {
	return &TerminologyHandler{
		base:     base{logger: logger.With(slog.String("component", "terminology_api"))},
		concepts: concepts,
		imports:  imports,
	}
}

// MountConcepts регистрирует маршруты /api/v1/concepts.
func (h *TerminologyHandler) MountConcepts(r chi.Router) {
	r.Post("/refresh", h.RefreshConcepts)
	r.Post("/{code}/reconcile", h.ReconcileConcept)
}

// MountImports регистрирует маршруты /api/v1/imports.
func (h *TerminologyHandler) MountImports(r chi.Router) {
	r.Get("/jobs/{jobID}/events", h.ListEvents)
	r.Post("/{source}", h.RunImport)
}

type importBody struct {
	IDs []string `json:"ids"`
}

// ReconcileConcept — POST /{code}/reconcile[?doc_id=N]
func (h *TerminologyHandler) ReconcileConcept(w http.ResponseWriter, r *http.Request) {
	var docID *int
	if raw := r.URL.Query().Get("doc_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			apierrors.ValidationError(w, "параметр doc_id: ожидается положительное целое")
			return
		}
		docID = &id
	}

	res, err := h.concepts.ReconcileConcept(r.Context(), chi.URLParam(r, "code"), docID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// RefreshConcepts — POST /refresh: сверка всех Term-документов с кодом концепта.
func (h *TerminologyHandler) RefreshConcepts(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.concepts.RefreshAll(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(outcomes))
}

// RunImport — POST /{source}. Тело необязательно: {"ids": ["NCT01234567"]}.
func (h *TerminologyHandler) RunImport(w http.ResponseWriter, r *http.Request) {
	var body importBody
	if err := decodeJSON(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
		apierrors.ValidationError(w, err.Error())
		return
	}

	report, err := h.imports.RunImport(r.Context(), model.ImportSource(chi.URLParam(r, "source")), body.IDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListEvents — GET /jobs/{jobID}/events
func (h *TerminologyHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathInt(r, "jobID")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	events, err := h.imports.ListEvents(r.Context(), jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(events))
}
