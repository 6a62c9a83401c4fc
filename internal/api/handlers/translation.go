package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/cdrcore/internal/api/errors"
	"github.com/bigkaa/cdrcore/internal/domain/model"
	"github.com/bigkaa/cdrcore/internal/domain/translation"
	"github.com/bigkaa/cdrcore/internal/service"
)

// TranslationQueue — операции очередей перевода (service.TranslationQueueService).
type TranslationQueue interface {
	CreateJob(ctx context.Context, f translation.Family, req service.CreateJobRequest) (*model.TranslationJob, error)
	UpdateJob(ctx context.Context, f translation.Family, docID int, upd service.JobUpdate) (*model.TranslationJob, error)
	ReassignBulk(ctx context.Context, f translation.Family, docIDs []int, assigneeID int) (int, error)
	PurgeTerminal(ctx context.Context, f translation.Family) (int, error)
	GetJob(ctx context.Context, f translation.Family, docID int) (*model.TranslationJob, error)
	ListActive(ctx context.Context, f translation.Family, filter model.JobFilter) ([]*model.TranslationJob, error)
	ListHistory(ctx context.Context, f translation.Family, filter model.JobFilter, sort translation.SortColumn) ([]*model.JobHistoryEntry, error)
	ListStates(ctx context.Context, f translation.Family) ([]*model.TranslationState, error)
	AddState(ctx context.Context, f translation.Family, name string, position int) (*model.TranslationState, error)
	ListTranslators(ctx context.Context, f translation.Family) ([]*model.Translator, error)
}

// TranslationHandler — /api/v1/translation/{family}/...
type TranslationHandler struct {
	base
	queue TranslationQueue
}

// NewTranslationHandler создаёт обработчик очередей перевода.
func NewTranslationHandler(queue TranslationQueue, logger *slog.Logger) *TranslationHandler {
	return &TranslationHandler{
		base:  base{logger: logger.With(slog.String("component", "translation_api"))},
		queue: queue,
	}
}

// Mount регистрирует маршруты в r (ожидается префикс с параметром {family}).
func (h *TranslationHandler) Mount(r chi.Router) {
	r.Get("/jobs", h.ListJobs)
	r.Post("/jobs", h.CreateJob)
	r.Post("/jobs/reassign", h.Reassign)
	r.Post("/jobs/purge", h.Purge)
	r.Get("/jobs/{docID}", h.GetJob)
	r.Patch("/jobs/{docID}", h.UpdateJob)
	r.Get("/history", h.ListHistory)
	r.Get("/states", h.ListStates)
	r.Post("/states", h.AddState)
	r.Get("/translators", h.ListTranslators)
}

type createJobBody struct {
	DocID      int     `json:"doc_id"`
	StateID    int     `json:"state_id"`
	AssigneeID int     `json:"assigned_to"`
	Comment    *string `json:"comment,omitempty"`
}

type updateJobBody struct {
	StateID    *int    `json:"state_id,omitempty"`
	AssigneeID *int    `json:"assigned_to,omitempty"`
	Comment    *string `json:"comment,omitempty"`
}

type reassignBody struct {
	DocIDs     []int `json:"doc_ids"`
	AssigneeID int   `json:"assigned_to"`
}

type addStateBody struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}

type countResponse struct {
	Count  int      `json:"count"`
	Errors []string `json:"errors,omitempty"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Total: len(items)}
}

// family разбирает семейство из пути; при ошибке отвечает 400.
func (h *TranslationHandler) family(w http.ResponseWriter, r *http.Request) (translation.Family, bool) {
	f, err := translation.ParseFamily(chi.URLParam(r, "family"))
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return "", false
	}
	return f, true
}

// ListJobs — GET /jobs?state=&assignee=&from=&to=
func (h *TranslationHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	f, ok := h.family(w, r)
	if !ok {
		return
	}
	filter, err := parseJobFilter(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	jobs, err := h.queue.ListActive(r.Context(), f, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(jobs))
}

// CreateJob — POST /jobs
func (h *TranslationHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	f, ok := h.family(w, r)
	if !ok {
		return
	}
	var body createJobBody
	if err := decodeJSON(w, r, &body); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	job, err := h.queue.CreateJob(r.Context(), f, service.CreateJobRequest{
		DocID:      body.DocID,
		StateID:    body.StateID,
		AssigneeID: body.AssigneeID,
		Comment:    body.Comment,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// GetJob — GET /jobs/{docID}
func (h *TranslationHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	f, ok := h.family(w, r)
	if !ok {
		return
	}
	docID, err := pathInt(r, "docID")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	job, err := h.queue.GetJob(r.Context(), f, docID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// UpdateJob — PATCH /jobs/{docID}
func (h *TranslationHandler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	f, ok := h.family(w, r)
	if !ok {
		return
	}
	docID, err := pathInt(r, "docID")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var body updateJobBody
	if err := decodeJSON(w, r, &body); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	job, err := h.queue.UpdateJob(r.Context(), f, docID, service.JobUpdate{
		StateID:    body.StateID,
		AssigneeID: body.AssigneeID,
		Comment:    body.Comment,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Reassign — POST /jobs/reassign. Если часть документов переназначена,
// ответ 200 со списком ошибок по остальным.
func (h *TranslationHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	f, ok := h.family(w, r)
	if !ok {
		return
	}
	var body reassignBody
	if err := decodeJSON(w, r, &body); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	count, err := h.queue.ReassignBulk(r.Context(), f, body.DocIDs, body.AssigneeID)
	if err != nil && count == 0 {
		h.fail(w, r, err)
		return
	}
	resp := countResponse{Count: count}
	if err != nil {
		resp.Errors = splitJoined(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Purge — POST /jobs/purge
func (h *TranslationHandler) Purge(w http.ResponseWriter, r *http.Request) {
	f, ok := h.family(w, r)
	if !ok {
		return
	}
	count, err := h.queue.PurgeTerminal(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: count})
}

// ListHistory — GET /history?sort=&state=&assignee=&from=&to=
func (h *TranslationHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	f, ok := h.family(w, r)
	if !ok {
		return
	}
	filter, err := parseJobFilter(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	sortCol, err := translation.ParseSortColumn(r.URL.Query().Get("sort"))
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	entries, err := h.queue.ListHistory(r.Context(), f, filter, sortCol)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(entries))
}

// ListStates — GET /states
func (h *TranslationHandler) ListStates(w http.ResponseWriter, r *http.Request) {
	f, ok := h.family(w, r)
	if !ok {
		return
	}
	states, err := h.queue.ListStates(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(states))
}

// AddState — POST /states
func (h *TranslationHandler) AddState(w http.ResponseWriter, r *http.Request) {
	f, ok := h.family(w, r)
	if !ok {
		return
	}
	var body addStateBody
	if err := decodeJSON(w, r, &body); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	state, err := h.queue.AddState(r.Context(), f, body.Name, body.Position)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// ListTranslators — GET /translators
func (h *TranslationHandler) ListTranslators(w http.ResponseWriter, r *http.Request) {
	f, ok := h.family(w, r)
	if !ok {
		return
	}
	users, err := h.queue.ListTranslators(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(users))
}

// parseJobFilter разбирает фильтры списков. Даты — RFC 3339 или YYYY-MM-DD.
func parseJobFilter(r *http.Request) (model.JobFilter, error) {
	var (
		filter model.JobFilter
		err    error
	)
	if filter.StateIDs, err = queryInts(r, "state"); err != nil {
		return filter, err
	}
	if filter.AssigneeIDs, err = queryInts(r, "assignee"); err != nil {
		return filter, err
	}
	if filter.From, err = queryTime(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		return filter, err
	}
	return filter, nil
}

func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("параметр %s: некорректная дата %q", name, raw)
}

// splitJoined раскладывает ошибку errors.Join на сообщения.
func splitJoined(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
