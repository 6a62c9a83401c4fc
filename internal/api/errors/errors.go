// Пакет errors — ответы с ошибками в едином формате CDR Core:
// {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError или FromService.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/bigkaa/cdrcore/internal/service"
	"github.com/bigkaa/cdrcore/internal/session"
)

// Машиночитаемые коды ошибок.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeLocked          = "LOCKED"
	CodeExternalError   = "EXTERNAL_UNAVAILABLE"
	CodeInternalError   = "INTERNAL_ERROR"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 конфликт.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// Locked — 423 документ заблокирован другим пользователем.
func Locked(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusLocked, CodeLocked, message)
}

// ExternalUnavailable — 502 внешний сервис (EVS, ClinicalTrials.gov) недоступен.
func ExternalUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeExternalError, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// FromService переводит ошибку сервисного слоя в HTTP-ответ.
// Клиент получает короткое сообщение, полная цепочка уходит в лог.
// ErrUnauthorized без сессии — 401, с сессией — 403.
func FromService(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case stderrors.Is(err, service.ErrUnauthorized):
		if session.FromContext(r.Context()) == nil {
			Unauthorized(w, "Требуется аутентификация")
			return
		}
		Forbidden(w, "Недостаточно прав для операции")
	case stderrors.Is(err, service.ErrValidation):
		ValidationError(w, err.Error())
	case stderrors.Is(err, service.ErrNotFound):
		NotFound(w, err.Error())
	case stderrors.Is(err, service.ErrConflict):
		Conflict(w, err.Error())
	case stderrors.Is(err, service.ErrLocked):
		Locked(w, err.Error())
	case stderrors.Is(err, service.ErrExternal):
		logger.Warn("Внешний сервис недоступен",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		ExternalUnavailable(w, service.ErrExternal.Error())
	default:
		logger.Error("Внутренняя ошибка",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		InternalError(w, service.ErrInternal.Error())
	}
}
