// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/cdrcore/internal/cdrdoc"
	"github.com/bigkaa/cdrcore/internal/importsrc"
	"github.com/bigkaa/cdrcore/internal/manifest"
	"github.com/bigkaa/cdrcore/internal/partner"
	"github.com/bigkaa/cdrcore/internal/repository"
	"github.com/bigkaa/cdrcore/internal/thesaurus"
)

var (
	// ErrUnauthorized — нет сессии или нет права на операцию.
	ErrUnauthorized = errors.New("операция не разрешена")
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс или параллельное изменение).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrLocked — документ заблокирован другим пользователем.
	ErrLocked = errors.New("документ заблокирован")
	// ErrExternal — внешний сервис недоступен или вернул некорректные данные.
	ErrExternal = errors.New("внешний сервис недоступен")
	// ErrInternal — таймаут БД, ошибка файловой системы или внешней команды.
	ErrInternal = errors.New("внутренняя ошибка")
)

// classify приводит ошибку нижнего слоя к ошибке сервиса,
// сохраняя исходную цепочку для логов.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isServiceError(err):
		return err
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, thesaurus.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, repository.ErrLocked):
		return fmt.Errorf("%w: %w", ErrLocked, err)
	case errors.Is(err, thesaurus.ErrUnavailable), errors.Is(err, importsrc.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrExternal, err)
	case errors.Is(err, manifest.ErrMalformed), errors.Is(err, partner.ErrMalformed),
		errors.Is(err, cdrdoc.ErrInvalid):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	default:
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
}

func isServiceError(err error) bool {
	for _, target := range []error{
		ErrUnauthorized, ErrNotFound, ErrConflict, ErrValidation, ErrLocked, ErrExternal, ErrInternal,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
