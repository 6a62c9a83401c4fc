// Пакет importsrc — внешние источники протоколов для пакетного импорта:
// ClinicalTrials.gov (API v2) и RSS-лента обновлений lead-организаций.
package importsrc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bigkaa/cdrcore/internal/domain/model"
)

// ErrUnavailable — источник недоступен или вернул некорректные данные.
// Пакет импорта при такой ошибке прерывается целиком.
var ErrUnavailable = errors.New("внешний источник протоколов недоступен")

// Source — источник протоколов.
type Source interface {
	// Name — имя источника (значение import_record.source).
	Name() model.ImportSource
	// Fetch возвращает записи источника. ids — внешние идентификаторы,
	// которые нужно получить; источники-ленты возвращают всю ленту.
	Fetch(ctx context.Context, ids []string) ([]model.ExternalProtocol, error)
}

// httpGet выполняет GET и возвращает тело ответа 200 OK.
func httpGet(ctx context.Context, client *http.Client, reqURL, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req) //nolint:gosec // URL из конфигурации источника
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: чтение ответа: %v", ErrUnavailable, err)
	}
	return body, nil
}

// Sources — реестр настроенных источников.
type Sources map[model.ImportSource]Source

// NewSources создаёт источники по конфигурации; пустой URL — источник отключён.
func NewSources(ctgovURL, rssURL string, timeout time.Duration, logger *slog.Logger) Sources {
	sources := Sources{}
	if ctgovURL != "" {
		sources[model.SourceCTGov] = NewCTGov(ctgovURL, timeout, logger)
	}
	if rssURL != "" {
		sources[model.SourceRSS] = NewRSS(rssURL, timeout, logger)
	}
	return sources
}

// Get возвращает источник по имени.
func (s Sources) Get(name model.ImportSource) (Source, bool) {
	src, ok := s[name]
	return src, ok
}
