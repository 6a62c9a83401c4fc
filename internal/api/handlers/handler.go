// Пакет handlers — HTTP-обработчики CDR Core.
// Обработчики разбирают запрос, вызывают сервисный слой и кодируют ответ;
// права проверяет сервисный слой по сессии из контекста.
package handlers

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/cdrcore/internal/api/errors"
)

// maxBodySize — предельный размер тела запроса (манифест клиента,
// файл реестра партнёров).
const maxBodySize = 32 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeXML(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(data)
}

// readBody читает тело запроса с ограничением размера.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("чтение тела запроса: %w", err)
	}
	return body, nil
}

// decodeJSON разбирает JSON-тело; неизвестные поля запрещены.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("некорректное JSON-тело: %w", err)
	}
	return nil
}

// pathInt извлекает целочисленный параметр маршрута.
func pathInt(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("параметр %s: ожидается положительное целое, получено %q", name, chi.URLParam(r, name))
	}
	return v, nil
}

// queryInts разбирает повторяющийся параметр или список через запятую:
// ?state=1&state=2 и ?state=1,2 равнозначны.
func queryInts(r *http.Request, name string) ([]int, error) {
	var out []int
	for _, raw := range r.URL.Query()[name] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("параметр %s: некорректное целое %q", name, part)
			}
			out = append(out, n)
		}
	}
	return out, nil
}

// base — общие зависимости обработчиков.
type base struct {
	logger *slog.Logger
}

func (b base) fail(w http.ResponseWriter, r *http.Request, err error) {
	apierrors.FromService(w, r, b.logger, err)
}
