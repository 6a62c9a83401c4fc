// Пакет thesaurus — клиент EVS REST API (NCI Thesaurus) и сверка
// концептов с документами Term.
package thesaurus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrNotFound — концепт отсутствует в NCI Thesaurus.
	ErrNotFound = errors.New("концепт не найден в NCI Thesaurus")
	// ErrUnavailable — EVS недоступен или вернул некорректный ответ.
	ErrUnavailable = errors.New("ошибка обращения к EVS API")
)

// Client — HTTP-клиент EVS REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент EVS. baseURL — например, https://api-evsrest.nci.nih.gov.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "evs_client")),
	}
}

// BaseURL возвращает базовый URL EVS (для проверки доступности).
func (c *Client) BaseURL() string {
	return c.baseURL
}

// evsConcept — ответ GET /api/v1/concept/ncit/{code}?include=full.
type evsConcept struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Synonyms []struct {
		Name     string `json:"name"`
		TermType string `json:"termType"`
		Type     string `json:"type"`
		Source   string `json:"source"`
	} `json:"synonyms"`
	Definitions []struct {
		Definition string `json:"definition"`
		Type       string `json:"type"`
		Source     string `json:"source"`
	} `json:"definitions"`
	Properties []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"properties"`
}

// FetchConcept загружает концепт по коду (например, C287).
func (c *Client) FetchConcept(ctx context.Context, code string) (*Concept, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: пустой код концепта", ErrNotFound)
	}
	reqURL := fmt.Sprintf("%s/api/v1/concept/ncit/%s?include=full", c.baseURL, url.PathEscape(code))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса FetchConcept: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:gosec // URL из конфигурации EVS
	if err != nil {
		return nil, fmt.Errorf("%w: запрос концепта %s: %v", ErrUnavailable, code, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Ответ EVS",
		slog.String("code", code),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: концепт %s: HTTP %d: %s", ErrUnavailable, code, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw evsConcept
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: декодирование концепта %s: %v", ErrUnavailable, code, err)
	}
	if raw.Code == "" || raw.Name == "" {
		return nil, fmt.Errorf("%w: концепт %s без кода или названия", ErrUnavailable, code)
	}

	return convert(&raw), nil
}

func convert(raw *evsConcept) *Concept {
	concept := &Concept{Code: raw.Code, PreferredName: strings.TrimSpace(raw.Name)}
	for _, s := range raw.Synonyms {
		concept.Synonyms = append(concept.Synonyms, Synonym{Name: s.Name, TermType: s.TermType, Source: s.Source})
	}
	for _, d := range raw.Definitions {
		concept.Definitions = append(concept.Definitions, ConceptDefinition{Text: d.Definition, Type: d.Type, Source: d.Source})
	}
	for _, p := range raw.Properties {
		if p.Type == semanticTypeProperty && p.Value != "" {
			concept.SemanticTypes = append(concept.SemanticTypes, p.Value)
		}
	}
	return concept
}
