// client_refresh.go — обновление клиентских файлов по манифесту.
//
// Эталонный набор файлов и CdrManifest.xml лежат в каталоге сервера и
// обновляются внешним административным процессом. Каждый запрос читает
// манифест заново, поэтому замена файла между запросами безопасна.
//
// Prometheus-метрики:
//   - cdr_client_refresh_requests_total — запросы по типу и результату
//   - cdr_client_refresh_archive_seconds — длительность сборки архива
package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/cdrcore/internal/domain/rbac"
	"github.com/bigkaa/cdrcore/internal/manifest"
)

var (
	clientRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdr_client_refresh_requests_total",
		Help: "Количество запросов обновления клиентских файлов",
	}, []string{"kind", "result"}) // kind: ticket, delta; result: current, stale, updates, empty, error

	clientRefreshArchiveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cdr_client_refresh_archive_seconds",
		Help:    "Длительность сборки архива обновления",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms … ~25s
	})
)

// ClientRefreshService сравнивает манифест клиента с манифестом сервера.
type ClientRefreshService struct {
	dir      string
	archiver manifest.Archiver
	logger   *slog.Logger
}

// NewClientRefreshService создаёт сервис для каталога клиентских файлов dir.
func NewClientRefreshService(dir string, archiver manifest.Archiver, logger *slog.Logger) *ClientRefreshService {
	return &ClientRefreshService{
		dir:      dir,
		archiver: archiver,
		logger:   logger.With(slog.String("component", "client_refresh")),
	}
}

// CheckTicket возвращает Current Y, если тикет клиента совпадает с тикетом сервера.
// Из манифеста сервера читается только тикет.
func (s *ClientRefreshService) CheckTicket(ctx context.Context, client *manifest.Ticket) (*manifest.Current, error) {
	if _, err := authorize(ctx, rbac.ActionClientRefresh); err != nil {
		return nil, err
	}

	server, err := manifest.LoadTicket(s.dir)
	if err != nil {
		clientRefreshTotal.WithLabelValues("ticket", "error").Inc()
		return nil, fmt.Errorf("%w: чтение манифеста сервера: %w", ErrInternal, err)
	}

	upToDate := server.Matches(*client)
	result := "stale"
	if upToDate {
		result = "current"
	}
	clientRefreshTotal.WithLabelValues("ticket", result).Inc()
	s.logger.Debug("Проверка тикета клиента",
		slog.String("host", client.Host),
		slog.Bool("current", upToDate),
	)

	current := manifest.NewCurrent(upToDate)
	return &current, nil
}

// MakeDelta строит обновление: архив недостающих или изменённых файлов
// и список файлов, которых нет на сервере.
func (s *ClientRefreshService) MakeDelta(ctx context.Context, client *manifest.Manifest) (*manifest.Updates, error) {
	if _, err := authorize(ctx, rbac.ActionClientRefresh); err != nil {
		return nil, err
	}

	server, err := manifest.Load(s.dir)
	if err != nil {
		clientRefreshTotal.WithLabelValues("delta", "error").Inc()
		return nil, fmt.Errorf("%w: чтение манифеста сервера: %w", ErrInternal, err)
	}

	delta := manifest.Diff(server, client)
	if delta.Empty() {
		clientRefreshTotal.WithLabelValues("delta", "empty").Inc()
		return &manifest.Updates{}, nil
	}

	start := time.Now()
	updates, err := manifest.BuildUpdates(ctx, s.dir, delta, s.archiver)
	if err != nil {
		clientRefreshTotal.WithLabelValues("delta", "error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	if len(delta.Install) > 0 {
		clientRefreshArchiveDuration.Observe(time.Since(start).Seconds())
	}

	clientRefreshTotal.WithLabelValues("delta", "updates").Inc()
	s.logger.Info("Построено обновление клиентских файлов",
		slog.String("host", client.Ticket.Host),
		slog.Int("install", len(delta.Install)),
		slog.Int("delete", len(delta.Delete)),
	)
	return updates, nil
}

// Handle разбирает запрос клиента по корневому элементу:
// Ticket — проверка тикета, Manifest — построение обновления.
// Возвращает *manifest.Current или *manifest.Updates.
func (s *ClientRefreshService) Handle(ctx context.Context, body []byte) (any, error) {
	root, err := manifest.RootName(bytes.NewReader(body))
	if err != nil {
		return nil, classify(err)
	}

	switch root {
	case "Ticket":
		ticket, err := manifest.ParseTicket(bytes.NewReader(body))
		if err != nil {
			return nil, classify(err)
		}
		return s.CheckTicket(ctx, ticket)
	case "Manifest":
		m, err := manifest.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, classify(err)
		}
		return s.MakeDelta(ctx, m)
	default:
		return nil, fmt.Errorf("%w: неизвестный запрос <%s>", ErrValidation, root)
	}
}

