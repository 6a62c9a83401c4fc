// Пакет app — сборка зависимостей CDR Core, общая для HTTP-сервиса
// и пакетных заданий: пул PostgreSQL, внешние клиенты, сервисы.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/cdrcore/internal/config"
	"github.com/bigkaa/cdrcore/internal/database"
	"github.com/bigkaa/cdrcore/internal/importsrc"
	"github.com/bigkaa/cdrcore/internal/manifest"
	"github.com/bigkaa/cdrcore/internal/partner"
	"github.com/bigkaa/cdrcore/internal/repository"
	"github.com/bigkaa/cdrcore/internal/service"
	"github.com/bigkaa/cdrcore/internal/thesaurus"
)

// App — собранные сервисы.
type App struct {
	Pool *pgxpool.Pool

	Queue     *service.TranslationQueueService
	Refresh   *service.ClientRefreshService
	Reconcile *service.ConceptReconcileService
	Import    *service.ProtocolImportService
	Partners  *service.PartnerRegistryService
}

// New подключается к PostgreSQL и создаёт сервисы.
// Миграции не применяются: это делает вызывающий код.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	catalog := partner.DefaultCatalog()
	if cfg.PartnerCatalogFile != "" {
		var err error
		if catalog, err = partner.LoadCatalog(cfg.PartnerCatalogFile); err != nil {
			return nil, fmt.Errorf("каталог продуктов партнёров: %w", err)
		}
		logger.Info("Каталог продуктов партнёров загружен",
			slog.String("file", cfg.PartnerCatalogFile),
		)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	repos := service.NewRepositories()
	tx := repository.NewTxRunner(pool)

	semanticTypes := service.NewSemanticTypeLookup(
		repository.NewDocumentRepository(pool),
		service.NewCache[int]("semantic_types", cfg.CacheSize, cfg.CacheTTL),
	)
	evs := thesaurus.New(cfg.EVSURL, cfg.HTTPClientTimeout, logger)
	sources := importsrc.NewSources(cfg.CTGovURL, cfg.RSSFeedURL, cfg.HTTPClientTimeout, logger)
	archiver := manifest.NewCommandArchiver(cfg.ArchiveCommand, cfg.ArchiveTimeout)

	return &App{
		Pool:    pool,
		Queue:   service.NewTranslationQueueService(pool, tx, repos, nil, logger),
		Refresh: service.NewClientRefreshService(cfg.ClientFilesDir, archiver, logger),
		Reconcile: service.NewConceptReconcileService(
			pool, tx, repos, evs, semanticTypes,
			cfg.BatchUser, cfg.ReconcileInterval, logger,
		),
		Import:   service.NewProtocolImportService(pool, tx, repos, sources, logger),
		Partners: service.NewPartnerRegistryService(tx, repos, catalog, logger),
	}, nil
}

// Close закрывает пул подключений.
func (a *App) Close() {
	a.Pool.Close()
}
