// Точка входа CDR Core: HTTP-сервис очередей перевода, обновления
// клиентских файлов, сверки терминологии и импорта протоколов.
// Загружает конфигурацию, применяет миграции, собирает сервисы,
// запускает фоновую сверку концептов, topologymetrics и HTTP-сервер
// с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/cdrcore/internal/api/handlers"
	"github.com/bigkaa/cdrcore/internal/api/middleware"
	"github.com/bigkaa/cdrcore/internal/app"
	"github.com/bigkaa/cdrcore/internal/config"
	"github.com/bigkaa/cdrcore/internal/database"
	"github.com/bigkaa/cdrcore/internal/domain/rbac"
	"github.com/bigkaa/cdrcore/internal/server"
	"github.com/bigkaa/cdrcore/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("CDR Core остановлен с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// 1. Конфигурация и логирование
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := config.SetupLogger(cfg)
	logger.Info("CDR Core запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 2. Миграции
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return err
	}

	// 3. Сервисы
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// 4. Аутентификация
	var auth func(http.Handler) http.Handler
	checks := map[string]handlers.ReadinessChecker{
		"postgresql": database.NewReadinessChecker(a.Pool),
	}
	if cfg.JWTJWKSURL != "" {
		jwtAuth, err := middleware.NewJWTAuth(
			cfg.JWTJWKSURL, cfg.JWTIssuer,
			rbac.GroupMapping{
				AdminGroups:    cfg.RoleAdminGroups,
				ManagerGroups:  cfg.RoleManagerGroups,
				ReadonlyGroups: cfg.RoleReadonlyGroups,
			},
			cfg.HTTPClientTimeout, cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			return err
		}
		auth = jwtAuth.Middleware()
		checks["idp"] = middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.HTTPClientTimeout)
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		auth = middleware.StaticSession(cfg.BatchUser)
		logger.Warn("CDR_JWT_JWKS_URL не задан: API работает без аутентификации от имени пакетного пользователя",
			slog.String("user", cfg.BatchUser),
		)
	}

	// 5. Фоновая сверка концептов (выключена при CDR_RECONCILE_INTERVAL=0)
	a.Reconcile.Start(ctx)
	defer a.Reconcile.Stop()

	// 6. topologymetrics
	pgDB := stdlib.OpenDBFromPool(a.Pool)
	defer pgDB.Close()

	dephealthSvc, err := service.NewDephealthService(
		"cdr-core",
		cfg.DephealthGroup,
		pgDB,
		service.DephealthTargets{
			PostgresURL: cfg.DatabaseURL(),
			EVSURL:      cfg.EVSURL,
			JWKSURL:     cfg.JWTJWKSURL,
		},
		cfg.DephealthCheckInterval,
		logger,
	)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
	} else {
		defer dephealthSvc.Stop()
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 7. HTTP-сервер
	h := server.Handlers{
		Health:        handlers.NewHealthHandler(checks),
		Translation:   handlers.NewTranslationHandler(a.Queue, logger),
		ClientRefresh: handlers.NewClientRefreshHandler(a.Refresh, logger),
		Terminology:   handlers.NewTerminologyHandler(a.Reconcile, a.Import, logger),
		Partners:      handlers.NewPartnerHandler(a.Partners, logger),
	}
	return server.New(cfg, logger, h, auth).Run(ctx)
}
