// Пакет database — пул PostgreSQL для CDR Core, встроенные миграции схемы
// (документы, очереди перевода, импорт, партнёры PDQ) и проверка готовности.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/cdrcore/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connect создаёт пул подключений к базе CDR.
// Каждое соединение получает statement_timeout = CDR_DB_QUERY_TIMEOUT:
// запрос, превысивший таймаут, отменяется сервером (SQLSTATE 57014).
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConns) //nolint:gosec // ограничено валидацией конфигурации
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.DBQueryTimeout.Milliseconds(), 10)
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "cdr-core"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к базе CDR: %w", err)
	}

	logger.Info("Подключение к базе CDR установлено",
		slog.String("url", cfg.DatabaseURL()),
		slog.Int("max_conns", cfg.DBMaxConns),
		slog.String("statement_timeout", cfg.DBQueryTimeout.String()),
	)
	return pool, nil
}

// migrationURL — адрес для драйвера pgx5 golang-migrate.
func migrationURL(cfg *config.Config) string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(cfg.DBUser, cfg.DBPassword),
		Host:     fmt.Sprintf("%s:%d", cfg.DBHost, cfg.DBPort),
		Path:     "/" + cfg.DBName,
		RawQuery: url.Values{"sslmode": {cfg.DBSSLMode}}.Encode(),
	}
	return u.String()
}

// LatestVersion — номер последней встроенной миграции.
func LatestVersion() (uint, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("чтение встроенных миграций: %w", err)
	}
	var latest uint
	for _, e := range entries {
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("миграция %s: неверный номер версии", e.Name())
		}
		latest = max(latest, uint(v))
	}
	return latest, nil
}

// Migrate доводит схему CDR до последней встроенной версии.
// Схема в состоянии dirty (прерванная миграция) не трогается:
// её исправляют вручную через `migrate force`.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, migrationURL(cfg))
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
	case err != nil:
		return fmt.Errorf("ошибка чтения версии схемы: %w", err)
	case dirty:
		return fmt.Errorf("схема CDR в состоянии dirty на версии %d: требуется ручное исправление", from)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	to, _, _ := m.Version()
	logger.Info("Схема CDR актуальна",
		slog.Uint64("from_version", uint64(from)),
		slog.Uint64("version", uint64(to)),
	)
	return nil
}

// ReadinessChecker — готовность базы CDR: соединение и версия схемы.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности базы CDR.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady: fail — база недоступна или схема dirty,
// degraded — схема отстаёт от встроенных миграций.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}

	var (
		version int64
		dirty   bool
	)
	err := c.pool.QueryRow(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return "degraded", "схема CDR не создана"
		}
		return "degraded", fmt.Sprintf("версия схемы не прочитана: %v", err)
	}
	if dirty {
		return "fail", fmt.Sprintf("схема CDR в состоянии dirty на версии %d", version)
	}

	latest, err := LatestVersion()
	if err != nil {
		return "degraded", err.Error()
	}
	if version < int64(latest) {
		return "degraded", fmt.Sprintf("схема CDR версии %d, ожидалась %d", version, latest)
	}
	return "ok", fmt.Sprintf("подключение активно, схема версии %d", version)
}
