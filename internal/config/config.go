// Пакет config — загрузка и валидация конфигурации CDR Core
// из переменных окружения (опционально из .env файла).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Границы таймаута длинных запросов к БД.
const (
	MinQueryTimeout = 120 * time.Second
	MaxQueryTimeout = 300 * time.Second
)

// Config содержит все параметры конфигурации CDR Core.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимальный размер пула подключений
	DBMaxConns int
	// Таймаут длинных запросов (statement_timeout), 120s-300s
	DBQueryTimeout time.Duration

	// --- JWT ---

	// URL JWKS endpoint (пустой — API без аутентификации, только для разработки)
	JWTJWKSURL string
	// Ожидаемый issuer JWT
	JWTIssuer string
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration

	// --- Маппинг групп → ролей ---

	RoleAdminGroups    []string
	RoleManagerGroups  []string
	RoleReadonlyGroups []string

	// --- Обновление клиентских файлов ---

	// Каталог с эталонным набором клиентских файлов (содержит CdrManifest.xml)
	ClientFilesDir string
	// Внешний архиватор
	ArchiveCommand string
	// Таймаут построения архива
	ArchiveTimeout time.Duration

	// --- Внешние источники ---

	// NCI EVS REST API (NCI Thesaurus)
	EVSURL string
	// ClinicalTrials.gov API
	CTGovURL string
	// RSS-лента обновлений протоколов (опционально)
	RSSFeedURL string
	// Таймаут HTTP-клиентов внешних источников
	HTTPClientTimeout time.Duration

	// --- Кэш ---

	CacheSize int
	CacheTTL  time.Duration

	// --- Пакетные задания ---

	// Пользователь CDR, от имени которого работают пакетные задания
	BatchUser string
	// YAML-каталог продуктов реестра партнёров (опционально)
	PartnerCatalogFile string
	// Интервал периодической сверки концептов (0 — выключено)
	ReconcileInterval time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Если задана CDR_ENV_FILE, сначала подгружается указанный .env файл;
// уже заданные переменные окружения не перезаписываются.
func Load() (*Config, error) {
	if envFile := os.Getenv("CDR_ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("CDR_ENV_FILE: чтение %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("CDR_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("CDR_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CDR_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CDR_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CDR_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("CDR_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CDR_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("CDR_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("CDR_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("CDR_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("CDR_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("CDR_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("CDR_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("CDR_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("CDR_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	cfg.DBMaxConns, err = getEnvInt("CDR_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("CDR_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("CDR_DB_MAX_CONNS: значение %d должно быть положительным", cfg.DBMaxConns)
	}

	cfg.DBQueryTimeout, err = getEnvDuration("CDR_DB_QUERY_TIMEOUT", 180*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CDR_DB_QUERY_TIMEOUT: %w", err)
	}
	if cfg.DBQueryTimeout < MinQueryTimeout || cfg.DBQueryTimeout > MaxQueryTimeout {
		return nil, fmt.Errorf("CDR_DB_QUERY_TIMEOUT: значение %s вне допустимого диапазона %s-%s",
			cfg.DBQueryTimeout, MinQueryTimeout, MaxQueryTimeout)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("CDR_JWT_JWKS_URL", "")
	cfg.JWTIssuer = getEnvDefault("CDR_JWT_ISSUER", "")
	cfg.JWTLeeway, err = getEnvDuration("CDR_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CDR_JWT_LEEWAY: %w", err)
	}

	cfg.RoleAdminGroups = parseCSV(getEnvDefault("CDR_ROLE_ADMIN_GROUPS", "CDR Administrators"))
	cfg.RoleManagerGroups = parseCSV(getEnvDefault("CDR_ROLE_MANAGER_GROUPS", "Translation Managers"))
	cfg.RoleReadonlyGroups = parseCSV(getEnvDefault("CDR_ROLE_READONLY_GROUPS",
		"Spanish Summary Translators,Spanish Media Translators,Spanish Glossary Translators"))

	// --- Обновление клиентских файлов ---

	cfg.ClientFilesDir = getEnvDefault("CDR_CLIENT_FILES_DIR", "/var/lib/cdr/client-files")
	cfg.ArchiveCommand = getEnvDefault("CDR_ARCHIVE_COMMAND", "zip")
	cfg.ArchiveTimeout, err = getEnvDuration("CDR_ARCHIVE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CDR_ARCHIVE_TIMEOUT: %w", err)
	}

	// --- Внешние источники ---

	if cfg.EVSURL, err = getEnvURL("CDR_EVS_URL", "https://api-evsrest.nci.nih.gov"); err != nil {
		return nil, err
	}
	if cfg.CTGovURL, err = getEnvURL("CDR_CTGOV_URL", "https://clinicaltrials.gov"); err != nil {
		return nil, err
	}
	if cfg.RSSFeedURL, err = getEnvURL("CDR_RSS_FEED_URL", ""); err != nil {
		return nil, err
	}
	cfg.HTTPClientTimeout, err = getEnvDuration("CDR_HTTP_CLIENT_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CDR_HTTP_CLIENT_TIMEOUT: %w", err)
	}

	// --- Кэш ---

	cfg.CacheSize, err = getEnvInt("CDR_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("CDR_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("CDR_CACHE_SIZE: значение %d должно быть положительным", cfg.CacheSize)
	}
	cfg.CacheTTL, err = getEnvDuration("CDR_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CDR_CACHE_TTL: %w", err)
	}

	// --- Пакетные задания ---

	cfg.BatchUser = getEnvDefault("CDR_BATCH_USER", "ImportUser")
	cfg.PartnerCatalogFile = getEnvDefault("CDR_PARTNER_CATALOG_FILE", "")
	cfg.ReconcileInterval, err = getEnvDuration("CDR_RECONCILE_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("CDR_RECONCILE_INTERVAL: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("CDR_DEPHEALTH_GROUP", "cdr")
	cfg.DephealthCheckInterval, err = getEnvDuration("CDR_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CDR_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("CDR_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CDR_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvURL возвращает абсолютный URL без завершающего слэша.
// Пустое значение по умолчанию допустимо (источник выключен).
func getEnvURL(key, defaultVal string) (string, error) {
	val := strings.TrimRight(getEnvDefault(key, defaultVal), "/")
	if val == "" {
		return "", nil
	}
	u, err := url.Parse(val)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%s: некорректный URL %q", key, val)
	}
	return val, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
