// Пакет config - загрузка и валидация конфигурации Self-Destruct Module
// из переменных окружения.
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

// Драйверы хранилища метаданных.
const (
	MetaDriverPostgres = "postgres"
	MetaDriverSQLite   = "sqlite"
	MetaDriverRedis    = "redis"
	MetaDriverMemory   = "memory"
)

// Драйверы хранилища бинарных данных.
const (
	BlobDriverFS = "fs"
	BlobDriverS3 = "s3"
)

// Config содержит все параметры конфигурации Self-Destruct Module.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Идентификатор экземпляра (вершина графа в topologymetrics)
	ServiceID string
	// Публичный базовый URL сервиса, из него строится ссылка /image/{id}
	PublicURL string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// Максимальный размер загружаемого изображения в байтах
	MaxUploadSize int64
	// TTL по умолчанию (если expirySeconds не передан или некорректен)
	DefaultTTL time.Duration
	// Максимально допустимый TTL
	MaxTTL time.Duration

	// Интервал фонового удаления истёкших объектов
	SweepInterval time.Duration
	// Ограничение длительности одного прохода
	SweepTimeout time.Duration
	// Интервал сверки хранилищ (поиск осиротевших blob'ов), 0 - фоновая сверка отключена
	ReconcileInterval time.Duration
	// Минимальный возраст blob'а без записи, после которого он удаляется
	ReconcileGrace time.Duration

	// Драйвер метаданных: postgres, sqlite, redis, memory
	MetaDriver string
	// Параметры PostgreSQL
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Путь к файлу SQLite
	SQLitePath string
	// URL Redis (redis://host:port/db)
	RedisURL string

	// Драйвер blob-хранилища: fs, s3
	BlobDriver string
	// Директория для драйвера fs
	BlobDir string
	// Базовый URL, по которому отдаются blob'ы драйвера fs
	BlobBaseURL string
	// Отдавать blob'ы драйвера fs самим сервисом (GET /blobs/{key})
	BlobServeLocal bool
	// Параметры S3
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PublicURL string
	S3PathStyle bool
	S3AccessKey string
	S3SecretKey string
	// Путь health-проверки S3-совместимого endpoint (dephealth)
	S3HealthPath string

	// Токен Bitly (пусто - сокращение отключено)
	BitlyToken string
	// Базовый URL API Bitly
	BitlyURL string
	// Таймаут запроса сокращения ссылки
	ShortenTimeout time.Duration

	// Размер LRU-кэша записей и TTL записи в кэше
	CacheSize int
	CacheTTL  time.Duration

	// NATS для событий жизненного цикла (пусто - события отключены)
	NATSURL     string
	NATSSubject string

	// JWKS для проверки JWT на загрузке и maintenance (пусто - без аутентификации)
	JWKSUrl             string
	JWKSRefreshInterval time.Duration
	JWTLeeway           time.Duration

	// Разрешённые CORS origins
	CORSOrigins []string

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Если задан SD_DOTENV_FILE, переменные сначала подгружаются из файла
// (уже установленные значения не перезаписываются).
func Load() (*Config, error) {
	if path := os.Getenv("SD_DOTENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("SD_DOTENV_FILE: %w", err)
		}
	}

	cfg := &Config{}
	var err error

	// SD_PORT - порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("SD_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("SD_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SD_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.ServiceID = getEnvDefault("SD_SERVICE_ID", "selfdestruct-module")

	// SD_PUBLIC_URL - обязательный
	cfg.PublicURL, err = getEnvRequired("SD_PUBLIC_URL")
	if err != nil {
		return nil, err
	}
	if err := validateURL(cfg.PublicURL); err != nil {
		return nil, fmt.Errorf("SD_PUBLIC_URL: %w", err)
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SD_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("SD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration("SD_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("SD_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("SD_HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("SD_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("SD_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("SD_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("SD_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("SD_SHUTDOWN_TIMEOUT: %w", err)
	}

	// SD_MAX_UPLOAD_SIZE - максимальный размер изображения (по умолчанию 10 MiB)
	cfg.MaxUploadSize, err = getEnvInt64("SD_MAX_UPLOAD_SIZE", 10<<20)
	if err != nil {
		return nil, fmt.Errorf("SD_MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("SD_MAX_UPLOAD_SIZE: значение должно быть положительным")
	}

	if cfg.DefaultTTL, err = getEnvDuration("SD_DEFAULT_TTL", 60*time.Second); err != nil {
		return nil, fmt.Errorf("SD_DEFAULT_TTL: %w", err)
	}
	if cfg.MaxTTL, err = getEnvDuration("SD_MAX_TTL", 7*24*time.Hour); err != nil {
		return nil, fmt.Errorf("SD_MAX_TTL: %w", err)
	}
	if cfg.DefaultTTL <= 0 {
		return nil, fmt.Errorf("SD_DEFAULT_TTL: значение должно быть положительным")
	}
	if cfg.MaxTTL < cfg.DefaultTTL {
		return nil, fmt.Errorf("SD_MAX_TTL: значение %s должно быть >= SD_DEFAULT_TTL (%s)", cfg.MaxTTL, cfg.DefaultTTL)
	}

	// SD_SWEEP_INTERVAL - интервал фонового удаления (по умолчанию 60s)
	if cfg.SweepInterval, err = getEnvDuration("SD_SWEEP_INTERVAL", 60*time.Second); err != nil {
		return nil, fmt.Errorf("SD_SWEEP_INTERVAL: %w", err)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SD_SWEEP_INTERVAL: значение должно быть положительным")
	}
	if cfg.SweepTimeout, err = getEnvDuration("SD_SWEEP_TIMEOUT", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("SD_SWEEP_TIMEOUT: %w", err)
	}
	if cfg.ReconcileInterval, err = getEnvDuration("SD_RECONCILE_INTERVAL", time.Hour); err != nil {
		return nil, fmt.Errorf("SD_RECONCILE_INTERVAL: %w", err)
	}
	if cfg.ReconcileInterval < 0 {
		return nil, fmt.Errorf("SD_RECONCILE_INTERVAL: значение не может быть отрицательным")
	}
	if cfg.ReconcileGrace, err = getEnvDuration("SD_RECONCILE_GRACE", time.Hour); err != nil {
		return nil, fmt.Errorf("SD_RECONCILE_GRACE: %w", err)
	}

	if err := loadMetaStore(cfg); err != nil {
		return nil, err
	}
	if err := loadBlobStore(cfg); err != nil {
		return nil, err
	}

	cfg.BitlyToken = getEnvDefault("SD_BITLY_TOKEN", "")
	cfg.BitlyURL = strings.TrimRight(getEnvDefault("SD_BITLY_URL", "https://api-ssl.bitly.com"), "/")
	if cfg.ShortenTimeout, err = getEnvDuration("SD_SHORTEN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("SD_SHORTEN_TIMEOUT: %w", err)
	}

	if cfg.CacheSize, err = getEnvInt("SD_CACHE_SIZE", 10000); err != nil {
		return nil, fmt.Errorf("SD_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("SD_CACHE_SIZE: значение должно быть положительным")
	}
	if cfg.CacheTTL, err = getEnvDuration("SD_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("SD_CACHE_TTL: %w", err)
	}

	cfg.NATSURL = getEnvDefault("SD_NATS_URL", "")
	cfg.NATSSubject = getEnvDefault("SD_NATS_SUBJECT", "selfdestruct.objects")

	cfg.JWKSUrl = getEnvDefault("SD_JWKS_URL", "")
	if cfg.JWKSRefreshInterval, err = getEnvDuration("SD_JWKS_REFRESH_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("SD_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWTLeeway, err = getEnvDuration("SD_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("SD_JWT_LEEWAY: %w", err)
	}

	cfg.CORSOrigins = splitList(getEnvDefault("SD_CORS_ORIGINS", "*"))

	if cfg.DephealthCheckInterval, err = getEnvDuration("SD_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("SD_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("SD_DEPHEALTH_GROUP", "selfdestruct")

	return cfg, nil
}

// loadMetaStore читает параметры хранилища метаданных выбранного драйвера.
func loadMetaStore(cfg *Config) error {
	var err error

	cfg.MetaDriver = getEnvDefault("SD_META_DRIVER", MetaDriverPostgres)
	switch cfg.MetaDriver {
	case MetaDriverPostgres:
		cfg.DBHost = getEnvDefault("SD_DB_HOST", "localhost")
		if cfg.DBPort, err = getEnvInt("SD_DB_PORT", 5432); err != nil {
			return fmt.Errorf("SD_DB_PORT: %w", err)
		}
		cfg.DBName = getEnvDefault("SD_DB_NAME", "selfdestruct")
		if cfg.DBUser, err = getEnvRequired("SD_DB_USER"); err != nil {
			return err
		}
		if cfg.DBPassword, err = getEnvRequired("SD_DB_PASSWORD"); err != nil {
			return err
		}
		cfg.DBSSLMode = getEnvDefault("SD_DB_SSL_MODE", "disable")
	case MetaDriverSQLite:
		cfg.SQLitePath = getEnvDefault("SD_SQLITE_PATH", "selfdestruct.db")
	case MetaDriverRedis:
		if cfg.RedisURL, err = getEnvRequired("SD_REDIS_URL"); err != nil {
			return err
		}
	case MetaDriverMemory:
	default:
		return fmt.Errorf("SD_META_DRIVER: недопустимое значение %q, допустимые: postgres, sqlite, redis, memory", cfg.MetaDriver)
	}
	return nil
}

// loadBlobStore читает параметры blob-хранилища выбранного драйвера.
func loadBlobStore(cfg *Config) error {
	var err error

	cfg.BlobDriver = getEnvDefault("SD_BLOB_DRIVER", BlobDriverFS)
	switch cfg.BlobDriver {
	case BlobDriverFS:
		cfg.BlobDir = getEnvDefault("SD_BLOB_DIR", "./data/blobs")
		if cfg.BlobServeLocal, err = getEnvBool("SD_BLOB_SERVE_LOCAL", true); err != nil {
			return fmt.Errorf("SD_BLOB_SERVE_LOCAL: %w", err)
		}
		cfg.BlobBaseURL = strings.TrimRight(getEnvDefault("SD_BLOB_BASE_URL", cfg.PublicURL+"/blobs"), "/")
		if err := validateURL(cfg.BlobBaseURL); err != nil {
			return fmt.Errorf("SD_BLOB_BASE_URL: %w", err)
		}
	case BlobDriverS3:
		if cfg.S3Bucket, err = getEnvRequired("SD_S3_BUCKET"); err != nil {
			return err
		}
		cfg.S3Region = getEnvDefault("SD_S3_REGION", "us-east-1")
		cfg.S3Endpoint = getEnvDefault("SD_S3_ENDPOINT", "")
		cfg.S3PublicURL = strings.TrimRight(getEnvDefault("SD_S3_PUBLIC_URL", ""), "/")
		cfg.S3HealthPath = getEnvDefault("SD_S3_HEALTH_PATH", "/minio/health/live")
		if cfg.S3PathStyle, err = getEnvBool("SD_S3_PATH_STYLE", cfg.S3Endpoint != ""); err != nil {
			return fmt.Errorf("SD_S3_PATH_STYLE: %w", err)
		}
		cfg.S3AccessKey = getEnvDefault("SD_S3_ACCESS_KEY", "")
		cfg.S3SecretKey = getEnvDefault("SD_S3_SECRET_KEY", "")
		if (cfg.S3AccessKey == "") != (cfg.S3SecretKey == "") {
			return fmt.Errorf("SD_S3_ACCESS_KEY и SD_S3_SECRET_KEY задаются только вместе")
		}
	default:
		return fmt.Errorf("SD_BLOB_DRIVER: недопустимое значение %q, допустимые: fs, s3", cfg.BlobDriver)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return "pgx5" + strings.TrimPrefix(c.DatabaseDSN(), "postgres")
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

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
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

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает bool значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
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

// validateURL проверяет, что строка - абсолютный http(s) URL.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("некорректный URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("некорректный URL %q: ожидается схема http или https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("некорректный URL %q: отсутствует хост", raw)
	}
	return nil
}

// splitList разбирает список через запятую, пропуская пустые элементы.
func splitList(raw string) []string {
	var result []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			result = append(result, p)
		}
	}
	return result
}
