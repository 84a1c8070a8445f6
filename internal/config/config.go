// Пакет config — загрузка и валидация конфигурации Depot
// из переменных окружения (и опционального .env файла).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Depot.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Хранилище ---

	// Абсолютный путь к каталогу с содержимым файлов
	DataDir string
	// Префикс имени файла в хранилище (по умолчанию depot_)
	StoragePrefix string
	// Максимальный размер загружаемого файла в байтах
	MaxFileSize int64

	// --- Безопасность ---

	// Общий секрет заголовка X-Security-Token
	SecurityToken string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL (disable, require, verify-ca, verify-full)
	DBSSLMode string
	// Максимум соединений в пуле
	DBMaxConns int

	// --- Уведомления (SMTP) ---

	// Адрес SMTP-сервера; пустое значение отключает отправку писем
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	// Адрес отправителя уведомлений
	SenderEmail string

	// --- Кэш метаданных ---

	// Максимальное количество записей в кэше
	CacheMaxSize int
	// Время жизни записи в кэше
	CacheTTL time.Duration

	// --- Dephealth ---

	// Имя сервиса для метрик топологии
	DephealthServiceID string
	// Группа сервиса
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Если в рабочем каталоге есть .env, переменные из него подставляются
// до чтения окружения (уже заданные переменные не перезаписываются).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".env: %w", err)
	}

	cfg := &Config{}
	var err error

	// --- Сервер ---

	// DEPOT_PORT — порт HTTP-сервера (по умолчанию 8050)
	cfg.Port, err = getEnvInt("DEPOT_PORT", 8050)
	if err != nil {
		return nil, fmt.Errorf("DEPOT_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("DEPOT_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	// DEPOT_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DEPOT_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DEPOT_LOG_LEVEL: %w", err)
	}

	// DEPOT_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DEPOT_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DEPOT_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Хранилище ---

	// DEPOT_DATA_DIR — каталог хранилища (по умолчанию uploads)
	cfg.DataDir, err = filepath.Abs(getEnvDefault("DEPOT_DATA_DIR", "uploads"))
	if err != nil {
		return nil, fmt.Errorf("DEPOT_DATA_DIR: %w", err)
	}

	// DEPOT_STORAGE_PREFIX — префикс имени файла (по умолчанию depot_)
	cfg.StoragePrefix = getEnvDefault("DEPOT_STORAGE_PREFIX", "depot_")
	if strings.ContainsAny(cfg.StoragePrefix, `/\`) {
		return nil, fmt.Errorf("DEPOT_STORAGE_PREFIX: префикс не может содержать разделители пути")
	}

	// DEPOT_MAX_FILE_SIZE — лимит размера файла (по умолчанию 16 МБ)
	cfg.MaxFileSize, err = getEnvInt64("DEPOT_MAX_FILE_SIZE", 16*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("DEPOT_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("DEPOT_MAX_FILE_SIZE: значение должно быть > 0")
	}

	// --- Безопасность ---

	// DEPOT_SECURITY_TOKEN — обязательный
	cfg.SecurityToken, err = getEnvRequired("DEPOT_SECURITY_TOKEN")
	if err != nil {
		return nil, err
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("DEPOT_DB_HOST")
	if err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("DEPOT_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DEPOT_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("DEPOT_DB_NAME")
	if err != nil {
		return nil, err
	}

	cfg.DBUser, err = getEnvRequired("DEPOT_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("DEPOT_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("DEPOT_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DEPOT_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	cfg.DBMaxConns, err = getEnvInt("DEPOT_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DEPOT_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("DEPOT_DB_MAX_CONNS: значение должно быть >= 1, получено %d", cfg.DBMaxConns)
	}

	// --- Уведомления ---

	cfg.SMTPHost = getEnvDefault("DEPOT_SMTP_HOST", "")
	cfg.SMTPPort, err = getEnvInt("DEPOT_SMTP_PORT", 587)
	if err != nil {
		return nil, fmt.Errorf("DEPOT_SMTP_PORT: %w", err)
	}
	cfg.SMTPUser = getEnvDefault("DEPOT_SMTP_USER", "")
	cfg.SMTPPassword = getEnvDefault("DEPOT_SMTP_PASSWORD", "")
	cfg.SenderEmail = getEnvDefault("DEPOT_SENDER_EMAIL", "noreply@depot.local")

	// --- Кэш ---

	// DEPOT_CACHE_MAX_SIZE — размер кэша метаданных (по умолчанию 10000)
	cfg.CacheMaxSize, err = getEnvInt("DEPOT_CACHE_MAX_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("DEPOT_CACHE_MAX_SIZE: %w", err)
	}
	if cfg.CacheMaxSize <= 0 {
		return nil, fmt.Errorf("DEPOT_CACHE_MAX_SIZE: значение должно быть > 0")
	}

	// DEPOT_CACHE_TTL — время жизни записи (по умолчанию 5m)
	cfg.CacheTTL, err = getEnvDuration("DEPOT_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DEPOT_CACHE_TTL: %w", err)
	}

	// --- Dephealth ---

	cfg.DephealthServiceID = getEnvDefault("DEPOT_DEPHEALTH_SERVICE_ID", "depot")
	cfg.DephealthGroup = getEnvDefault("DEPOT_DEPHEALTH_GROUP", "depot")
	cfg.DephealthCheckInterval, err = getEnvDuration("DEPOT_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DEPOT_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("DEPOT_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DEPOT_HTTP_READ_TIMEOUT: %w", err)
	}

	cfg.HTTPWriteTimeout, err = getEnvDuration("DEPOT_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DEPOT_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvDuration("DEPOT_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DEPOT_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	// DEPOT_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("DEPOT_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DEPOT_SHUTDOWN_TIMEOUT: %w", err)
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

// DatabaseURL возвращает URL PostgreSQL для golang-migrate и dephealth.
func (c *Config) DatabaseURL(scheme string) string {
	return fmt.Sprintf(
		"%s://%s:%s@%s:%d/%s?sslmode=%s",
		scheme, c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// NotificationsEnabled — true, если задан SMTP-сервер.
func (c *Config) NotificationsEnabled() bool {
	return c.SMTPHost != ""
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

// getEnvInt64 возвращает int64 из переменной окружения или значение по умолчанию.
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

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
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
