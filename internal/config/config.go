package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Broker   BrokerConfig
	Engine   EngineConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки операторского HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	ShutdownTimeout time.Duration
	AllowedOrigins  string // Origin'ы для /ws/stream через запятую, пусто - любые
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         int
	Name         string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	EncryptionKey string // AES-256 ключ для API-ключей инстансов
	OpsTokenHash  string // bcrypt-хэш bearer-токена операторского API
}

// BrokerConfig - настройки клиента брокерских шлюзов
type BrokerConfig struct {
	RequestTimeout time.Duration

	// Повторы: критический профиль для ордеров, некритический для чтения
	CriticalAttempts    int
	CriticalBaseDelay   time.Duration
	NonCriticalAttempts int
	NonCriticalBase     time.Duration

	// Транспорт
	ProxyURL           string
	VerifyTLS          bool
	MaxInFlightPerHost int

	// Суточный circuit breaker
	CircuitNotFoundThreshold int
	CircuitAuthThreshold     int
	CircuitBackoff           time.Duration
	Timezone                 string

	// Лимиты
	RateLimitFile    string
	RateLimitRefresh time.Duration
	DefaultRPS       int
	DefaultRPM       int
	DefaultOPS       int
	GlobalOPS        int

	// Дедупликация повторов ордеров
	DedupMinPositionChange float64
	DedupQtyTolerance      float64
	DedupMaxOrderAge       time.Duration

	QuoteFallbacks int

	// Кеши реестра инстансов и проверки инструментов
	InstanceCacheTTL   time.Duration
	InstrumentCacheTTL time.Duration
}

// EngineConfig - интервалы фоновых циклов и kill switch'и
type EngineConfig struct {
	FillInterval     time.Duration
	QuoteInterval    time.Duration
	RiskEvalInterval time.Duration
	RiskExitInterval time.Duration

	RiskExitsDisabled   bool
	AutoTradingDisabled bool

	// DefaultSettings - JSON настроек стратегии для SettingsResolver
	DefaultSettings string

	ReconcileAttempts int
	ReconcileDelay    time.Duration

	// ExecuteTimeout ограничивает исполнение намерения после перехода в executing.
	// Отключение вызывающего не прерывает исполнение раньше этого срока.
	ExecuteTimeout time.Duration

	// FailedExitCooldown - пауза перед новым риск-выходом ноги после неудачного
	FailedExitCooldown time.Duration
	// MaxFailedExits - после стольких неудачных выходов подряд риск на ноге снимается
	MaxFailedExits int
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
			AllowedOrigins:  getEnv("ALLOWED_ORIGINS", ""),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			Name:         getEnv("DB_NAME", "tradeexec"),
			User:         getEnv("DB_USER", "user"),
			Password:     getEnv("DB_PASSWORD", "password"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			AutoMigrate:  getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			OpsTokenHash:  getEnv("OPS_TOKEN_HASH", ""),
		},
		Broker: BrokerConfig{
			RequestTimeout: getEnvAsDuration("BROKER_REQUEST_TIMEOUT", 10*time.Second),

			CriticalAttempts:    getEnvAsInt("BROKER_CRITICAL_ATTEMPTS", 3),
			CriticalBaseDelay:   getEnvAsDuration("BROKER_CRITICAL_BASE_DELAY", 1*time.Second),
			NonCriticalAttempts: getEnvAsInt("BROKER_NONCRITICAL_ATTEMPTS", 2),
			NonCriticalBase:     getEnvAsDuration("BROKER_NONCRITICAL_BASE_DELAY", 500*time.Millisecond),

			ProxyURL:           getEnv("BROKER_PROXY_URL", ""),
			VerifyTLS:          getEnvAsBool("BROKER_VERIFY_TLS", true),
			MaxInFlightPerHost: getEnvAsInt("BROKER_MAX_INFLIGHT_PER_HOST", 8),

			CircuitNotFoundThreshold: getEnvAsInt("BROKER_CIRCUIT_404_THRESHOLD", 20),
			CircuitAuthThreshold:     getEnvAsInt("BROKER_CIRCUIT_AUTH_THRESHOLD", 5),
			CircuitBackoff:           getEnvAsDuration("BROKER_CIRCUIT_BACKOFF", 15*time.Minute),
			Timezone:                 getEnv("BROKER_TIMEZONE", "Asia/Kolkata"),

			RateLimitFile:    getEnv("RATE_LIMIT_FILE", ""),
			RateLimitRefresh: getEnvAsDuration("RATE_LIMIT_REFRESH", 10*time.Minute),
			DefaultRPS:       getEnvAsInt("RATE_LIMIT_RPS", 10),
			DefaultRPM:       getEnvAsInt("RATE_LIMIT_RPM", 400),
			DefaultOPS:       getEnvAsInt("RATE_LIMIT_OPS", 5),
			GlobalOPS:        getEnvAsInt("RATE_LIMIT_GLOBAL_OPS", 20),

			DedupMinPositionChange: getEnvAsFloat("DEDUP_MIN_POSITION_CHANGE", 0.8),
			DedupQtyTolerance:      getEnvAsFloat("DEDUP_QTY_TOLERANCE", 0.2),
			DedupMaxOrderAge:       getEnvAsDuration("DEDUP_MAX_ORDER_AGE", 60*time.Second),

			QuoteFallbacks: getEnvAsInt("QUOTE_FALLBACK_ATTEMPTS", 2),

			InstanceCacheTTL:   getEnvAsDuration("INSTANCE_CACHE_TTL", 30*time.Second),
			InstrumentCacheTTL: getEnvAsDuration("INSTRUMENT_CACHE_TTL", 24*time.Hour),
		},
		Engine: EngineConfig{
			FillInterval:     getEnvAsDuration("FILL_POLL_INTERVAL", 2*time.Second),
			QuoteInterval:    getEnvAsDuration("QUOTE_POLL_INTERVAL", 200*time.Millisecond),
			RiskEvalInterval: getEnvAsDuration("RISK_EVAL_INTERVAL", 500*time.Millisecond),
			RiskExitInterval: getEnvAsDuration("RISK_EXIT_INTERVAL", 2*time.Second),

			RiskExitsDisabled:   getEnvAsBool("RISK_EXITS_DISABLED", false),
			AutoTradingDisabled: getEnvAsBool("AUTO_TRADING_DISABLED", false),

			DefaultSettings: getEnv("DEFAULT_SETTINGS", "{}"),

			ReconcileAttempts: getEnvAsInt("RECONCILE_ATTEMPTS", 3),
			ReconcileDelay:    getEnvAsDuration("RECONCILE_DELAY", 1*time.Second),
			ExecuteTimeout:    getEnvAsDuration("INTENT_EXECUTE_TIMEOUT", 60*time.Second),

			FailedExitCooldown: getEnvAsDuration("FAILED_EXIT_COOLDOWN", 30*time.Second),
			MaxFailedExits:     getEnvAsInt("MAX_FAILED_EXITS", 3),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для расшифровки API ключей инстансов
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for decrypting instance API keys")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	// без хэша токена операторский API закрыт полностью
	if c.Security.OpsTokenHash == "" {
		return fmt.Errorf("OPS_TOKEN_HASH is required for the ops API")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	b := c.Broker
	if b.RequestTimeout <= 0 {
		return fmt.Errorf("BROKER_REQUEST_TIMEOUT must be positive, got %v", b.RequestTimeout)
	}

	if b.CriticalAttempts < 1 || b.CriticalAttempts > 10 {
		return fmt.Errorf("BROKER_CRITICAL_ATTEMPTS must be between 1 and 10, got %d", b.CriticalAttempts)
	}

	if b.NonCriticalAttempts < 1 || b.NonCriticalAttempts > 10 {
		return fmt.Errorf("BROKER_NONCRITICAL_ATTEMPTS must be between 1 and 10, got %d", b.NonCriticalAttempts)
	}

	if b.MaxInFlightPerHost < 0 {
		return fmt.Errorf("BROKER_MAX_INFLIGHT_PER_HOST cannot be negative, got %d", b.MaxInFlightPerHost)
	}

	if b.CircuitNotFoundThreshold < 0 || b.CircuitAuthThreshold < 0 {
		return fmt.Errorf("circuit thresholds cannot be negative")
	}

	if b.CircuitBackoff <= 0 {
		return fmt.Errorf("BROKER_CIRCUIT_BACKOFF must be positive, got %v", b.CircuitBackoff)
	}

	if _, err := time.LoadLocation(b.Timezone); err != nil {
		return fmt.Errorf("BROKER_TIMEZONE %q: %w", b.Timezone, err)
	}

	if b.DefaultRPS < 0 || b.DefaultRPM < 0 || b.DefaultOPS < 0 || b.GlobalOPS < 0 {
		return fmt.Errorf("rate limits cannot be negative")
	}

	if b.DedupMinPositionChange <= 0 || b.DedupMinPositionChange > 1 {
		return fmt.Errorf("DEDUP_MIN_POSITION_CHANGE must be in (0, 1], got %v", b.DedupMinPositionChange)
	}

	if b.DedupQtyTolerance < 0 || b.DedupQtyTolerance >= 1 {
		return fmt.Errorf("DEDUP_QTY_TOLERANCE must be in [0, 1), got %v", b.DedupQtyTolerance)
	}

	if b.DedupMaxOrderAge <= 0 {
		return fmt.Errorf("DEDUP_MAX_ORDER_AGE must be positive, got %v", b.DedupMaxOrderAge)
	}

	if b.QuoteFallbacks < 0 {
		return fmt.Errorf("QUOTE_FALLBACK_ATTEMPTS cannot be negative, got %d", b.QuoteFallbacks)
	}

	e := c.Engine
	for name, d := range map[string]time.Duration{
		"FILL_POLL_INTERVAL":     e.FillInterval,
		"QUOTE_POLL_INTERVAL":    e.QuoteInterval,
		"RISK_EVAL_INTERVAL":     e.RiskEvalInterval,
		"RISK_EXIT_INTERVAL":     e.RiskExitInterval,
		"INTENT_EXECUTE_TIMEOUT": e.ExecuteTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}

	if e.ReconcileAttempts < 0 {
		return fmt.Errorf("RECONCILE_ATTEMPTS cannot be negative, got %d", e.ReconcileAttempts)
	}
	if e.FailedExitCooldown < 0 {
		return fmt.Errorf("FAILED_EXIT_COOLDOWN cannot be negative, got %v", e.FailedExitCooldown)
	}
	if e.MaxFailedExits < 0 {
		return fmt.Errorf("MAX_FAILED_EXITS cannot be negative, got %d", e.MaxFailedExits)
	}

	return nil
}

// Location возвращает часовой пояс брокера (проверен в validateRanges)
func (b BrokerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// URL возвращает строку подключения в формате URL для мигратора
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
