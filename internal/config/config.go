package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"

	"github.com/Freeeeeet/space_booking/internal/retry"
)

type Config struct {
	Environment string `envconfig:"ENV" default:"development"`
	// Пустой LOG_LEVEL - уровень окружения по умолчанию
	LogLevel string `envconfig:"LOG_LEVEL"`
	DBDSN    string `envconfig:"DB_DSN" required:"true"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// Пустой REDIS_ADDR - лимитер и идемпотентность живут в памяти процесса
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	RabbitURL      string `envconfig:"RABBIT_URL"`
	NotifyExchange string `envconfig:"NOTIFY_EXCHANGE" default:"booking.notifications"`
	TelegramToken  string `envconfig:"TELEGRAM_TOKEN"`

	StripeSecretKey string  `envconfig:"STRIPE_SECRET_KEY" required:"true"`
	StripeRPS       float64 `envconfig:"STRIPE_RPS" default:"20"`

	SlotGranularity time.Duration `envconfig:"SLOT_GRANULARITY" default:"1h"`

	RetryMaxAttempts    int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"4"`
	RetryBaseDelay      time.Duration `envconfig:"RETRY_BASE_DELAY" default:"200ms"`
	RetryMaxDelay       time.Duration `envconfig:"RETRY_MAX_DELAY" default:"30s"`
	RetryStrategy       string        `envconfig:"RETRY_STRATEGY" default:"exponential"`
	ExternalCallTimeout time.Duration `envconfig:"EXTERNAL_CALL_TIMEOUT" default:"10s"`

	BookingRateLimit  int           `envconfig:"BOOKING_RATE_LIMIT" default:"5"`
	BookingRateWindow time.Duration `envconfig:"BOOKING_RATE_WINDOW" default:"1m"`
	StatusRateLimit   int           `envconfig:"STATUS_RATE_LIMIT" default:"10"`
	StatusRateWindow  time.Duration `envconfig:"STATUS_RATE_WINDOW" default:"1m"`

	RulesCacheSize int           `envconfig:"RULES_CACHE_SIZE" default:"512"`
	RulesCacheTTL  time.Duration `envconfig:"RULES_CACHE_TTL" default:"5m"`

	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"5m"`
	MigrateOnStart    bool          `envconfig:"MIGRATE_ON_START" default:"true"`
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	} else {
		log.Println("✅ Loaded configuration from .env file")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required but not set")
	}
	if c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required but not set")
	}
	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}
	if _, err := retry.ParseStrategy(c.RetryStrategy); err != nil {
		return fmt.Errorf("RETRY_STRATEGY: %w", err)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.SlotGranularity <= 0 {
		return fmt.Errorf("SLOT_GRANULARITY must be positive, got %s", c.SlotGranularity)
	}
	if c.BookingRateLimit < 1 || c.StatusRateLimit < 1 {
		return fmt.Errorf("rate limits must be at least 1")
	}
	if c.StripeRPS <= 0 {
		return fmt.Errorf("STRIPE_RPS must be positive, got %v", c.StripeRPS)
	}
	return nil
}

// Retry собирает политику повторов внешних вызовов
func (c *Config) Retry() retry.Policy {
	strategy, err := retry.ParseStrategy(c.RetryStrategy)
	if err != nil {
		strategy = retry.StrategyExponential
	}
	return retry.Policy{
		MaxAttempts: c.RetryMaxAttempts,
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    c.RetryMaxDelay,
		Strategy:    strategy,
		Timeout:     c.ExternalCallTimeout,
	}
}
