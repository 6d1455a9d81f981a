package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
	"github.com/vladislavdragonenkov/bakery/internal/messaging/redisbus"
	"github.com/vladislavdragonenkov/bakery/internal/transport/httpapi"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Имена переменных окружения.
const (
	EnvConfigPath          = "BAKERY_CONFIG"
	envHTTPAddr            = "BAKERY_HTTP_ADDR"
	envGRPCAddr            = "BAKERY_GRPC_ADDR"
	envMetricsAddr         = "BAKERY_METRICS_ADDR"
	envStorageDriver       = "BAKERY_STORAGE_DRIVER"
	envPostgresDSN         = "BAKERY_POSTGRES_DSN"
	envPostgresAutoMigrate = "BAKERY_POSTGRES_AUTO_MIGRATE"
	envRedisAddr           = "BAKERY_REDIS_ADDR"
	envRedisChannel        = "BAKERY_REDIS_CHANNEL"
	envKafkaBrokers        = "BAKERY_KAFKA_BROKERS"
	envKafkaConsumerGroup  = "BAKERY_KAFKA_CONSUMER_GROUP"
	envOutboxPollInterval  = "BAKERY_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize     = "BAKERY_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts   = "BAKERY_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay    = "BAKERY_OUTBOX_RETRY_DELAY"
	envOutboxRetention     = "BAKERY_OUTBOX_RETENTION"
	envOutboxRetentionTick = "BAKERY_OUTBOX_RETENTION_INTERVAL"
	envCheckoutTimeout     = "BAKERY_CHECKOUT_TIMEOUT"
	envCheckoutMaxAttempts = "BAKERY_CHECKOUT_MAX_ATTEMPTS"
	envLogLevel            = "BAKERY_LOG_LEVEL"
	envLogFormat           = "BAKERY_LOG_FORMAT"
	envOTLPEndpoint        = "BAKERY_OTLP_ENDPOINT"
	envOTLPInsecure        = "BAKERY_OTLP_INSECURE"
	envTraceStdout         = "BAKERY_TRACE_STDOUT"
	envTraceSampleRatio    = "BAKERY_TRACE_SAMPLE_RATIO"
	envSSEHeartbeat        = "BAKERY_SSE_HEARTBEAT"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	StorageDriver       string `yaml:"storage_driver"`
	PostgresDSN         string `yaml:"postgres_dsn"`
	PostgresAutoMigrate bool   `yaml:"postgres_auto_migrate"`

	RedisAddr    string        `yaml:"redis_addr"`
	RedisChannel string        `yaml:"redis_channel"`
	AlertTTL     time.Duration `yaml:"alert_ttl"`

	KafkaBrokers       []string `yaml:"kafka_brokers"`
	KafkaConsumerGroup string   `yaml:"kafka_consumer_group"`

	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval"`
	OutboxBatchSize    int           `yaml:"outbox_batch_size"`
	OutboxMaxAttempts  int           `yaml:"outbox_max_attempts"`
	OutboxRetryDelay   time.Duration `yaml:"outbox_retry_delay"`
	// Обработанные события outbox удаляются через OutboxRetention.
	OutboxRetention         time.Duration `yaml:"outbox_retention"`
	OutboxRetentionInterval time.Duration `yaml:"outbox_retention_interval"`

	CheckoutTimeout     time.Duration `yaml:"checkout_timeout"`
	CheckoutMaxAttempts int           `yaml:"checkout_max_attempts"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	OTLPEndpoint     string  `yaml:"otlp_endpoint"`
	OTLPInsecure     bool    `yaml:"otlp_insecure"`
	TraceStdout      bool    `yaml:"trace_stdout"`
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`

	SSEHeartbeat time.Duration `yaml:"sse_heartbeat"`

	Branches  []domain.Branch `yaml:"branches"`
	Inventory []InventorySeed `yaml:"inventory"`
}

// InventorySeed - начальная карточка товара для локального запуска.
type InventorySeed struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Price    string `yaml:"price"`
	Quantity int32  `yaml:"quantity"`
}

// Item переводит цену из десятичной строки в минимальные единицы.
func (s InventorySeed) Item() (domain.InventoryItem, error) {
	minor, err := httpapi.ParseMoney(s.Price)
	if err != nil {
		return domain.InventoryItem{}, fmt.Errorf("inventory %q: price %q %w", s.ID, s.Price, err)
	}
	return domain.InventoryItem{
		ID:                s.ID,
		Name:              s.Name,
		PriceMinor:        minor,
		AvailableQuantity: s.Quantity,
	}, nil
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                ":8080",
		GRPCAddr:                ":50051",
		MetricsAddr:             ":9090",
		StorageDriver:           StorageDriverMemory,
		PostgresAutoMigrate:     true,
		RedisChannel:            redisbus.DefaultChannel,
		AlertTTL:                7 * 24 * time.Hour,
		KafkaConsumerGroup:      "bakery-order-service",
		OutboxPollInterval:      time.Second,
		OutboxBatchSize:         100,
		OutboxMaxAttempts:       10,
		OutboxRetryDelay:        500 * time.Millisecond,
		OutboxRetention:         72 * time.Hour,
		OutboxRetentionInterval: 10 * time.Minute,
		CheckoutTimeout:         5 * time.Second,
		CheckoutMaxAttempts:     3,
		LogLevel:                "info",
		LogFormat:               LogFormatText,
		TraceSampleRatio:        1,
		SSEHeartbeat:            15 * time.Second,
	}
}

// LoadConfig читает YAML поверх значений по умолчанию. Пустой путь - только умолчания.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// EnvLookup - источник переменных окружения (os.LookupEnv в бинарнике, map в тестах).
type EnvLookup func(key string) (string, bool)

// ApplyEnv накладывает BAKERY_* поверх cfg. Некорректные значения не применяются
// и возвращаются как предупреждения.
func ApplyEnv(cfg Config, lookup EnvLookup) (Config, []string) {
	var warnings []string
	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, value, err))
	}
	positive := func(v int) bool { return v > 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }

	str := func(key string, target *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, target *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseBool(v)
			if err != nil {
				warn(key, v, err)
				return
			}
			*target = parsed
		}
	}
	integer := func(key string, target *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseInt(v, positive, "must be > 0")
			if err != nil {
				warn(key, v, err)
				return
			}
			*target = parsed
		}
	}
	duration := func(key string, target *time.Duration, valid func(time.Duration) bool, rule string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseDuration(v, valid, rule)
			if err != nil {
				warn(key, v, err)
				return
			}
			*target = parsed
		}
	}

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	str(envRedisAddr, &cfg.RedisAddr)
	str(envRedisChannel, &cfg.RedisChannel)
	if v, ok := lookup(envKafkaBrokers); ok && strings.TrimSpace(v) != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	str(envKafkaConsumerGroup, &cfg.KafkaConsumerGroup)
	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize)
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, func(v time.Duration) bool { return v >= 0 }, "must be >= 0")
	duration(envOutboxRetention, &cfg.OutboxRetention, positiveDuration, "must be > 0")
	duration(envOutboxRetentionTick, &cfg.OutboxRetentionInterval, positiveDuration, "must be > 0")
	duration(envCheckoutTimeout, &cfg.CheckoutTimeout, positiveDuration, "must be > 0")
	integer(envCheckoutMaxAttempts, &cfg.CheckoutMaxAttempts)
	str(envLogLevel, &cfg.LogLevel)
	str(envLogFormat, &cfg.LogFormat)
	str(envOTLPEndpoint, &cfg.OTLPEndpoint)
	boolean(envOTLPInsecure, &cfg.OTLPInsecure)
	boolean(envTraceStdout, &cfg.TraceStdout)
	if v, ok := lookup(envTraceSampleRatio); ok && strings.TrimSpace(v) != "" {
		ratio, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		switch {
		case err != nil:
			warn(envTraceSampleRatio, v, err)
		case ratio < 0 || ratio > 1:
			warn(envTraceSampleRatio, v, errors.New("must be within [0, 1]"))
		default:
			cfg.TraceSampleRatio = ratio
		}
	}
	duration(envSSEHeartbeat, &cfg.SSEHeartbeat, positiveDuration, "must be > 0")

	return cfg, warnings
}

// Validate проверяет итоговую конфигурацию перед запуском.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres_dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox_poll_interval must be > 0"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox_batch_size must be > 0"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox_max_attempts must be > 0"))
	}
	if c.OutboxRetryDelay < 0 {
		errs = append(errs, errors.New("outbox_retry_delay must be >= 0"))
	}
	if c.OutboxRetention <= 0 {
		errs = append(errs, errors.New("outbox_retention must be > 0"))
	}
	if c.OutboxRetentionInterval <= 0 {
		errs = append(errs, errors.New("outbox_retention_interval must be > 0"))
	}
	if c.CheckoutTimeout <= 0 {
		errs = append(errs, errors.New("checkout_timeout must be > 0"))
	}
	if c.CheckoutMaxAttempts <= 0 {
		errs = append(errs, errors.New("checkout_max_attempts must be > 0"))
	}
	if c.SSEHeartbeat <= 0 {
		errs = append(errs, errors.New("sse_heartbeat must be > 0"))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, errors.New("trace_sample_ratio must be within [0, 1]"))
	}
	switch c.LogFormat {
	case "", LogFormatText, LogFormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.LogFormat))
	}
	if len(c.KafkaBrokers) > 0 && strings.TrimSpace(c.KafkaConsumerGroup) == "" {
		errs = append(errs, errors.New("kafka_consumer_group is required when kafka_brokers are set"))
	}
	for _, seed := range c.Inventory {
		if strings.TrimSpace(seed.ID) == "" {
			errs = append(errs, errors.New("inventory seed without id"))
			continue
		}
		if _, err := seed.Item(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
