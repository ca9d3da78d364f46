package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	StorageDriver string
	DatabaseURL   string
	MaxDBConns    int32
	RedisURL      string

	KafkaBrokers                  []string
	KafkaConsumerGroup            string
	KafkaTopicPaymentStatus       string
	KafkaTopicMilestoneStatus     string
	KafkaTopicTaskStatus          string
	KafkaTopicVerificationUpdated string
	KafkaTopicPartySignalsUpdated string

	JWTSecret string
	JWTIssuer string

	OutboxPollInterval        time.Duration
	OutboxBatchSize           int
	ConsumerPollInterval      time.Duration
	ReconcilePollInterval     time.Duration
	ReconcileBatchSize        int
	ReconciliationMaxAttempts int

	StoreTimeout             time.Duration
	PersistenceRetryAttempts int
	PersistenceRetryBackoff  time.Duration
	IdempotencyTTL           time.Duration
	EventDedupTTL            time.Duration
	TrustCacheTTL            time.Duration
	EnforceTrustGate         bool
}

type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Storage struct {
		Driver      string `yaml:"driver"`
		PostgresURL string `yaml:"postgres_url"`
		MaxConns    int32  `yaml:"max_conns"`
	} `yaml:"storage"`
	Dependencies struct {
		RedisURL           string   `yaml:"redis_url"`
		KafkaBrokers       []string `yaml:"kafka_brokers"`
		KafkaConsumerGroup string   `yaml:"kafka_consumer_group"`
		Topics             struct {
			PaymentStatus       string `yaml:"payment_status"`
			MilestoneStatus     string `yaml:"milestone_status"`
			TaskStatus          string `yaml:"task_status"`
			VerificationUpdated string `yaml:"verification_updated"`
			PartySignalsUpdated string `yaml:"party_signals_updated"`
		} `yaml:"topics"`
	} `yaml:"dependencies"`
	Auth struct {
		JWTIssuer string `yaml:"jwt_issuer"`
	} `yaml:"auth"`
	Escrow struct {
		EnforceTrustGate         *bool  `yaml:"enforce_trust_gate"`
		StoreTimeout             string `yaml:"store_timeout"`
		PersistenceRetryAttempts int    `yaml:"persistence_retry_attempts"`
		PersistenceRetryBackoff  string `yaml:"persistence_retry_backoff"`
		TrustCacheTTL            string `yaml:"trust_cache_ttl"`
	} `yaml:"escrow"`
	Workers struct {
		OutboxPollInterval        string `yaml:"outbox_poll_interval"`
		OutboxBatchSize           int    `yaml:"outbox_batch_size"`
		ConsumerPollInterval      string `yaml:"consumer_poll_interval"`
		ReconcilePollInterval     string `yaml:"reconcile_poll_interval"`
		ReconcileBatchSize        int    `yaml:"reconcile_batch_size"`
		ReconciliationMaxAttempts int    `yaml:"reconciliation_max_attempts"`
	} `yaml:"workers"`
}

func defaultConfig() Config {
	return Config{
		ServiceID:                     "escrow-service",
		HTTPPort:                      8080,
		GRPCPort:                      9090,
		StorageDriver:                 StorageDriverPostgres,
		MaxDBConns:                    20,
		KafkaConsumerGroup:            "escrow-service",
		KafkaTopicPaymentStatus:       "escrow.payment_status_changed",
		KafkaTopicMilestoneStatus:     "escrow.milestone_status_changed",
		KafkaTopicTaskStatus:          "task.status_changed",
		KafkaTopicVerificationUpdated: "party.verification_updated",
		KafkaTopicPartySignalsUpdated: "party.signals_updated",
		OutboxPollInterval:            2 * time.Second,
		OutboxBatchSize:               100,
		ConsumerPollInterval:          2 * time.Second,
		ReconcilePollInterval:         30 * time.Second,
		ReconcileBatchSize:            50,
		ReconciliationMaxAttempts:     10,
		StoreTimeout:                  5 * time.Second,
		PersistenceRetryAttempts:      3,
		PersistenceRetryBackoff:       100 * time.Millisecond,
		IdempotencyTTL:                7 * 24 * time.Hour,
		EventDedupTTL:                 7 * 24 * time.Hour,
		TrustCacheTTL:                 10 * time.Minute,
	}
}

// LoadConfig layers defaults, the YAML file at path, an optional .env file
// and the process environment, in that order.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if applyErr := applyFile(&cfg, raw); applyErr != nil {
			return Config{}, applyErr
		}
	case !errors.Is(err, fs.ErrNotExist):
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	if loadErr := godotenv.Load(); loadErr != nil && !errors.Is(loadErr, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", loadErr)
	}
	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Storage.Driver != "" {
		cfg.StorageDriver = strings.ToLower(f.Storage.Driver)
	}
	if f.Storage.PostgresURL != "" {
		cfg.DatabaseURL = f.Storage.PostgresURL
	}
	if f.Storage.MaxConns > 0 {
		cfg.MaxDBConns = f.Storage.MaxConns
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = trimNonEmpty(f.Dependencies.KafkaBrokers)
	}
	if f.Dependencies.KafkaConsumerGroup != "" {
		cfg.KafkaConsumerGroup = f.Dependencies.KafkaConsumerGroup
	}
	topics := f.Dependencies.Topics
	setIfNotEmpty(&cfg.KafkaTopicPaymentStatus, topics.PaymentStatus)
	setIfNotEmpty(&cfg.KafkaTopicMilestoneStatus, topics.MilestoneStatus)
	setIfNotEmpty(&cfg.KafkaTopicTaskStatus, topics.TaskStatus)
	setIfNotEmpty(&cfg.KafkaTopicVerificationUpdated, topics.VerificationUpdated)
	setIfNotEmpty(&cfg.KafkaTopicPartySignalsUpdated, topics.PartySignalsUpdated)
	setIfNotEmpty(&cfg.JWTIssuer, f.Auth.JWTIssuer)

	if f.Escrow.EnforceTrustGate != nil {
		cfg.EnforceTrustGate = *f.Escrow.EnforceTrustGate
	}
	if f.Escrow.PersistenceRetryAttempts > 0 {
		cfg.PersistenceRetryAttempts = f.Escrow.PersistenceRetryAttempts
	}
	if f.Workers.OutboxBatchSize > 0 {
		cfg.OutboxBatchSize = f.Workers.OutboxBatchSize
	}
	if f.Workers.ReconcileBatchSize > 0 {
		cfg.ReconcileBatchSize = f.Workers.ReconcileBatchSize
	}
	if f.Workers.ReconciliationMaxAttempts > 0 {
		cfg.ReconciliationMaxAttempts = f.Workers.ReconciliationMaxAttempts
	}
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"escrow.store_timeout", f.Escrow.StoreTimeout, &cfg.StoreTimeout},
		{"escrow.persistence_retry_backoff", f.Escrow.PersistenceRetryBackoff, &cfg.PersistenceRetryBackoff},
		{"escrow.trust_cache_ttl", f.Escrow.TrustCacheTTL, &cfg.TrustCacheTTL},
		{"workers.outbox_poll_interval", f.Workers.OutboxPollInterval, &cfg.OutboxPollInterval},
		{"workers.consumer_poll_interval", f.Workers.ConsumerPollInterval, &cfg.ConsumerPollInterval},
		{"workers.reconcile_poll_interval", f.Workers.ReconcilePollInterval, &cfg.ReconcilePollInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil || v <= 0 {
			return fmt.Errorf("parse config file: %s: invalid duration %q", d.name, d.raw)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.StorageDriver = strings.ToLower(envOrDefault("STORAGE_DRIVER", cfg.StorageDriver))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaConsumerGroup = envOrDefault("KAFKA_CONSUMER_GROUP", cfg.KafkaConsumerGroup)
	cfg.KafkaTopicPaymentStatus = envOrDefault("KAFKA_TOPIC_PAYMENT_STATUS", cfg.KafkaTopicPaymentStatus)
	cfg.KafkaTopicMilestoneStatus = envOrDefault("KAFKA_TOPIC_MILESTONE_STATUS", cfg.KafkaTopicMilestoneStatus)
	cfg.KafkaTopicTaskStatus = envOrDefault("KAFKA_TOPIC_TASK_STATUS", cfg.KafkaTopicTaskStatus)
	cfg.KafkaTopicVerificationUpdated = envOrDefault("KAFKA_TOPIC_VERIFICATION_UPDATED", cfg.KafkaTopicVerificationUpdated)
	cfg.KafkaTopicPartySignalsUpdated = envOrDefault("KAFKA_TOPIC_PARTY_SIGNALS_UPDATED", cfg.KafkaTopicPartySignalsUpdated)
	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.OutboxPollInterval = envDuration("OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.ConsumerPollInterval = envDuration("CONSUMER_POLL_INTERVAL", cfg.ConsumerPollInterval)
	cfg.ReconcilePollInterval = envDuration("RECONCILE_POLL_INTERVAL", cfg.ReconcilePollInterval)
	cfg.ReconcileBatchSize = envInt("RECONCILE_BATCH_SIZE", cfg.ReconcileBatchSize)
	cfg.ReconciliationMaxAttempts = envInt("RECONCILIATION_MAX_ATTEMPTS", cfg.ReconciliationMaxAttempts)
	cfg.StoreTimeout = envDuration("STORE_TIMEOUT", cfg.StoreTimeout)
	cfg.PersistenceRetryAttempts = envInt("PERSISTENCE_RETRY_ATTEMPTS", cfg.PersistenceRetryAttempts)
	cfg.PersistenceRetryBackoff = envDuration("PERSISTENCE_RETRY_BACKOFF", cfg.PersistenceRetryBackoff)
	cfg.IdempotencyTTL = time.Duration(envInt("IDEMPOTENCY_TTL_HOURS", int(cfg.IdempotencyTTL.Hours()))) * time.Hour
	cfg.EventDedupTTL = time.Duration(envInt("EVENT_DEDUP_TTL_HOURS", int(cfg.EventDedupTTL.Hours()))) * time.Hour
	cfg.TrustCacheTTL = envDuration("TRUST_CACHE_TTL", cfg.TrustCacheTTL)
	cfg.EnforceTrustGate = envBool("ENFORCE_TRUST_GATE", cfg.EnforceTrustGate)
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("missing DB_URL/POSTGRES_URL")
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("missing JWT_SECRET")
	}
	if c.PersistenceRetryAttempts < 1 {
		return fmt.Errorf("persistence retry attempts must be at least 1")
	}
	if c.KafkaTopicVerificationUpdated == c.KafkaTopicPartySignalsUpdated {
		return fmt.Errorf("verification and party signal topics must differ")
	}
	return nil
}

// TopicByEvent maps canonical event types onto the configured topics.
func (c Config) TopicByEvent() map[string]string {
	return map[string]string{
		"escrow.payment_status_changed":   c.KafkaTopicPaymentStatus,
		"escrow.milestone_status_changed": c.KafkaTopicMilestoneStatus,
		"task.status_changed":             c.KafkaTopicTaskStatus,
	}
}

// EventByTopic maps each consumed topic to the party event it carries.
func (c Config) EventByTopic() map[string]string {
	return map[string]string{
		c.KafkaTopicVerificationUpdated: "party.verification_updated",
		c.KafkaTopicPartySignalsUpdated: "party.signals_updated",
	}
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	return trimNonEmpty(strings.Split(raw, ","))
}

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
