package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"coderunner/internal/common/cache"
	"coderunner/internal/common/mq"
	"coderunner/internal/runner/dispatch"
	"coderunner/internal/runner/middleware"
	"coderunner/internal/runner/service"
	"coderunner/internal/sandbox/setup"
	"coderunner/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxHeaderBytes  = 1 << 20
	defaultJobTTL          = time.Hour
	defaultPoolSize        = 4
	defaultMaxRetries      = 1
	deadLetterSuffix       = ".dlq"
	deadLetterDisabled     = "-"

	dispatchLocal  = "local"
	dispatchDocker = "docker"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	MaxHeaderBytes int           `yaml:"maxHeaderBytes"`
}

// AuthConfig holds JWT settings. An empty secret leaves every route public.
// AdminPolicy guards the container routes and defaults to the admin role.
type AuthConfig struct {
	JWTSecret   string                `yaml:"jwtSecret"`
	JWTIssuer   string                `yaml:"jwtIssuer"`
	Policy      middleware.AuthPolicy `yaml:"policy"`
	AdminPolicy middleware.AuthPolicy `yaml:"adminPolicy"`
}

// DispatchConfig selects where submissions run.
type DispatchConfig struct {
	Mode   string                `yaml:"mode"` // local | docker
	Docker dispatch.DockerConfig `yaml:"docker"`
}

// KafkaConfig holds queue settings. Empty brokers disable the job queue.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ClientID      string        `yaml:"clientID"`
	RequestTopic  string        `yaml:"requestTopic"`
	ResultTopic   string        `yaml:"resultTopic"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	Concurrency   int           `yaml:"concurrency"`
	MinBytes      int           `yaml:"minBytes"`
	MaxBytes      int           `yaml:"maxBytes"`
	MaxWait       time.Duration `yaml:"maxWait"`
	BatchSize     int           `yaml:"batchSize"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	RequiredAcks  int           `yaml:"requiredAcks"`
	Compression   string        `yaml:"compression"`

	// DeadLetterTopic receives requests whose retries ran out. Defaults to
	// RequestTopic + ".dlq"; "-" disables it.
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
	MaxRetries      int           `yaml:"maxRetries"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	MessageTTL      time.Duration `yaml:"messageTTL"`
}

// JobConfig holds asynchronous job settings.
type JobConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// AppConfig holds the runner service configuration.
type AppConfig struct {
	Server   ServerConfig               `yaml:"server"`
	Logger   logger.Config              `yaml:"logger"`
	Sandbox  setup.Config               `yaml:"sandbox"`
	Dispatch DispatchConfig             `yaml:"dispatch"`
	Execute  service.ExecuteConfig      `yaml:"execute"`
	Auth     AuthConfig                 `yaml:"auth"`
	Redis    cache.RedisConfig          `yaml:"redis"`
	Rate     middleware.RateLimitPolicy `yaml:"rateLimit"`
	PollRate middleware.RateLimitPolicy `yaml:"pollRateLimit"`
	Kafka    KafkaConfig                `yaml:"kafka"`
	Jobs     JobConfig                  `yaml:"jobs"`
	Janitor  service.JanitorConfig      `yaml:"janitor"`
	CORS     middleware.CORSConfig      `yaml:"cors"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = defaultMaxHeaderBytes
	}

	cfg.Dispatch.Mode = strings.ToLower(cfg.Dispatch.Mode)
	if cfg.Dispatch.Mode == "" {
		cfg.Dispatch.Mode = dispatchLocal
	}
	if cfg.Dispatch.Mode != dispatchLocal && cfg.Dispatch.Mode != dispatchDocker {
		return nil, fmt.Errorf("unknown dispatch mode %q", cfg.Dispatch.Mode)
	}

	if cfg.Execute.PoolSize <= 0 {
		cfg.Execute.PoolSize = defaultPoolSize
	}
	if cfg.Redis.Addr != "" {
		applyRedisDefaults(&cfg.Redis)
	}
	if cfg.Rate.Window == 0 {
		cfg.Rate.Window = time.Minute
	}
	if cfg.PollRate == (middleware.RateLimitPolicy{}) {
		cfg.PollRate = cfg.Rate
	} else if cfg.PollRate.Window == 0 {
		cfg.PollRate.Window = cfg.Rate.Window
	}

	if len(cfg.Kafka.Brokers) > 0 {
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("redis addr is required when kafka is enabled")
		}
		if cfg.Kafka.RequestTopic == "" {
			cfg.Kafka.RequestTopic = "coderunner.requests"
		}
		if cfg.Kafka.ConsumerGroup == "" {
			cfg.Kafka.ConsumerGroup = "coderunner-worker"
		}
		if cfg.Kafka.Concurrency <= 0 {
			cfg.Kafka.Concurrency = cfg.Execute.PoolSize
		}
		switch cfg.Kafka.DeadLetterTopic {
		case "":
			cfg.Kafka.DeadLetterTopic = cfg.Kafka.RequestTopic + deadLetterSuffix
		case deadLetterDisabled:
			cfg.Kafka.DeadLetterTopic = ""
		}
		if cfg.Kafka.MaxRetries <= 0 {
			cfg.Kafka.MaxRetries = defaultMaxRetries
		}
	}
	if cfg.Jobs.TTL == 0 {
		cfg.Jobs.TTL = defaultJobTTL
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.Policy.Mode = "public"
		cfg.Auth.AdminPolicy.Mode = "public"
	} else {
		if cfg.Auth.Policy.Mode == "" {
			cfg.Auth.Policy.Mode = "protected"
		}
		if cfg.Auth.AdminPolicy.Mode == "" {
			cfg.Auth.AdminPolicy.Mode = "protected"
			if len(cfg.Auth.AdminPolicy.Roles) == 0 {
				cfg.Auth.AdminPolicy.Roles = []string{"admin"}
			}
		}
	}
	return &cfg, nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	cfg := mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
	}
	cfg.Compression = parseCompression(k.Compression)
	return cfg
}

func (k KafkaConfig) subscribeOptions() mq.SubscribeOptions {
	return mq.SubscribeOptions{
		ConsumerGroup:   k.ConsumerGroup,
		Concurrency:     k.Concurrency,
		MaxRetries:      k.MaxRetries,
		RetryDelay:      k.RetryDelay,
		DeadLetterTopic: k.DeadLetterTopic,
		MessageTTL:      k.MessageTTL,
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}
