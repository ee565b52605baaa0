package main

import (
	"fmt"
	"os"
	"time"

	"taskoracle/internal/common/cache"
	"taskoracle/internal/common/db"
	commonmw "taskoracle/internal/common/http/middleware"
	"taskoracle/internal/common/mq"
	"taskoracle/internal/common/storage"
	"taskoracle/internal/oracle/repository"
	"taskoracle/internal/oracle/sandbox"
	"taskoracle/internal/oracle/sandbox/engine"
	"taskoracle/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultPingTimeout     = 3 * time.Second

	defaultSnapshotBucket = "oracle-snapshots"
	defaultMetricsPath    = "/metrics"
	defaultLLMModel       = "gpt-4o-mini"
	defaultLLMTimeout     = 60 * time.Second
	defaultSpecRetries    = 2
	defaultRunTimeout     = 2500 * time.Millisecond
	defaultAcquireTimeout = 2 * time.Second
	defaultRateWindow     = time.Minute
	defaultRateTimeout    = 100 * time.Millisecond

	providerOpenAI = "openai"
	providerMock   = "mock"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// AppConfig holds the oracle-service configuration.
type AppConfig struct {
	Server ServerConfig  `yaml:"server"`
	Logger logger.Config `yaml:"logger"`

	Database db.MySQLConfig         `yaml:"database"`
	Redis    cache.RedisConfig      `yaml:"redis"`
	Cache    repository.CacheConfig `yaml:"cache"`
	MinIO    storage.MinIOConfig    `yaml:"minio"`
	Kafka    KafkaConfig            `yaml:"kafka"`

	LLM       LLMConfig           `yaml:"llm"`
	Oracle    OracleConfig        `yaml:"oracle"`
	Sandbox   SandboxConfig       `yaml:"sandbox"`
	RateLimit RateLimitConfig     `yaml:"rateLimit"`
	CORS      commonmw.CORSConfig `yaml:"cors"`
	Metrics   MetricsConfig       `yaml:"metrics"`
}

// KafkaConfig enables pipeline events when brokers are set.
type KafkaConfig struct {
	Brokers      []string               `yaml:"brokers"`
	ClientID     string                 `yaml:"clientID"`
	BatchTimeout time.Duration          `yaml:"batchTimeout"`
	WriteTimeout time.Duration          `yaml:"writeTimeout"`
	Topics       repository.TopicConfig `yaml:"topics"`
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

func (c KafkaConfig) toQueueConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      c.Brokers,
		ClientID:     c.ClientID,
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: c.BatchTimeout,
		Compression:  kafka.Zstd,
		WriteTimeout: c.WriteTimeout,
	}
}

// LLMConfig selects and tunes the completion backend.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"baseURL"`
	APIKey      string        `yaml:"apiKey"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	RPS         float64       `yaml:"rps"`
	Burst       int           `yaml:"burst"`
	SpecRetries *int          `yaml:"specRetries"`
}

// OracleConfig holds pipeline settings.
type OracleConfig struct {
	ConfidenceFloor     float64 `yaml:"confidenceFloor"`
	DefaultPublicCount  int     `yaml:"defaultPublicCount"`
	DefaultHiddenCount  int     `yaml:"defaultHiddenCount"`
	FallbackDegradation *bool   `yaml:"fallbackDegradation"`
}

// SandboxConfig holds the runner, engine and run pool settings.
type SandboxConfig struct {
	sandbox.Config `yaml:",inline"`
	Engine         engine.Config `yaml:"engine"`

	Timeout        time.Duration `yaml:"timeout"`
	PoolSize       int           `yaml:"poolSize"`
	AcquireTimeout time.Duration `yaml:"acquireTimeout"`
	AllowFilePath  *bool         `yaml:"allowFilePath"`
}

// RateLimitConfig bounds requests per client IP on the expensive routes.
// It needs redis; zero maxima disable a route's limit.
type RateLimitConfig struct {
	Window     time.Duration `yaml:"window"`
	Timeout    time.Duration `yaml:"timeout"`
	AnalyzeMax int           `yaml:"analyzeMax"`
	RunMax     int           `yaml:"runMax"`
}

type MetricsConfig struct {
	Path string `yaml:"path"`
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
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) error {
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
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = defaultSnapshotBucket
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}

	// LLM defaults.
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = providerMock
	}
	switch cfg.LLM.Provider {
	case providerMock:
	case providerOpenAI:
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("llm apiKey is required for provider %q", providerOpenAI)
		}
	default:
		return fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaultLLMModel
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = defaultLLMTimeout
	}
	if cfg.LLM.SpecRetries == nil {
		retries := defaultSpecRetries
		cfg.LLM.SpecRetries = &retries
	}

	if cfg.Oracle.FallbackDegradation == nil {
		enabled := true
		cfg.Oracle.FallbackDegradation = &enabled
	}
	if cfg.Oracle.ConfidenceFloor < 0 || cfg.Oracle.ConfidenceFloor > 1 {
		return fmt.Errorf("oracle confidenceFloor must be within [0, 1]")
	}

	// Sandbox defaults.
	if cfg.Sandbox.Timeout == 0 {
		cfg.Sandbox.Timeout = defaultRunTimeout
	}
	if cfg.Sandbox.AcquireTimeout == 0 {
		cfg.Sandbox.AcquireTimeout = defaultAcquireTimeout
	}
	if cfg.Sandbox.PoolSize <= 0 {
		cfg.Sandbox.PoolSize = 1
	}
	if cfg.Sandbox.AllowFilePath == nil {
		enabled := true
		cfg.Sandbox.AllowFilePath = &enabled
	}

	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = defaultRateWindow
	}
	if cfg.RateLimit.Timeout == 0 {
		cfg.RateLimit.Timeout = defaultRateTimeout
	}
	return nil
}
