package config

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

// Config captures the settings shared by the honeypulse binaries.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Replay    ReplayConfig    `yaml:"replay"`
	Window    WindowConfig    `yaml:"window"`
	Stages    StagesConfig    `yaml:"stages"`
	Broker    BrokerConfig    `yaml:"broker"`
	Cache     CacheConfig     `yaml:"cache"`
	Authority AuthorityConfig `yaml:"authority"`
	Feed      FeedConfig      `yaml:"feed"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig controls the orchestrator's admin gRPC and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// KafkaConfig describes the event channel.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"groupID"`
	// FromBeginning starts a new consumer group at the oldest retained offset.
	FromBeginning bool `yaml:"fromBeginning"`
}

// ReplayConfig controls the dataset replayer.
type ReplayConfig struct {
	Dataset    string        `yaml:"dataset"`
	FloorDelay time.Duration `yaml:"floorDelay"`
}

// WindowConfig bounds the enrichment window.
type WindowConfig struct {
	Duration time.Duration `yaml:"duration"`
}

// StagesConfig locates the classification and persistence collaborators.
type StagesConfig struct {
	Classify StageConfig `yaml:"classify"`
	Persist  StageConfig `yaml:"persist"`
}

// StageConfig configures one downstream collaborator call.
type StageConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Path    string        `yaml:"path"`
	Route   string        `yaml:"route"`
	Timeout time.Duration `yaml:"timeout"`
}

// BrokerConfig controls credential issuance and caching.
type BrokerConfig struct {
	Mode         string        `yaml:"mode"`
	AuthorityURL string        `yaml:"authorityURL"`
	TTL          time.Duration `yaml:"ttl"`
	IssueTimeout time.Duration `yaml:"issueTimeout"`
	Routes       []RouteConfig `yaml:"routes"`
}

// RouteConfig maps request paths containing Match onto a target service.
type RouteConfig struct {
	Match  string `yaml:"match"`
	Target string `yaml:"target"`
}

// CacheConfig controls the optional shared credential tier. Mode "redis" talks
// to Addr; "memory" keeps the tier inside the process.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Mode         string        `yaml:"mode"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// AuthorityConfig controls the credential authority service.
type AuthorityConfig struct {
	Address string `yaml:"address"`
	Issuer  string `yaml:"issuer"`
}

// FeedConfig controls the live feed (persistence collaborator) service.
type FeedConfig struct {
	Address string `yaml:"address"`
	Target  string `yaml:"target"`
}

// TracingConfig enables OTLP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// Load initialises Config from defaults, an optional YAML file, an optional .env
// file and HONEYPULSE_* environment overrides, in that order.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path = os.Getenv("HONEYPULSE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required")
	}
	switch c.Broker.Mode {
	case "http", "local":
	default:
		return fmt.Errorf("broker.mode must be http or local, got %q", c.Broker.Mode)
	}
	if c.Broker.TTL <= 0 {
		return errors.New("broker.ttl must be positive")
	}
	switch c.Cache.Mode {
	case "redis", "memory":
	default:
		return fmt.Errorf("cache.mode must be redis or memory, got %q", c.Cache.Mode)
	}
	if c.Replay.FloorDelay < 0 {
		return errors.New("replay.floorDelay must not be negative")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			Topic:         "logs",
			GroupID:       "log-consumers",
			FromBeginning: true,
		},
		Replay: ReplayConfig{
			Dataset:    "data/logs.json",
			FloorDelay: 500 * time.Millisecond,
		},
		Window: WindowConfig{Duration: 60 * time.Second},
		Stages: StagesConfig{
			Classify: StageConfig{
				BaseURL: "http://localhost:8000",
				Path:    "/predict",
				Route:   "/micro/ml",
				Timeout: 5 * time.Second,
			},
			Persist: StageConfig{
				BaseURL: "http://localhost:8001",
				Path:    "/send-log",
				Route:   "/micro/log",
				Timeout: 5 * time.Second,
			},
		},
		Broker: BrokerConfig{
			Mode:         "http",
			AuthorityURL: "http://localhost:8005",
			TTL:          5 * time.Minute,
			IssueTimeout: 3 * time.Second,
			Routes: []RouteConfig{
				{Match: "ml", Target: "mlService"},
				{Match: "log", Target: "logService"},
			},
		},
		Cache: CacheConfig{
			Enabled:      false,
			Mode:         "redis",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Authority: AuthorityConfig{Address: ":8005", Issuer: "gateway"},
		Feed:      FeedConfig{Address: ":8001", Target: "logService"},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HONEYPULSE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("HONEYPULSE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("HONEYPULSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HONEYPULSE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("HONEYPULSE_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("HONEYPULSE_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("HONEYPULSE_KAFKA_GROUP_ID"); v != "" {
		cfg.Kafka.GroupID = v
	}
	if v := os.Getenv("HONEYPULSE_REPLAY_DATASET"); v != "" {
		cfg.Replay.Dataset = v
	}
	setDuration("HONEYPULSE_REPLAY_FLOOR_DELAY", &cfg.Replay.FloorDelay)
	setDuration("HONEYPULSE_WINDOW_DURATION", &cfg.Window.Duration)
	if v := os.Getenv("HONEYPULSE_CLASSIFY_URL"); v != "" {
		cfg.Stages.Classify.BaseURL = v
	}
	setDuration("HONEYPULSE_CLASSIFY_TIMEOUT", &cfg.Stages.Classify.Timeout)
	if v := os.Getenv("HONEYPULSE_PERSIST_URL"); v != "" {
		cfg.Stages.Persist.BaseURL = v
	}
	setDuration("HONEYPULSE_PERSIST_TIMEOUT", &cfg.Stages.Persist.Timeout)
	if v := os.Getenv("HONEYPULSE_BROKER_MODE"); v != "" {
		cfg.Broker.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("HONEYPULSE_AUTHORITY_URL"); v != "" {
		cfg.Broker.AuthorityURL = v
	}
	setDuration("HONEYPULSE_BROKER_TTL", &cfg.Broker.TTL)
	setDuration("HONEYPULSE_BROKER_ISSUE_TIMEOUT", &cfg.Broker.IssueTimeout)
	if v := os.Getenv("HONEYPULSE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = isTrue(v)
	}
	if v := os.Getenv("HONEYPULSE_CACHE_MODE"); v != "" {
		cfg.Cache.Mode = v
	}
	if v := os.Getenv("HONEYPULSE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("HONEYPULSE_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("HONEYPULSE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("HONEYPULSE_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("HONEYPULSE_CACHE_TLS"); isTrue(v) {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("HONEYPULSE_AUTHORITY_ADDRESS"); v != "" {
		cfg.Authority.Address = v
	}
	if v := os.Getenv("HONEYPULSE_FEED_ADDRESS"); v != "" {
		cfg.Feed.Address = v
	}
	if v := os.Getenv("HONEYPULSE_OTEL_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
}

func setDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func isTrue(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
