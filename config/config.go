package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath      = "config/config.yml"
	DefaultStreamURL = "wss://stream.binance.com:9443/ws"
	DefaultRestURL   = "https://api.binance.com"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	Stream    StreamConfig    `yaml:"stream"`
	Rest      RestConfig      `yaml:"rest"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Processor ProcessorConfig `yaml:"processor"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type StreamConfig struct {
	BaseURL          string        `yaml:"base_url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadLimit        int64         `yaml:"read_limit"`
	LocalIP          string        `yaml:"local_ip"`
	Subscriptions    []string      `yaml:"subscriptions"`
	UserData         bool          `yaml:"user_data"`
	Retry            RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time"`
}

type RestConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	APISecret         string        `yaml:"api_secret"`
	Timeout           time.Duration `yaml:"timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

type ChannelsConfig struct {
	EventBuffer int `yaml:"event_buffer"`
	BatchBuffer int `yaml:"batch_buffer"`
}

type ProcessorConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type StorageConfig struct {
	LocalDir string      `yaml:"local_dir"`
	S3       S3Config    `yaml:"s3"`
	Kafka    KafkaConfig `yaml:"kafka"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type MetricsConfig struct {
	Address    string           `yaml:"address"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type DashboardConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Address        string `yaml:"address"`
	LogHistory     int    `yaml:"log_history"`
	MetricsHistory int    `yaml:"metrics_history"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// LoadConfig reads a YAML file, applies environment overrides and
// validates the result. When APP_ENV selects an environment and a sibling
// file config.<env>.yml exists next to path, that file is used instead.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	path = resolveEnvSpecificPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Stream: StreamConfig{
			BaseURL:          DefaultStreamURL,
			HandshakeTimeout: 10 * time.Second,
		},
		Rest: RestConfig{
			BaseURL:           DefaultRestURL,
			Timeout:           10 * time.Second,
			KeepaliveInterval: 30 * time.Minute,
		},
		Channels: ChannelsConfig{
			EventBuffer: 1024,
			BatchBuffer: 64,
		},
		Processor: ProcessorConfig{
			BatchSize:    500,
			BatchTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("BINANCE_KEY"); v != "" {
		config.Rest.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BINANCE_SECRET"); v != "" {
		config.Rest.APISecret = strings.TrimSpace(v)
	}
	if v := os.Getenv("STREAM_BASE_URL"); v != "" {
		config.Stream.BaseURL = strings.TrimSpace(v)
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" && config.Storage.Kafka.Enabled {
		config.Storage.Kafka.Brokers = strings.Split(v, ",")
	}
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if cfg.App.Version == "" {
		return fmt.Errorf("app.version is required")
	}

	if cfg.Stream.BaseURL == "" {
		return fmt.Errorf("stream.base_url is required")
	}
	u, err := url.Parse(cfg.Stream.BaseURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("stream.base_url '%s' must be a ws:// or wss:// URL", cfg.Stream.BaseURL)
	}

	if len(cfg.Stream.Subscriptions) == 0 && !cfg.Stream.UserData {
		return fmt.Errorf("stream.subscriptions must not be empty")
	}

	if cfg.Stream.UserData && cfg.Rest.APIKey == "" {
		return fmt.Errorf("rest.api_key is required when stream.user_data is enabled")
	}
	if cfg.Stream.UserData && cfg.Rest.KeepaliveInterval <= 0 {
		return fmt.Errorf("rest.keepalive_interval must be greater than 0 when stream.user_data is enabled")
	}

	if cfg.Channels.EventBuffer <= 0 {
		return fmt.Errorf("channels.event_buffer must be greater than 0")
	}
	if cfg.Channels.BatchBuffer <= 0 {
		return fmt.Errorf("channels.batch_buffer must be greater than 0")
	}

	if cfg.Processor.BatchSize <= 0 {
		return fmt.Errorf("processor.batch_size must be greater than 0")
	}
	if cfg.Processor.BatchTimeout <= 0 {
		return fmt.Errorf("processor.batch_timeout must be greater than 0")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when kafka is enabled")
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
