package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MtkN1/pybybit/stream"
)

const (
	DefaultPath           = "config/config.yml"
	defaultHeartbeat      = 60 * time.Second
	defaultMinReconnect   = 60 * time.Second
	defaultHandshake      = 10 * time.Second
	defaultRESTRPS        = 5
	defaultRESTBurst      = 1
	defaultRESTTimeout    = 10 * time.Second
	defaultReportInterval = 30 * time.Second
)

var envPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

type Config struct {
	App        AppConfig        `yaml:"app"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Streams    StreamsConfig    `yaml:"streams"`
	Connection ConnectionConfig `yaml:"connection"`
	Store      StoreConfig      `yaml:"store"`
	REST       RESTConfig       `yaml:"rest"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ExchangeConfig struct {
	Testnet   bool   `yaml:"testnet"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// HasCredentials reports whether both halves of the API key pair are set.
func (e ExchangeConfig) HasCredentials() bool {
	return e.APIKey != "" && e.APISecret != ""
}

// StreamsConfig lists the topics subscribed on each gateway. An empty list
// leaves that gateway unused.
type StreamsConfig struct {
	Inverse       []string `yaml:"inverse"`
	LinearPublic  []string `yaml:"linear_public"`
	LinearPrivate []string `yaml:"linear_private"`
}

type ConnectionConfig struct {
	Heartbeat        time.Duration `yaml:"heartbeat"`
	MinReconnect     time.Duration `yaml:"min_reconnect"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

type StoreConfig struct {
	Trade     int `yaml:"trade"`
	Kline     int `yaml:"kline"`
	Execution int `yaml:"execution"`
	Order     int `yaml:"order"`
	StopOrder int `yaml:"stop_order"`
}

type RESTConfig struct {
	RequestsPerSecond float64          `yaml:"requests_per_second"`
	Burst             int              `yaml:"burst"`
	Timeout           time.Duration    `yaml:"timeout"`
	Initialize        InitializeConfig `yaml:"initialize"`
}

// InitializeConfig names the symbols whose orders, positions and balances
// are fetched over REST before streaming starts.
type InitializeConfig struct {
	Inverse []string `yaml:"inverse"`
	Linear  []string `yaml:"linear"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	ReportInterval time.Duration    `yaml:"report_interval"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Namespace       string `yaml:"namespace"`
	Dashboard       string `yaml:"dashboard"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
}

// ResolvePath returns the file LoadConfig should read: an environment
// specific file replaces the default one when APP_ENV selects it.
func ResolvePath(path string) string {
	return resolveEnvSpecificPath(path, DefaultPath, envPaths)
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		App: AppConfig{Name: "bybitmirror"},
		Connection: ConnectionConfig{
			Heartbeat:        defaultHeartbeat,
			MinReconnect:     defaultMinReconnect,
			HandshakeTimeout: defaultHandshake,
		},
		REST: RESTConfig{
			RequestsPerSecond: defaultRESTRPS,
			Burst:             defaultRESTBurst,
			Timeout:           defaultRESTTimeout,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{ReportInterval: defaultReportInterval},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnv(&config); err != nil {
		return nil, err
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		cfg.Exchange.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = strings.TrimSpace(v)
	}
	if v := os.Getenv("BYBIT_TESTNET"); v != "" {
		testnet, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid BYBIT_TESTNET %q: %w", v, err)
		}
		cfg.Exchange.Testnet = testnet
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.TrimSpace(v)
	}

	if cfg.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Metrics.CloudWatch.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Metrics.CloudWatch.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if len(cfg.Streams.Inverse)+len(cfg.Streams.LinearPublic)+len(cfg.Streams.LinearPrivate) == 0 {
		return fmt.Errorf("streams: at least one topic is required")
	}

	if len(cfg.Streams.LinearPrivate) > 0 && !cfg.Exchange.HasCredentials() {
		return fmt.Errorf("streams.linear_private requires exchange.api_key and exchange.api_secret")
	}
	if !cfg.Exchange.HasCredentials() {
		for _, topic := range cfg.Streams.Inverse {
			if stream.IsPrivate(topic) {
				return fmt.Errorf("private topic %q requires exchange.api_key and exchange.api_secret", topic)
			}
		}
		if len(cfg.REST.Initialize.Inverse)+len(cfg.REST.Initialize.Linear) > 0 {
			return fmt.Errorf("rest.initialize requires exchange.api_key and exchange.api_secret")
		}
	}

	if cfg.Connection.Heartbeat <= 0 {
		return fmt.Errorf("connection.heartbeat must be greater than 0")
	}
	if cfg.Connection.MinReconnect < 0 {
		return fmt.Errorf("connection.min_reconnect must not be negative")
	}

	for name, v := range map[string]int{
		"store.trade":      cfg.Store.Trade,
		"store.kline":      cfg.Store.Kline,
		"store.execution":  cfg.Store.Execution,
		"store.order":      cfg.Store.Order,
		"store.stop_order": cfg.Store.StopOrder,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	if cfg.REST.RequestsPerSecond <= 0 {
		return fmt.Errorf("rest.requests_per_second must be greater than 0")
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Region == "" {
		return fmt.Errorf("metrics.cloudwatch.region is required when CloudWatch is enabled")
	}

	return nil
}
