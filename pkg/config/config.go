// Package config handles configuration management with validation for the
// dealengine binary.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration structure for cmd/dealengine.
type Config struct {
	System    SystemConfig    `yaml:"system"`
	Broker    BrokerConfig    `yaml:"broker"`
	Processor ProcessorConfig `yaml:"processor"`
	Clients   ClientsConfig   `yaml:"clients"`
	Live      LiveConfig      `yaml:"live"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// SystemConfig contains process-wide settings.
type SystemConfig struct {
	LogLevel string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
}

// BrokerConfig configures the simulated MT5 broker connection.
type BrokerConfig struct {
	Server      string  `yaml:"server" validate:"required"`
	Login       int64   `yaml:"login" validate:"required"`
	Password    Secret  `yaml:"password" validate:"required"`
	FailureRate float64 `yaml:"failure_rate" validate:"min=0,max=1"`
}

// ProcessorConfig mirrors internal/processor.Config's knobs for YAML
// configuration, translated in cmd/dealengine before construction.
type ProcessorConfig struct {
	NumWorkers      int     `yaml:"num_workers" validate:"required,min=1,max=256"`
	MaxRetries      int     `yaml:"max_retries" validate:"min=0,max=20"`
	RetryBaseMs     int     `yaml:"retry_base_ms" validate:"min=0,max=60000"`
	SubmitRateLimit float64 `yaml:"submit_rate_limit"` // requests/sec, 0 = unlimited
	SubmitBurst     int     `yaml:"submit_burst"`
}

// ClientsConfig configures the demo client simulator fleet.
type ClientsConfig struct {
	Count               int `yaml:"count" validate:"min=0,max=10000"`
	RequestsPerClient   int `yaml:"requests_per_client" validate:"min=0"`
	BadRequestFrequency int `yaml:"bad_request_frequency" validate:"min=0"` // 1-in-N requests is deliberately malformed
}

// LiveConfig configures the optional websocket result broadcaster.
type LiveConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ListenAddr       string `yaml:"listen_addr"`
	PerIPConnLimit   int    `yaml:"per_ip_conn_limit" validate:"min=0"`
	PerIPConnBurst   int    `yaml:"per_ip_conn_burst" validate:"min=0"`
}

// TelemetryConfig contains OTel/metrics settings.
type TelemetryConfig struct {
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents one configuration validation failure.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file, expanding ${VAR}
// environment variable references before parsing, then validates it.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateSystem(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateBroker(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateProcessor(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateBroker() error {
	if c.Broker.Server == "" {
		return ValidationError{Field: "broker.server", Message: "server address is required"}
	}
	if c.Broker.Login == 0 {
		return ValidationError{Field: "broker.login", Message: "login must be non-zero"}
	}
	if c.Broker.FailureRate < 0 || c.Broker.FailureRate > 1 {
		return ValidationError{Field: "broker.failure_rate", Value: c.Broker.FailureRate, Message: "must be in [0, 1]"}
	}
	return nil
}

func (c *Config) validateProcessor() error {
	if c.Processor.NumWorkers < 1 {
		return ValidationError{Field: "processor.num_workers", Value: c.Processor.NumWorkers, Message: "must be at least 1"}
	}
	if c.Processor.MaxRetries < 0 {
		return ValidationError{Field: "processor.max_retries", Value: c.Processor.MaxRetries, Message: "must be non-negative"}
	}
	return nil
}

// String renders the configuration as YAML with secrets redacted.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// Default returns a ready-to-run configuration suitable for local demos
// and tests.
func Default() *Config {
	return &Config{
		System: SystemConfig{LogLevel: "INFO"},
		Broker: BrokerConfig{
			Server:      "demo.mt5.broker",
			Login:       12345,
			Password:    "demo-password",
			FailureRate: 0.05,
		},
		Processor: ProcessorConfig{
			NumWorkers:  4,
			MaxRetries:  3,
			RetryBaseMs: 100,
		},
		Clients: ClientsConfig{
			Count:               5,
			RequestsPerClient:   20,
			BadRequestFrequency: 10,
		},
		Live: LiveConfig{
			Enabled:        false,
			ListenAddr:     ":8090",
			PerIPConnLimit: 5,
			PerIPConnBurst: 10,
		},
		Telemetry: TelemetryConfig{EnableMetrics: true},
	}
}
