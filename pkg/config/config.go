package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hpool/pkg/errors"
	"hpool/pkg/protocol"
)

// ClientConfig represents client configuration
type ClientConfig struct {
	HTTP2        bool          `yaml:"http2"`
	MaxPerOrigin int           `yaml:"max_per_origin"`
	Timeouts     TimeoutConfig `yaml:"timeouts"`
	TLS          TLSConfig     `yaml:"tls"`
	Decode       DecodeConfig  `yaml:"decode"`
	Logging      LoggingConfig `yaml:"logging"`
}

// TimeoutConfig represents per-phase timeouts in seconds
type TimeoutConfig struct {
	ConnectSeconds float64 `yaml:"connect_seconds"`
	ReadSeconds    float64 `yaml:"read_seconds"`
	WriteSeconds   float64 `yaml:"write_seconds"`
}

// TLSConfig represents TLS settings for outbound connections
type TLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// DecodeConfig represents response decoding settings
type DecodeConfig struct {
	Content bool `yaml:"content"`
	Charset bool `yaml:"charset"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		HTTP2:        false,
		MaxPerOrigin: 0,
		Timeouts: TimeoutConfig{
			ConnectSeconds: 10,
			ReadSeconds:    30,
			WriteSeconds:   30,
		},
		TLS: TLSConfig{
			CAFile:             "",
			ServerName:         "",
			InsecureSkipVerify: false,
		},
		Decode: DecodeConfig{
			Content: true,
			Charset: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*ClientConfig, error) {
	config := DefaultConfig()

	if configPath == "" {
		configPath = os.Getenv("HPOOL_CONFIG")
	}

	// Load from file if provided
	if configPath != "" {
		if err := loadFromFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables
	applyEnvOverrides(config)

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(path string, config *ClientConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return err
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(config *ClientConfig) {
	if http2 := os.Getenv("HTTP2_ENABLED"); http2 != "" {
		config.HTTP2 = http2 == "true"
	}

	if maxConns := os.Getenv("MAX_PER_ORIGIN"); maxConns != "" {
		if val, err := strconv.Atoi(maxConns); err == nil {
			config.MaxPerOrigin = val
		}
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.Logging.Level = logLevel
	}

	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		config.Logging.Format = logFormat
	}

	if caFile := os.Getenv("TLS_CA_FILE"); caFile != "" {
		config.TLS.CAFile = caFile
	}

	if serverName := os.Getenv("TLS_SERVER_NAME"); serverName != "" {
		config.TLS.ServerName = serverName
	}

	if insecure := os.Getenv("TLS_INSECURE"); insecure != "" {
		config.TLS.InsecureSkipVerify = insecure == "true"
	}
}

// Validate validates the configuration
func (c *ClientConfig) Validate() error {
	if c.MaxPerOrigin < 0 {
		return fmt.Errorf("%w: max_per_origin must not be negative", errors.ErrInvalidConfig)
	}

	if c.Timeouts.ConnectSeconds < 0 || c.Timeouts.ReadSeconds < 0 || c.Timeouts.WriteSeconds < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", errors.ErrInvalidConfig)
	}

	if c.TLS.CAFile != "" {
		if _, err := os.Stat(c.TLS.CAFile); err != nil {
			return fmt.Errorf("CA file not found: %w", err)
		}
	}

	if !isValidLogLevel(c.Logging.Level) {
		return fmt.Errorf("%w: invalid log level: %s", errors.ErrInvalidConfig, c.Logging.Level)
	}

	if !isValidLogFormat(c.Logging.Format) {
		return fmt.Errorf("%w: invalid log format: %s", errors.ErrInvalidConfig, c.Logging.Format)
	}

	return nil
}

// isValidLogLevel checks if the log level is valid
func isValidLogLevel(level string) bool {
	valid := []string{"debug", "info", "warn", "error"}
	level = strings.ToLower(level)
	for _, v := range valid {
		if level == v {
			return true
		}
	}
	return false
}

// isValidLogFormat checks if the log format is valid
func isValidLogFormat(format string) bool {
	format = strings.ToLower(format)
	return format == "text" || format == "json"
}

// Durations converts the configured seconds into per-phase timeouts
func (t TimeoutConfig) Durations() protocol.Timeouts {
	return protocol.Timeouts{
		Connect: seconds(t.ConnectSeconds),
		Read:    seconds(t.ReadSeconds),
		Write:   seconds(t.WriteSeconds),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ClientConfig builds a tls.Config from the TLS settings, or nil when
// everything is left at defaults
func (c TLSConfig) ClientConfig() (*tls.Config, error) {
	if c.CAFile == "" && c.ServerName == "" && !c.InsecureSkipVerify {
		return nil, nil
	}

	cfg := &tls.Config{
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", errors.ErrInvalidConfig, c.CAFile)
		}
		cfg.RootCAs = roots
	}

	return cfg, nil
}

// String returns a string representation of the configuration (for logging)
func (c *ClientConfig) String() string {
	return fmt.Sprintf("Config{HTTP2: %v, MaxPerOrigin: %d, LogLevel: %s}",
		c.HTTP2, c.MaxPerOrigin, c.Logging.Level)
}
