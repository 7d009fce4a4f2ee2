// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the SMTP gateway.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Delivery backends.
const (
	DeliveryPlunk  = "plunk"
	DeliveryStdout = "stdout"
)

// Directory backends.
const (
	DirectoryFile     = "file"
	DirectoryRedis    = "redis"
	DirectoryBolt     = "bolt"
	DirectoryDynamoDB = "dynamodb"
)

// Config holds the complete application configuration.
type Config struct {
	SMTP      SMTPConfig      `yaml:"smtp"`
	TLS       TLSConfig       `yaml:"tls"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Directory DirectoryConfig `yaml:"directory"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Hostname       string        `yaml:"hostname"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	MaxRecipients  int           `yaml:"max_recipients"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// ListenAddr returns the host:port the SMTP server binds to.
func (c SMTPConfig) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	// SelfSigned replaces the certificate files with an in-memory
	// self-signed certificate. Local development only.
	SelfSigned bool `yaml:"self_signed"`
}

// DeliveryConfig selects and configures the outbound email backend.
type DeliveryConfig struct {
	Backend     string        `yaml:"backend"`
	PlunkAPIURL string        `yaml:"plunk_api_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DirectoryConfig selects and configures the tenant directory.
type DirectoryConfig struct {
	Backend        string         `yaml:"backend"`
	File           string         `yaml:"file"`
	RedisURL       string         `yaml:"redis_url"`
	RedisKeyPrefix string         `yaml:"redis_key_prefix"`
	BoltPath       string         `yaml:"bolt_path"`
	BoltBucket     string         `yaml:"bolt_bucket"`
	DynamoDB       DynamoDBConfig `yaml:"dynamodb"`
}

// DynamoDBConfig holds the DynamoDB tenant table configuration.
type DynamoDBConfig struct {
	Table           string `yaml:"table"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Endpoint        string `yaml:"endpoint"`
}

// MetricsConfig holds the Prometheus endpoint configuration. An empty
// Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// TracingConfig holds the Jaeger agent configuration. An empty AgentHost
// disables tracing.
type TracingConfig struct {
	AgentHost   string `yaml:"agent_host"`
	AgentPort   string `yaml:"agent_port"`
	ServiceName string `yaml:"service_name"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// Validate checks the settings each selected backend depends on.
func (c *Config) Validate() error {
	var errs []error

	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.SMTP.Port))
	}
	if c.SMTP.MaxMessageSize < 0 {
		errs = append(errs, fmt.Errorf("invalid max message size %d", c.SMTP.MaxMessageSize))
	}

	if !c.TLS.SelfSigned && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("CERT_PATH and KEY_PATH are required unless TLS_SELF_SIGNED is set"))
	}

	switch c.Delivery.Backend {
	case DeliveryPlunk, DeliveryStdout:
	default:
		errs = append(errs, fmt.Errorf("unknown delivery backend %q", c.Delivery.Backend))
	}

	switch c.Directory.Backend {
	case DirectoryFile:
		if c.Directory.File == "" {
			errs = append(errs, errors.New("file directory selected but DIRECTORY_FILE is required"))
		}
	case DirectoryRedis:
		if c.Directory.RedisURL == "" {
			errs = append(errs, errors.New("redis directory selected but REDIS_URL is required"))
		}
	case DirectoryBolt:
		if c.Directory.BoltPath == "" {
			errs = append(errs, errors.New("bolt directory selected but BOLT_PATH is required"))
		}
	case DirectoryDynamoDB:
		if c.Directory.DynamoDB.Table == "" {
			errs = append(errs, errors.New("dynamodb directory selected but DYNAMODB_TABLE is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown directory backend %q", c.Directory.Backend))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// applyDefaults sets default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Port = 587
	c.SMTP.Hostname = "localhost"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.SMTP.MaxRecipients = 100
	c.SMTP.ReadTimeout = 60 * time.Second
	c.SMTP.WriteTimeout = 60 * time.Second
	c.TLS.CertFile = "certs/cert.pem"
	c.TLS.KeyFile = "certs/key.pem"
	c.Delivery.Backend = DeliveryPlunk
	c.Delivery.Timeout = 30 * time.Second
	c.Directory.Backend = DirectoryFile
	c.Directory.File = "tenants.yaml"
	c.Tracing.ServiceName = "smtp-gateway"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variables.
// Only non-empty environment variables override existing values.
// Unparsable numbers, durations and booleans are ignored.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = n
		}
	}
	if v := os.Getenv("SMTP_HOSTNAME"); v != "" {
		c.SMTP.Hostname = v
	}
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.SMTP.MaxMessageSize = n
		}
	}
	if v := os.Getenv("SMTP_MAX_RECIPIENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SMTP.MaxRecipients = n
		}
	}
	envDuration("SMTP_READ_TIMEOUT", &c.SMTP.ReadTimeout)
	envDuration("SMTP_WRITE_TIMEOUT", &c.SMTP.WriteTimeout)

	if v := os.Getenv("CERT_PATH"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("KEY_PATH"); v != "" {
		c.TLS.KeyFile = v
	}
	if v := os.Getenv("TLS_SELF_SIGNED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.TLS.SelfSigned = b
		}
	}

	if v := os.Getenv("DELIVERY"); v != "" {
		c.Delivery.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("PLUNK_API_URL"); v != "" {
		c.Delivery.PlunkAPIURL = v
	}
	envDuration("DELIVERY_TIMEOUT", &c.Delivery.Timeout)

	if v := os.Getenv("DIRECTORY"); v != "" {
		c.Directory.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("DIRECTORY_FILE"); v != "" {
		c.Directory.File = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Directory.RedisURL = v
	}
	if v := os.Getenv("REDIS_KEY_PREFIX"); v != "" {
		c.Directory.RedisKeyPrefix = v
	}
	if v := os.Getenv("BOLT_PATH"); v != "" {
		c.Directory.BoltPath = v
	}
	if v := os.Getenv("BOLT_BUCKET"); v != "" {
		c.Directory.BoltBucket = v
	}
	if v := os.Getenv("DYNAMODB_TABLE"); v != "" {
		c.Directory.DynamoDB.Table = v
	}
	if v := os.Getenv("DYNAMODB_REGION"); v != "" {
		c.Directory.DynamoDB.Region = v
	}
	if v := os.Getenv("DYNAMODB_ACCESS_KEY_ID"); v != "" {
		c.Directory.DynamoDB.AccessKeyID = v
	}
	if v := os.Getenv("DYNAMODB_SECRET_ACCESS_KEY"); v != "" {
		c.Directory.DynamoDB.SecretAccessKey = v
	}
	if v := os.Getenv("DYNAMODB_ENDPOINT"); v != "" {
		c.Directory.DynamoDB.Endpoint = v
	}

	if v := os.Getenv("METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}

	if v := os.Getenv("JAEGER_AGENT_HOST"); v != "" {
		c.Tracing.AgentHost = v
	}
	if v := os.Getenv("JAEGER_AGENT_PORT"); v != "" {
		c.Tracing.AgentPort = v
	}
	if v := os.Getenv("TRACING_SERVICE_NAME"); v != "" {
		c.Tracing.ServiceName = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}
