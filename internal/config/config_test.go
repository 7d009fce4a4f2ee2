package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envVars = []string{
	"SMTP_HOST", "PORT", "SMTP_HOSTNAME", "SMTP_MAX_MESSAGE_SIZE", "SMTP_MAX_RECIPIENTS",
	"SMTP_READ_TIMEOUT", "SMTP_WRITE_TIMEOUT",
	"CERT_PATH", "KEY_PATH", "TLS_SELF_SIGNED",
	"DELIVERY", "PLUNK_API_URL", "DELIVERY_TIMEOUT",
	"DIRECTORY", "DIRECTORY_FILE", "REDIS_URL", "REDIS_KEY_PREFIX", "BOLT_PATH", "BOLT_BUCKET",
	"DYNAMODB_TABLE", "DYNAMODB_REGION", "DYNAMODB_ACCESS_KEY_ID", "DYNAMODB_SECRET_ACCESS_KEY", "DYNAMODB_ENDPOINT",
	"METRICS_LISTEN", "JAEGER_AGENT_HOST", "JAEGER_AGENT_PORT", "TRACING_SERVICE_NAME",
	"LOG_LEVEL",
}

// clearEnv empties every variable the loader reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envVars {
		t.Setenv(env, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := cfg.SMTP.ListenAddr(); got != ":587" {
		t.Errorf("SMTP.ListenAddr: got %q, want %q", got, ":587")
	}
	if cfg.SMTP.MaxMessageSize != defaultMaxMessageSize {
		t.Errorf("SMTP.MaxMessageSize: got %d, want %d", cfg.SMTP.MaxMessageSize, defaultMaxMessageSize)
	}
	if cfg.TLS.CertFile != "certs/cert.pem" {
		t.Errorf("TLS.CertFile: got %q, want %q", cfg.TLS.CertFile, "certs/cert.pem")
	}
	if cfg.TLS.KeyFile != "certs/key.pem" {
		t.Errorf("TLS.KeyFile: got %q, want %q", cfg.TLS.KeyFile, "certs/key.pem")
	}
	if cfg.TLS.SelfSigned {
		t.Error("TLS.SelfSigned: got true, want false")
	}
	if cfg.Delivery.Backend != DeliveryPlunk {
		t.Errorf("Delivery.Backend: got %q, want %q", cfg.Delivery.Backend, DeliveryPlunk)
	}
	if cfg.Delivery.Timeout != 30*time.Second {
		t.Errorf("Delivery.Timeout: got %v, want %v", cfg.Delivery.Timeout, 30*time.Second)
	}
	if cfg.Directory.Backend != DirectoryFile {
		t.Errorf("Directory.Backend: got %q, want %q", cfg.Directory.Backend, DirectoryFile)
	}
	if cfg.Metrics.Listen != "" {
		t.Errorf("Metrics.Listen: got %q, want empty", cfg.Metrics.Listen)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: defaults should be valid, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMTP_HOST", "127.0.0.1")
	t.Setenv("PORT", "2525")
	t.Setenv("SMTP_MAX_MESSAGE_SIZE", "1048576")
	t.Setenv("SMTP_READ_TIMEOUT", "5s")
	t.Setenv("CERT_PATH", "/etc/ssl/cert.pem")
	t.Setenv("KEY_PATH", "/etc/ssl/key.pem")
	t.Setenv("TLS_SELF_SIGNED", "true")
	t.Setenv("DELIVERY", "STDOUT")
	t.Setenv("PLUNK_API_URL", "https://plunk.internal/api/v1")
	t.Setenv("DIRECTORY", "dynamodb")
	t.Setenv("DYNAMODB_TABLE", "tenants")
	t.Setenv("DYNAMODB_REGION", "eu-west-1")
	t.Setenv("METRICS_LISTEN", ":9090")
	t.Setenv("JAEGER_AGENT_HOST", "jaeger")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"SMTP.ListenAddr", cfg.SMTP.ListenAddr(), "127.0.0.1:2525"},
		{"SMTP.MaxMessageSize", cfg.SMTP.MaxMessageSize, int64(1048576)},
		{"SMTP.ReadTimeout", cfg.SMTP.ReadTimeout, 5 * time.Second},
		{"TLS.CertFile", cfg.TLS.CertFile, "/etc/ssl/cert.pem"},
		{"TLS.KeyFile", cfg.TLS.KeyFile, "/etc/ssl/key.pem"},
		{"TLS.SelfSigned", cfg.TLS.SelfSigned, true},
		{"Delivery.Backend", cfg.Delivery.Backend, DeliveryStdout},
		{"Delivery.PlunkAPIURL", cfg.Delivery.PlunkAPIURL, "https://plunk.internal/api/v1"},
		{"Directory.Backend", cfg.Directory.Backend, DirectoryDynamoDB},
		{"Directory.DynamoDB.Table", cfg.Directory.DynamoDB.Table, "tenants"},
		{"Directory.DynamoDB.Region", cfg.Directory.DynamoDB.Region, "eu-west-1"},
		{"Metrics.Listen", cfg.Metrics.Listen, ":9090"},
		{"Tracing.AgentHost", cfg.Tracing.AgentHost, "jaeger"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, tt := range tests {
		tt := tt
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_InvalidValuesIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-number")
	t.Setenv("SMTP_MAX_MESSAGE_SIZE", "not-a-number")
	t.Setenv("DELIVERY_TIMEOUT", "forever")
	t.Setenv("TLS_SELF_SIGNED", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Invalid values should be ignored, keeping the defaults
	if cfg.SMTP.Port != 587 {
		t.Errorf("SMTP.Port: got %d, want %d", cfg.SMTP.Port, 587)
	}
	if cfg.SMTP.MaxMessageSize != defaultMaxMessageSize {
		t.Errorf("SMTP.MaxMessageSize: got %d, want %d", cfg.SMTP.MaxMessageSize, defaultMaxMessageSize)
	}
	if cfg.Delivery.Timeout != 30*time.Second {
		t.Errorf("Delivery.Timeout: got %v, want %v", cfg.Delivery.Timeout, 30*time.Second)
	}
	if cfg.TLS.SelfSigned {
		t.Error("TLS.SelfSigned: got true, want false")
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
smtp:
  port: 3025
  hostname: "mail.example.com"
  max_message_size: 5242880
  read_timeout: 10s
tls:
  self_signed: true
delivery:
  backend: "stdout"
directory:
  backend: "bolt"
  bolt_path: "/var/lib/gateway/tenants.db"
logging:
  level: "warn"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.SMTP.Port != 3025 {
		t.Errorf("SMTP.Port: got %d, want %d", cfg.SMTP.Port, 3025)
	}
	if cfg.SMTP.Hostname != "mail.example.com" {
		t.Errorf("SMTP.Hostname: got %q, want %q", cfg.SMTP.Hostname, "mail.example.com")
	}
	if cfg.SMTP.MaxMessageSize != 5242880 {
		t.Errorf("SMTP.MaxMessageSize: got %d, want %d", cfg.SMTP.MaxMessageSize, 5242880)
	}
	if cfg.SMTP.ReadTimeout != 10*time.Second {
		t.Errorf("SMTP.ReadTimeout: got %v, want %v", cfg.SMTP.ReadTimeout, 10*time.Second)
	}
	// Unset keys keep their defaults
	if cfg.SMTP.WriteTimeout != 60*time.Second {
		t.Errorf("SMTP.WriteTimeout: got %v, want %v", cfg.SMTP.WriteTimeout, 60*time.Second)
	}
	if !cfg.TLS.SelfSigned {
		t.Error("TLS.SelfSigned: got false, want true")
	}
	if cfg.Directory.BoltPath != "/var/lib/gateway/tenants.db" {
		t.Errorf("Directory.BoltPath: got %q", cfg.Directory.BoltPath)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "warn")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: unexpected error: %v", err)
	}
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
smtp:
  port: 3025
  hostname: "mail.example.com"
logging:
  level: "warn"
`)

	t.Setenv("PORT", "9025")
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Env var should override YAML
	if cfg.SMTP.Port != 9025 {
		t.Errorf("SMTP.Port: got %d, want %d (env should override YAML)", cfg.SMTP.Port, 9025)
	}
	// Empty env var should NOT override YAML value
	if cfg.SMTP.Hostname != "mail.example.com" {
		t.Errorf("SMTP.Hostname: got %q, want %q (empty env should not override YAML)", cfg.SMTP.Hostname, "mail.example.com")
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level: got %q, want %q (env should override YAML)", cfg.Logging.Level, "error")
	}
}

func TestLoadFromFile_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "{{invalid yaml")

	_, err := LoadFromFile(path)
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		cfg := &Config{}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.SMTP.Port = 70000 },
			wantErr: "invalid port",
		},
		{
			name:    "missing certificate",
			mutate:  func(c *Config) { c.TLS.CertFile = "" },
			wantErr: "CERT_PATH and KEY_PATH",
		},
		{
			name: "self-signed without files",
			mutate: func(c *Config) {
				c.TLS.CertFile, c.TLS.KeyFile = "", ""
				c.TLS.SelfSigned = true
			},
		},
		{
			name:    "unknown delivery",
			mutate:  func(c *Config) { c.Delivery.Backend = "ses" },
			wantErr: `unknown delivery backend "ses"`,
		},
		{
			name:    "unknown directory",
			mutate:  func(c *Config) { c.Directory.Backend = "ldap" },
			wantErr: `unknown directory backend "ldap"`,
		},
		{
			name:    "file without path",
			mutate:  func(c *Config) { c.Directory.File = "" },
			wantErr: "DIRECTORY_FILE",
		},
		{
			name:    "redis without url",
			mutate:  func(c *Config) { c.Directory.Backend = DirectoryRedis },
			wantErr: "REDIS_URL",
		},
		{
			name:    "bolt without path",
			mutate:  func(c *Config) { c.Directory.Backend = DirectoryBolt },
			wantErr: "BOLT_PATH",
		},
		{
			name:    "dynamodb without table",
			mutate:  func(c *Config) { c.Directory.Backend = DirectoryDynamoDB },
			wantErr: "DYNAMODB_TABLE",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: `unknown log level "trace"`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error: got %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Delivery.Backend = "ses"
	cfg.Directory.Backend = "ldap"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"delivery", "directory"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err.Error(), want)
		}
	}
}
