// Package main is the entry point for the SMTP gateway.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/shineum/smtp-gateway/internal/config"
	"github.com/shineum/smtp-gateway/internal/delivery"
	"github.com/shineum/smtp-gateway/internal/delivery/plunk"
	"github.com/shineum/smtp-gateway/internal/delivery/stdout"
	"github.com/shineum/smtp-gateway/internal/directory"
	"github.com/shineum/smtp-gateway/internal/directory/bolt"
	"github.com/shineum/smtp-gateway/internal/directory/dynamo"
	"github.com/shineum/smtp-gateway/internal/directory/file"
	"github.com/shineum/smtp-gateway/internal/directory/redis"
	"github.com/shineum/smtp-gateway/internal/metrics"
	"github.com/shineum/smtp-gateway/internal/smtp"
	smtptls "github.com/shineum/smtp-gateway/internal/tls"
	"github.com/shineum/smtp-gateway/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// A missing or unreadable certificate is fatal
	tlsConfig, tlsMode := setupTLS(cfg)

	dir, closeDir := selectDirectory(cfg)
	defer closeDir()

	dlv := selectDelivery(cfg)

	tracer, shutdownTracing, err := tracing.Setup(tracing.Config{
		AgentHost:   cfg.Tracing.AgentHost,
		AgentPort:   cfg.Tracing.AgentPort,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		slog.Error("failed to setup tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Create SMTP server
	server := smtp.New(smtp.ServerConfig{
		ListenAddr: cfg.SMTP.ListenAddr(),
		Hostname:   cfg.SMTP.Hostname,
		TLSConfig:  tlsConfig,
		Directory:  dir,
		Delivery:   dlv,
		Observer: smtp.MultiObserver{
			smtp.NewLogObserver(nil),
			metrics.NewObserver(reg),
		},
		Tracer:          tracer,
		MaxMessageBytes: cfg.SMTP.MaxMessageSize,
		MaxRecipients:   cfg.SMTP.MaxRecipients,
		ReadTimeout:     cfg.SMTP.ReadTimeout,
		WriteTimeout:    cfg.SMTP.WriteTimeout,
	})

	slog.Info("starting smtp-gateway",
		"listen", cfg.SMTP.ListenAddr(),
		"directory", dir.Name(),
		"delivery", dlv.Name(),
		"tls_mode", tlsMode,
		"metrics", cfg.Metrics.Listen,
		"tracing", cfg.Tracing.AgentHost != "",
	)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	// Run the servers until the context is cancelled or one of them fails
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return metrics.ListenAndServe(gctx, cfg.Metrics.Listen, reg)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("smtp-gateway stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// setupTLS loads the STARTTLS certificate, or generates an in-memory
// self-signed one when explicitly requested.
func setupTLS(cfg *config.Config) (*tls.Config, string) {
	if cfg.TLS.SelfSigned {
		tlsConfig, err := smtptls.SelfSigned(cfg.SMTP.Hostname)
		if err != nil {
			slog.Error("failed to generate self-signed certificate", "error", err)
			os.Exit(1)
		}
		slog.Warn("using a self-signed certificate, do not use in production")
		return tlsConfig, "self-signed"
	}

	tlsConfig, err := smtptls.Load(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		slog.Error("failed to setup TLS", "error", err,
			"cert_file", cfg.TLS.CertFile,
			"key_file", cfg.TLS.KeyFile,
		)
		os.Exit(1)
	}
	return tlsConfig, "file"
}

// selectDirectory opens the configured tenant directory. The returned
// function releases its resources.
func selectDirectory(cfg *config.Config) (directory.Directory, func()) {
	noop := func() {}

	switch cfg.Directory.Backend {
	case config.DirectoryFile:
		d, err := file.Load(cfg.Directory.File)
		if err != nil {
			slog.Error("failed to load tenant file", "error", err, "path", cfg.Directory.File)
			os.Exit(1)
		}
		slog.Info("using file tenant directory", "path", cfg.Directory.File, "tenants", d.Len())
		return d, noop

	case config.DirectoryRedis:
		d, err := redis.New(cfg.Directory.RedisURL, cfg.Directory.RedisKeyPrefix)
		if err != nil {
			slog.Error("failed to create redis tenant directory", "error", err)
			os.Exit(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.Ping(ctx); err != nil {
			slog.Error("failed to reach redis", "error", err)
			os.Exit(1)
		}
		slog.Info("using redis tenant directory", "key_prefix", d.KeyPrefix)
		return d, closer(d)

	case config.DirectoryBolt:
		d, err := bolt.Open(cfg.Directory.BoltPath, cfg.Directory.BoltBucket)
		if err != nil {
			slog.Error("failed to open bolt tenant directory", "error", err, "path", cfg.Directory.BoltPath)
			os.Exit(1)
		}
		slog.Info("using bolt tenant directory", "path", cfg.Directory.BoltPath)
		return d, closer(d)

	case config.DirectoryDynamoDB:
		d, err := dynamo.New(context.Background(), dynamo.Config{
			Table:           cfg.Directory.DynamoDB.Table,
			Region:          cfg.Directory.DynamoDB.Region,
			AccessKeyID:     cfg.Directory.DynamoDB.AccessKeyID,
			SecretAccessKey: cfg.Directory.DynamoDB.SecretAccessKey,
			Endpoint:        cfg.Directory.DynamoDB.Endpoint,
		})
		if err != nil {
			slog.Error("failed to create dynamodb tenant directory", "error", err)
			os.Exit(1)
		}
		slog.Info("using dynamodb tenant directory",
			"table", cfg.Directory.DynamoDB.Table,
			"region", cfg.Directory.DynamoDB.Region,
		)
		return d, noop

	default:
		slog.Error("unknown directory backend", "directory", cfg.Directory.Backend)
		os.Exit(1)
		return nil, noop
	}
}

func closer(c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close tenant directory", "error", err)
		}
	}
}

// selectDelivery chooses the email delivery backend based on configuration.
func selectDelivery(cfg *config.Config) delivery.Client {
	switch cfg.Delivery.Backend {
	case config.DeliveryPlunk:
		baseURL := cfg.Delivery.PlunkAPIURL
		if baseURL == "" {
			baseURL = plunk.DefaultBaseURL
		}
		slog.Info("using plunk delivery", "api_url", baseURL, "timeout", cfg.Delivery.Timeout)
		return plunk.New(plunk.Config{
			BaseURL: baseURL,
			Timeout: cfg.Delivery.Timeout,
		})

	case config.DeliveryStdout:
		slog.Info("using stdout delivery")
		return stdout.New()

	default:
		slog.Error("unknown delivery backend", "delivery", cfg.Delivery.Backend)
		os.Exit(1)
		return nil
	}
}
