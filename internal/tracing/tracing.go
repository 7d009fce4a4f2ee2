// Package tracing configures OpenTelemetry tracing with a Jaeger agent
// exporter.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultAgentPort is the Jaeger agent's compact thrift UDP port.
const DefaultAgentPort = "6831"

// Config holds the tracing settings.
type Config struct {
	// AgentHost is the Jaeger agent host. Tracing is disabled when empty.
	AgentHost string
	AgentPort string

	ServiceName string
}

// ShutdownFunc flushes pending spans and releases the exporter.
type ShutdownFunc func(ctx context.Context) error

// Setup returns the tracer used by SMTP sessions. Without an agent host it
// returns a no-op tracer.
func Setup(cfg Config) (trace.Tracer, ShutdownFunc, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "smtp-gateway"
	}
	if cfg.AgentHost == "" {
		return noop.NewTracerProvider().Tracer(cfg.ServiceName), func(context.Context) error { return nil }, nil
	}
	if cfg.AgentPort == "" {
		cfg.AgentPort = DefaultAgentPort
	}

	// Spans are sent to the agent over UDP.
	exp, err := jaeger.New(jaeger.WithAgentEndpoint(
		jaeger.WithAgentHost(cfg.AgentHost),
		jaeger.WithAgentPort(cfg.AgentPort),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)

	return tp.Tracer(cfg.ServiceName), tp.Shutdown, nil
}
