package observability

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config - настройки трассировки.
type Config struct {
	ServiceName string
	Version     string
	// Endpoint - host:port OTLP/HTTP коллектора. Пусто - трассировка выключена.
	Endpoint string
	Insecure bool
	// Stdout печатает спаны в stdout вместо коллектора (локальная отладка).
	Stdout      bool
	SampleRatio float64
}

// ShutdownFunc сбрасывает накопленные спаны.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// InitTracing настраивает глобальный TracerProvider и W3C-пропагацию.
// Без endpoint и stdout остаётся no-op провайдер по умолчанию.
func InitTracing(ctx context.Context, cfg Config, logger *log.Entry) (ShutdownFunc, error) {
	if logger == nil {
		logger = log.WithField("component", "observability")
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if cfg.Endpoint == "" && !cfg.Stdout {
		logger.Debug("tracing disabled: no exporter configured")
		return noopShutdown, nil
	}

	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(provider)

	logger.WithFields(log.Fields{
		"endpoint": cfg.Endpoint,
		"stdout":   cfg.Stdout,
		"ratio":    ratio,
	}).Info("tracing enabled")
	return provider.Shutdown, nil
}

func newExporter(ctx context.Context, cfg Config, logger *log.Entry) (sdktrace.SpanExporter, error) {
	if cfg.Endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err == nil {
			return exporter, nil
		}
		logger.WithError(err).Warn("failed to initialize OTLP trace exporter, falling back to stdout")
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
	if err != nil {
		return nil, fmt.Errorf("init stdout trace exporter: %w", err)
	}
	return exporter, nil
}
