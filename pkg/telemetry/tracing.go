package telemetry

import (
	"context"
	"errors"
	"strings"

	"github.com/haasonsaas/areuok/pkg/config"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var ErrInvalidEndpoint = errors.New("invalid OTLP endpoint")

// Setup installs a global tracer provider. Spans go to the OTLP endpoint when
// one is configured and to logger when LogSpans is set; with neither, spans
// are sampled but dropped. Callers shut the returned provider down on exit.
func Setup(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string, logger zerolog.Logger) (*sdktrace.TracerProvider, error) {
	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	)
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(res),
	}

	if cfg.Endpoint != "" {
		exporter, err := newOTLPExporter(ctx, cfg.Endpoint, cfg.Insecure)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	if cfg.LogSpans {
		exporter := newLoggingExporter(logger.With().Str("component", "otel").Logger())
		opts = append(opts, sdktrace.WithSyncer(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)
	return provider, nil
}

func newOTLPExporter(ctx context.Context, endpoint string, insecure bool) (sdktrace.SpanExporter, error) {
	// otlptracehttp wants host:port; a scheme decides transport security.
	ep := endpoint
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		ep = strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		ep = strings.TrimPrefix(endpoint, "http://")
		insecure = true
	}
	ep = strings.TrimSuffix(ep, "/")
	if ep == "" {
		return nil, ErrInvalidEndpoint
	}
	clientOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(ep)}
	if insecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, clientOpts...)
}
