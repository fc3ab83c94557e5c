// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires the OpenTelemetry SDK for the nyschooldata CLI.
//
// The library packages only use otel.Tracer and otel.Meter; without Init
// those are no-ops. The CLI calls Init once at startup to pick exporters:
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
// Traces go to OTLP/gRPC or stdout. Metrics go to a Prometheus registry
// (which also gathers the client_golang process metrics) or stdout.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/nyschooldata/pkg/logging"
)

var (
	// ErrNilContext is returned when Init is called with a nil context.
	ErrNilContext = errors.New("telemetry: nil context")

	// ErrUnknownExporter is returned for an unrecognized exporter name.
	ErrUnknownExporter = errors.New("unknown exporter type")
)

// Exporter names.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
)

// Config controls telemetry behavior.
type Config struct {
	// ServiceName identifies this process in traces and metrics.
	ServiceName string

	// ServiceVersion is reported as service.version.
	ServiceVersion string

	// TraceExporter selects the trace exporter: "otlp", "stdout", or "none".
	TraceExporter string

	// MetricExporter selects the metric exporter: "prometheus", "stdout", or "none".
	MetricExporter string

	// OTLPEndpoint is the OTLP/gRPC receiver, host:port.
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP.
	OTLPInsecure bool

	// Writer receives stdout exporter output. Default: os.Stderr, so
	// command output on stdout stays machine-readable.
	Writer io.Writer
}

// DefaultConfig returns a configuration with every exporter disabled.
//
// Environment variables override defaults where applicable:
//   - OTEL_TRACES_EXPORTER: trace exporter type
//   - OTEL_METRICS_EXPORTER: metric exporter type
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint
func DefaultConfig() Config {
	return Config{
		ServiceName:    logging.DefaultService,
		ServiceVersion: "dev",
		TraceExporter:  getEnvOr("OTEL_TRACES_EXPORTER", ExporterNone),
		MetricExporter: getEnvOr("OTEL_METRICS_EXPORTER", ExporterNone),
		OTLPEndpoint:   getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   true,
	}
}

// Init installs global tracer and meter providers.
//
// Outputs:
//
//	shutdown - Flushes and stops every provider that was installed. Must be called.
//	error - ErrNilContext, ErrUnknownExporter, or an exporter construction error.
//
// Thread Safety: Call at process startup. A later call replaces the global
// providers; the earlier shutdown func still stops the old ones.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	// Exposition follows the latest Init only.
	promMu.Lock()
	promGatherer = nil
	promMu.Unlock()

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	var stop stack
	if enabled(cfg.TraceExporter) {
		build, ok := spanExporters[cfg.TraceExporter]
		if !ok {
			return nil, fmt.Errorf("traces: %w: %s", ErrUnknownExporter, cfg.TraceExporter)
		}
		exp, err := build(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("traces: %s exporter: %w", cfg.TraceExporter, err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		stop = append(stop, tp.Shutdown)
	}

	if enabled(cfg.MetricExporter) {
		build, ok := metricReaders[cfg.MetricExporter]
		if !ok {
			_ = stop.shutdown(ctx)
			return nil, fmt.Errorf("metrics: %w: %s", ErrUnknownExporter, cfg.MetricExporter)
		}
		reader, err := build(cfg)
		if err != nil {
			_ = stop.shutdown(ctx)
			return nil, fmt.Errorf("metrics: %s exporter: %w", cfg.MetricExporter, err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		otel.SetMeterProvider(mp)
		stop = append(stop, mp.Shutdown)
	}

	return stop.shutdown, nil
}

func enabled(name string) bool {
	return name != "" && name != ExporterNone
}

// stack holds provider shutdown funcs; shutdown runs them newest first.
type stack []func(context.Context) error

func (s stack) shutdown(ctx context.Context) error {
	var errs []error
	for i := len(s) - 1; i >= 0; i-- {
		errs = append(errs, s[i](ctx))
	}
	return errors.Join(errs...)
}

// spanExporters builds the span exporter for each TraceExporter name.
var spanExporters = map[string]func(context.Context, Config) (sdktrace.SpanExporter, error){
	ExporterOTLP: func(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	},
	ExporterStdout: func(_ context.Context, cfg Config) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(writerOr(cfg.Writer)), stdouttrace.WithPrettyPrint())
	},
}

// metricReaders builds the reader for each MetricExporter name.
var metricReaders = map[string]func(Config) (sdkmetric.Reader, error){
	ExporterPrometheus: prometheusReader,
	ExporterStdout: func(cfg Config) (sdkmetric.Reader, error) {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(writerOr(cfg.Writer)), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	},
}

// Prometheus state for MetricsHandler and WriteMetrics.
var (
	promMu       sync.RWMutex
	promGatherer prometheus.Gatherer
)

// prometheusReader registers on a fresh registry, so Init may run more than
// once per process. Gathering also includes the default registry, which
// holds the client_golang collectors for process runs and the Go runtime.
func prometheusReader(Config) (sdkmetric.Reader, error) {
	reg := prometheus.NewRegistry()
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	promMu.Lock()
	promGatherer = prometheus.Gatherers{reg, prometheus.DefaultGatherer}
	promMu.Unlock()
	return exp, nil
}

// MetricsHandler returns the /metrics handler, or nil unless the
// Prometheus exporter is active.
func MetricsHandler() http.Handler {
	promMu.RLock()
	defer promMu.RUnlock()
	if promGatherer == nil {
		return nil
	}
	return promhttp.HandlerFor(promGatherer, promhttp.HandlerOpts{})
}

// WriteMetrics writes the current Prometheus metrics in text exposition
// format. It is a no-op unless the Prometheus exporter is active.
func WriteMetrics(w io.Writer) error {
	promMu.RLock()
	g := promGatherer
	promMu.RUnlock()
	if g == nil {
		return nil
	}

	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// WithTrace returns logger annotated with the trace and span IDs of the
// span in ctx. Without a recording span it returns logger unchanged.
func WithTrace(ctx context.Context, logger *logging.Logger) *logging.Logger {
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		return logger
	}
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}

func writerOr(w io.Writer) io.Writer {
	if w == nil {
		return os.Stderr
	}
	return w
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
