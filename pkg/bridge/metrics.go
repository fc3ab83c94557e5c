// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for bridge calls.
var (
	tracer = otel.Tracer("nyschooldata.bridge")
	meter  = otel.Meter("nyschooldata.bridge")
)

// Metrics for bridge calls.
var (
	callLatency   metric.Float64Histogram
	callTotal     metric.Int64Counter
	warningsTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		callLatency, err = meter.Float64Histogram(
			"bridge_call_duration_seconds",
			metric.WithDescription("Duration of R bridge calls including process startup"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		callTotal, err = meter.Int64Counter(
			"bridge_calls_total",
			metric.WithDescription("Total number of R bridge calls by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		warningsTotal, err = meter.Int64Counter(
			"bridge_r_warnings_total",
			metric.WithDescription("Total number of R warnings surfaced by bridge calls"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startCallSpan creates a span for one bridge call.
func startCallSpan(ctx context.Context, pkg, function, callID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "bridge.Call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("bridge.package", pkg),
			attribute.String("bridge.function", function),
			attribute.String("bridge.call_id", callID),
		),
	)
}

// outcome classifies a call result for metric labels.
func outcome(err error) string {
	var ce *CallError
	var re *RuntimeError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ce):
		return "r_error"
	case errors.As(err, &re):
		return "runtime_error"
	default:
		return "error"
	}
}

// recordCall sets span status and records metrics for a finished call.
func recordCall(ctx context.Context, span trace.Span, function string, d time.Duration, h *Handle, err error) {
	result := outcome(err)
	span.SetAttributes(attribute.String("bridge.outcome", result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(
			attribute.String("bridge.kind", string(h.Kind)),
			attribute.Int("bridge.warnings", len(h.Warnings)),
		)
		span.SetStatus(codes.Ok, "")
	}

	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("function", function),
		attribute.String("outcome", result),
	)
	callLatency.Record(ctx, d.Seconds(), attrs)
	callTotal.Add(ctx, 1, attrs)
	if h != nil && len(h.Warnings) > 0 {
		warningsTotal.Add(ctx, int64(len(h.Warnings)), metric.WithAttributes(attribute.String("function", function)))
	}
}
