// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package katautils

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// logSpanExporter writes a trace level entry for every finished span, so
// the spans can be followed in the log when no collector is reachable.
type logSpanExporter struct{}

var _ sdktrace.SpanExporter = logSpanExporter{}

func (logSpanExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		kataUtilsLogger.WithFields(map[string]interface{}{
			"span":     s.Name(),
			"trace-id": s.SpanContext().TraceID().String(),
			"duration": s.EndTime().Sub(s.StartTime()).String(),
		}).Trace("span finished")
	}
	return nil
}

func (logSpanExporter) Shutdown(context.Context) error { return nil }

var (
	providerLock sync.Mutex
	provider     *sdktrace.TracerProvider
)

func jaegerExporter(config *RuntimeConfig) (sdktrace.SpanExporter, error) {
	return jaeger.New(jaeger.WithCollectorEndpoint(
		jaeger.WithEndpoint(config.JaegerEndpoint),
		jaeger.WithUsername(config.JaegerUser),
		jaeger.WithPassword(config.JaegerPassword),
	))
}

// CreateTracer installs the global tracer provider. With tracing disabled
// in the configuration a no-op provider is installed. The returned
// function flushes and stops the provider.
func CreateTracer(name string, config *RuntimeConfig) (func(), error) {
	if !tracing {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func() {}, nil
	}

	exporter, err := jaegerExporter(config)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(logSpanExporter{}),
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", name),
			attribute.String("exporter", "jaeger"),
		)),
	)

	providerLock.Lock()
	provider = tp
	providerLock.Unlock()

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return shutdownTracer, nil
}

func shutdownTracer() {
	providerLock.Lock()
	tp := provider
	provider = nil
	providerLock.Unlock()

	if tp == nil {
		return
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		kataUtilsLogger.WithError(err).Warn("flushing trace spans")
	}
}

// StopTracing ends the span of ctx and reports the pending spans to the
// collector.
func StopTracing(ctx context.Context) {
	if !tracing {
		return
	}

	trace.SpanFromContext(ctx).End()
	shutdownTracer()
}
