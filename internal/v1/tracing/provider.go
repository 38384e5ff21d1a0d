// Package tracing wires the OpenTelemetry trace pipeline to an OTLP
// collector over gRPC.
package tracing

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// collectorCredentials picks the transport credentials for the collector
// connection. Plaintext requires OTEL_EXPORTER_INSECURE=true; otherwise
// TLS 1.2+ is used, with certificate verification optionally disabled via
// OTEL_INSECURE_SKIP_VERIFY=true for local collectors.
func collectorCredentials() credentials.TransportCredentials {
	if os.Getenv("OTEL_EXPORTER_INSECURE") == "true" {
		return insecure.NewCredentials()
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if os.Getenv("OTEL_INSECURE_SKIP_VERIFY") == "true" {
		tlsConfig.InsecureSkipVerify = true
	}
	return credentials.NewTLS(tlsConfig)
}

// InitTracer initializes the OpenTelemetry tracer provider and installs it
// globally. Callers must invoke Shutdown on the returned provider during
// teardown to flush buffered spans.
func InitTracer(ctx context.Context, serviceName string, collectorAddr string) (*sdktrace.TracerProvider, error) {
	conn, err := grpc.NewClient(collectorAddr, grpc.WithTransportCredentials(collectorCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client to collector: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	// W3C TraceContext is the interoperable default
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}
