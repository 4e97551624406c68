// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tau-daemon"

// InitTracing installs a process-wide TracerProvider carrying the
// given service name/version as resource attributes, and returns a
// shutdown func to flush and release it on daemon exit.
//
// No span exporter is wired here: spans are recorded in-process
// (sampled, attributed, timed) but not shipped anywhere until an
// exporter is attached to the provider. That keeps span creation
// throughout the daemon meaningful and ready to light up the moment a
// collector endpoint is configured, without taking a hard dependency
// on one now.
func InitTracing(serviceName, serviceVersion string) (shutdown func(context.Context) error, err error) {
	res := sdkresource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", serviceVersion),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the daemon's package-scoped tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
