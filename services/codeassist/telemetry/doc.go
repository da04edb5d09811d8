// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry configures OpenTelemetry tracing and metrics for the
// code assistant.
//
// Components use the OTel API directly (otel.Tracer, otel.Meter). Init
// installs the providers; until it runs those calls are no-ops.
//
// # Exporters
//
// Traces go to an OTLP gRPC collector or stdout. Metrics go to the default
// Prometheus registry, served by MetricsHandler, or to stdout. Counters
// registered with promauto by other packages share that registry.
//
// # Environment Variables
//
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default: none)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: prometheus)
//   - CODEASSIST_ENV: environment name (default: development)
package telemetry
