// Package instrumentation provides OpenTelemetry metrics, tracing and audit
// logging for the studygroup server.
//
// # Metrics
//
// HTTP:
//   - http_requests_total, http_request_duration_seconds (method, path pattern, status)
//   - account_auth_total (register/login, result)
//
// Google APIs:
//   - google_api_operations_total, google_api_operation_duration_seconds (service, operation, status)
//   - oauth_auth_total, oauth_token_refresh_total (result)
//
// Meetings and storage:
//   - meetings_created_total, meeting_creation_duration_seconds (status)
//   - meeting_joins_total (status)
//   - store_operations_total, store_operation_duration_seconds (backend, operation, status)
//
// # Tracing
//
// Spans are created for meeting creation (meeting.create) and Google API
// calls (google.<service>.<operation>).
//
// # Configuration
//
// Instrumentation is configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: prometheus, otlp or stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout or none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: studygroup)
//   - DEPLOYMENT_ENVIRONMENT: deployment.environment resource attribute
//   - AUDIT_LOGGING_ENABLED, AUDIT_LOGGING_INCLUDE_PII
//
// With the Prometheus exporter every Provider owns its own registry (plus the
// Go runtime and process collectors); Provider.Handler serves it.
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	metrics := provider.Metrics()
//	metrics.RecordMeetingCreated(ctx, instrumentation.StatusSuccess, time.Since(start))
package instrumentation
