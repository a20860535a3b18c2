package instrumentation

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	for _, key := range []string{"OTEL_SERVICE_NAME", "INSTRUMENTATION_ENABLED", "METRICS_EXPORTER", "TRACING_EXPORTER", "AUDIT_LOGGING_INCLUDE_PII"} {
		t.Setenv(key, "")
	}

	config := DefaultConfig()

	if config.ServiceName != "studygroup" {
		t.Errorf("expected ServiceName 'studygroup', got %q", config.ServiceName)
	}
	if !config.Enabled {
		t.Error("expected Enabled to be true by default")
	}
	if config.MetricsExporter != ExporterPrometheus {
		t.Errorf("expected MetricsExporter %q, got %q", ExporterPrometheus, config.MetricsExporter)
	}
	if config.TracingExporter != ExporterNone {
		t.Errorf("expected TracingExporter %q, got %q", ExporterNone, config.TracingExporter)
	}
	if config.TraceSamplingRate != 0.1 {
		t.Errorf("expected TraceSamplingRate 0.1, got %f", config.TraceSamplingRate)
	}
	if !config.AuditLogging.Enabled || config.AuditLogging.IncludePII {
		t.Errorf("expected audit logging enabled without PII, got %+v", config.AuditLogging)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestDefaultConfig_FromEnv(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "studygroup-staging")
	t.Setenv("INSTRUMENTATION_ENABLED", "false")
	t.Setenv("METRICS_EXPORTER", "stdout")
	t.Setenv("TRACING_EXPORTER", "stdout")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.5")
	t.Setenv("AUDIT_LOGGING_INCLUDE_PII", "true")

	config := DefaultConfig()

	if config.ServiceName != "studygroup-staging" {
		t.Errorf("expected ServiceName 'studygroup-staging', got %q", config.ServiceName)
	}
	if config.Enabled {
		t.Error("expected Enabled to be false")
	}
	if config.MetricsExporter != ExporterStdout || config.TracingExporter != ExporterStdout {
		t.Errorf("expected stdout exporters, got %q/%q", config.MetricsExporter, config.TracingExporter)
	}
	if config.TraceSamplingRate != 0.5 {
		t.Errorf("expected TraceSamplingRate 0.5, got %f", config.TraceSamplingRate)
	}
	if !config.AuditLogging.IncludePII {
		t.Error("expected IncludePII to be true")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "prometheus without tracing",
			config: Config{MetricsExporter: ExporterPrometheus, TracingExporter: ExporterNone, TraceSamplingRate: 0.1},
		},
		{
			name:   "empty exporters",
			config: Config{},
		},
		{
			name:   "otlp with endpoint",
			config: Config{MetricsExporter: ExporterOTLP, TracingExporter: ExporterOTLP, OTLPEndpoint: "localhost:4318", TraceSamplingRate: 1},
		},
		{
			name:    "sampling rate below zero",
			config:  Config{TraceSamplingRate: -0.1},
			wantErr: true,
		},
		{
			name:    "sampling rate above one",
			config:  Config{TraceSamplingRate: 1.1},
			wantErr: true,
		},
		{
			name:    "unknown metrics exporter",
			config:  Config{MetricsExporter: "statsd"},
			wantErr: true,
		},
		{
			name:    "unknown tracing exporter",
			config:  Config{TracingExporter: "jaeger"},
			wantErr: true,
		},
		{
			name:    "otlp tracing without endpoint",
			config:  Config{TracingExporter: ExporterOTLP},
			wantErr: true,
		},
		{
			name:    "otlp metrics without endpoint",
			config:  Config{MetricsExporter: ExporterOTLP},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigFromEnv_FallsBackOnBadValues(t *testing.T) {
	env := map[string]string{
		"INSTRUMENTATION_ENABLED": "maybe",
		"OTEL_TRACES_SAMPLER_ARG": "x",
		"DEPLOYMENT_ENVIRONMENT":  "staging",
		"METRICS_EXPORTER":        "",
	}
	config := ConfigFromEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})

	if !config.Enabled {
		t.Error("expected unparseable bool to keep default true")
	}
	if config.TraceSamplingRate != 0.1 {
		t.Errorf("expected unparseable float to keep default 0.1, got %f", config.TraceSamplingRate)
	}
	if config.MetricsExporter != ExporterPrometheus {
		t.Errorf("expected empty value to keep default exporter, got %q", config.MetricsExporter)
	}
	if config.DeploymentEnvironment != "staging" {
		t.Errorf("expected DeploymentEnvironment 'staging', got %q", config.DeploymentEnvironment)
	}
}
