package instrumentation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestProvider(t *testing.T, config Config) *Provider {
	t.Helper()
	if config.ServiceName == "" {
		config.ServiceName = "studygroup-test"
	}
	provider, err := NewProvider(context.Background(), config)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider
}

func TestNewProvider_Disabled(t *testing.T) {
	provider := newTestProvider(t, Config{Enabled: false})

	if provider.Enabled() {
		t.Error("expected provider to be disabled")
	}
	if provider.Metrics() == nil {
		t.Fatal("expected no-op metrics when disabled")
	}
	if provider.Handler() != nil {
		t.Error("expected no metrics handler when disabled")
	}
	if provider.Tracer("test") == nil {
		t.Error("expected no-op tracer when disabled")
	}

	// Recording on the no-op recorder must not panic.
	provider.Metrics().RecordMeetingCreated(context.Background(), StatusSuccess, time.Second)
}

func TestNewProvider_Exporters(t *testing.T) {
	tests := []struct {
		name        string
		metrics     string
		tracing     string
		endpoint    string
		wantHandler bool
		wantErr     bool
	}{
		{name: "prometheus", metrics: ExporterPrometheus, tracing: ExporterNone, wantHandler: true},
		{name: "defaults", wantHandler: true},
		{name: "stdout", metrics: ExporterStdout, tracing: ExporterStdout},
		{name: "unknown metrics exporter", metrics: "statsd", tracing: ExporterNone, wantErr: true},
		{name: "unknown tracing exporter", metrics: ExporterPrometheus, tracing: "jaeger", wantErr: true},
		{name: "otlp tracing without endpoint", metrics: ExporterPrometheus, tracing: ExporterOTLP, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Config{
				ServiceName:       "studygroup-test",
				ServiceVersion:    "1.0.0",
				Enabled:           true,
				MetricsExporter:   tt.metrics,
				TracingExporter:   tt.tracing,
				OTLPEndpoint:      tt.endpoint,
				TraceSamplingRate: 1,
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			provider, err := NewProvider(ctx, config)
			if tt.wantErr {
				if err == nil {
					_ = provider.Shutdown(ctx)
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProvider() error = %v", err)
			}
			defer func() { _ = provider.Shutdown(ctx) }()

			if !provider.Enabled() {
				t.Error("expected provider to be enabled")
			}
			if got := provider.Handler() != nil; got != tt.wantHandler {
				t.Errorf("Handler() present = %v, want %v", got, tt.wantHandler)
			}
		})
	}
}

func TestNewProvider_InvalidSamplingRate(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, TraceSamplingRate: 1.5})
	if err == nil {
		t.Error("expected error for out of range sampling rate")
	}
}

func TestProvider_HandlerServesOwnRegistry(t *testing.T) {
	first := newTestProvider(t, Config{Enabled: true, MetricsExporter: ExporterPrometheus})
	second := newTestProvider(t, Config{Enabled: true, MetricsExporter: ExporterPrometheus})

	first.Metrics().RecordMeetingCreated(context.Background(), StatusSuccess, 150*time.Millisecond)

	scrape := func(p *Provider) string {
		rec := httptest.NewRecorder()
		p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("scrape status = %d", rec.Code)
		}
		body, _ := io.ReadAll(rec.Body)
		return string(body)
	}

	if body := scrape(first); !strings.Contains(body, "meetings_created_total") {
		t.Errorf("expected meetings_created_total in first registry, got:\n%s", body)
	}
	if body := scrape(second); strings.Contains(body, "meetings_created_total{") {
		t.Error("expected second registry to be independent of the first")
	}
	if body := scrape(second); !strings.Contains(body, "go_goroutines") {
		t.Error("expected Go runtime collector in registry")
	}
}

func TestProvider_AuditLogger(t *testing.T) {
	provider := newTestProvider(t, Config{
		Enabled:      false,
		AuditLogging: AuditLoggingConfig{Enabled: true, IncludePII: true},
	})

	al := provider.AuditLogger(nil)
	if al == nil {
		t.Fatal("expected audit logger to be non-nil")
	}
	if !al.enabled || !al.includePII {
		t.Errorf("expected audit config to be applied, got enabled=%v includePII=%v", al.enabled, al.includePII)
	}
}
