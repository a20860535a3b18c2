package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type tokenFlag bool

func (t tokenFlag) HasToken() bool { return bool(t) }

func serve(t *testing.T, h http.Handler) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestLiveness(t *testing.T) {
	h := NewHealthChecker(nil, nil, nil, "")
	code, body := serve(t, h.LivenessHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, healthStatusOK, body["status"])
}

func TestReadiness(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("disk gone") })

	tests := []struct {
		name      string
		store     Pinger
		notReady  bool
		shutdown  bool
		wantCode  int
		wantStore string
	}{
		{name: "healthy", store: ok, wantCode: http.StatusOK, wantStore: healthStatusOK},
		{name: "store down", store: down, wantCode: http.StatusServiceUnavailable, wantStore: healthStatusUnreachable},
		{name: "marked not ready", store: ok, notReady: true, wantCode: http.StatusServiceUnavailable, wantStore: healthStatusOK},
		{name: "shutting down", store: ok, shutdown: true, wantCode: http.StatusServiceUnavailable, wantStore: healthStatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := NewServerContext(context.Background())
			if tt.shutdown {
				sc.Shutdown()
			}
			h := NewHealthChecker(sc, tt.store, tokenFlag(false), "")
			h.SetReady(!tt.notReady)

			code, body := serve(t, h.ReadinessHandler())
			assert.Equal(t, tt.wantCode, code)
			checks := body["checks"].(map[string]any)
			assert.Equal(t, tt.wantStore, checks["store"])
		})
	}
}

func TestReadiness_IgnoresMissingCalendarToken(t *testing.T) {
	h := NewHealthChecker(nil, pingFunc(func(context.Context) error { return nil }), tokenFlag(false), "")
	code, _ := serve(t, h.ReadinessHandler())
	assert.Equal(t, http.StatusOK, code)
}

func TestDetailedHealth(t *testing.T) {
	h := NewHealthChecker(nil, pingFunc(func(context.Context) error { return nil }), tokenFlag(true), "v1.2.3")

	code, body := serve(t, h.DetailedHealthHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "v1.2.3", body["version"])
	assert.Equal(t, calendarStatusAuthorized, body["calendar"])
	assert.NotEmpty(t, body["uptime"])

	sc := NewServerContext(context.Background())
	sc.Shutdown()
	h = NewHealthChecker(sc, nil, tokenFlag(false), "")
	code, body = serve(t, h.DetailedHealthHandler())
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, healthStatusShuttingDown, body["status"])
	assert.Equal(t, calendarStatusUnauthorized, body["calendar"])
}

func TestServerContext_Shutdown(t *testing.T) {
	sc := NewServerContext(context.Background())
	assert.False(t, sc.IsShutdown())

	sc.Shutdown()
	sc.Shutdown()
	assert.True(t, sc.IsShutdown())
	assert.ErrorIs(t, sc.Context().Err(), context.Canceled)
}
