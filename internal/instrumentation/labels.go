package instrumentation

import "time"

// Constants for metric label values.
const (
	// Status values
	StatusSuccess = "success"
	StatusError   = "error"
	StatusUnknown = "unknown"

	// OAuth result values
	OAuthResultSuccess = "success"
	OAuthResultFailure = "failure"
	OAuthResultExpired = "expired"

	// Meeting creation outcome when the user must first grant calendar access
	MeetingStatusRedirect = "redirect"

	// Account auth kinds and results
	AuthKindRegister  = "register"
	AuthKindLogin     = "login"
	AuthResultSuccess = "success"
	AuthResultFailure = "failure"
	AuthResultLimited = "rate_limited"

	// Google service names
	ServiceCalendar = "calendar"
	ServiceOAuth    = "oauth2"

	// Store backends
	BackendJSON   = "json"
	BackendSQLite = "sqlite"

	// Exporter types
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"

	// Metric recording intervals
	DefaultMetricInterval = 10 * time.Second
)
