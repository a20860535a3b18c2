package instrumentation

import "strings"

// Cardinality management helpers for metrics.
//
// Request paths carry meeting ids, so they must be collapsed to their route
// pattern before being used as a metric label.

// routePrefixes maps path prefixes that end in a variable segment to the
// pattern reported in metrics.
var routePrefixes = map[string]string{
	"/join-meeting/": "/join-meeting/{id}",
}

// knownRoutes are reported verbatim.
var knownRoutes = map[string]bool{
	"/":                 true,
	"/register":         true,
	"/login":            true,
	"/logout":           true,
	"/dashboard":        true,
	"/create-meeting":   true,
	"/admin/users":      true,
	"/authorize":        true,
	"/oauth2callback":   true,
	"/healthz":          true,
	"/readyz":           true,
	"/healthz/detailed": true,
}

// NormalizePath maps a request path to a bounded set of label values.
//
// Example:
//
//	NormalizePath("/join-meeting/6f1c")  // "/join-meeting/{id}"
//	NormalizePath("/dashboard")          // "/dashboard"
//	NormalizePath("/wp-admin")           // "other"
func NormalizePath(path string) string {
	if knownRoutes[path] {
		return path
	}
	for prefix, pattern := range routePrefixes {
		if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
			return pattern
		}
	}
	return "other"
}

// Common operation types for Google API and store metrics.
// Status, OAuth, and Service constants are defined in labels.go.
const (
	OperationInsert   = "insert"
	OperationDelete   = "delete"
	OperationExchange = "exchange"
	OperationRefresh  = "refresh"

	OperationCreateUser   = "create_user"
	OperationVerifyUser   = "verify_user"
	OperationFindUser     = "find_user"
	OperationListUsers    = "list_users"
	OperationAppend       = "append_meeting"
	OperationFindMeeting  = "find_meeting"
	OperationUserMeetings = "user_meetings"
)
