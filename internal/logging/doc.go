// Package logging provides structured logging utilities for the studygroup service.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "meeting.create")
//	logger.Info("meeting created",
//	    logging.Status(logging.StatusSuccess))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("login", logging.UserHash(username))
//
// # Security Considerations
//
//   - Usernames are hashed to prevent leaking account names while allowing correlation
//   - Passwords and OAuth tokens are never logged directly
package logging
