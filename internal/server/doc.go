// Package server is the JSON HTTP surface of the study group service.
//
// # Routes
//
//	POST /register, /login           accounts (rate limited per client IP)
//	POST /logout                     clears the session cookie
//	GET  /dashboard                  the user and their meetings
//	GET  /create-meeting             form description
//	POST /create-meeting             create a meeting (201, or 302 to consent)
//	GET  /join-meeting/{id}          302 to the stored Meet link
//	GET  /admin/users                all users, admin only
//	GET  /authorize, /oauth2callback calendar consent round trip
//	GET  /healthz, /readyz, /healthz/detailed
//
// Errors are returned as {"error": code, "message": text}. Every request is
// traced, counted and logged with its path collapsed to the route pattern.
//
// MetricsServer serves Prometheus metrics on a separate listener.
package server
