// Package google holds the server's single Google Calendar credential.
//
// The CredentialStore keeps one OAuth2 token for the whole deployment,
// refreshes it when it expires and completes the consent round trip. Tokens
// are persisted by a TokenStore, by default a JSON file that can be
// encrypted at rest with AES-256-GCM.
package google
