// Package session implements cookie sessions and the authentication gate.
//
// A session is an HS256-signed JWT stored in an HttpOnly cookie. It carries
// the signed-in user's id and, while a Google consent round trip is in
// flight, the OAuth state that the callback must echo back.
package session
