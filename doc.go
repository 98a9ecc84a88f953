// Package gatehouse implements an OAuth2-style identity provider: the
// authorization code and refresh token grants, a userinfo resource, local
// password and bot-bridged logins, and the consent flow in front of it all.
//
// Server is the engine; it decides grants and owns the signing codecs.
// Handler adapts it to HTTP: routing, cookies, rate limiting, and the consent
// and login views. Persistence sits behind the storage interfaces with
// in-memory and SQLite backends, and the bridge package lets the companion
// chat bot assert external identities.
package gatehouse
