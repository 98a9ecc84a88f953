// Package storage provides interfaces and types for identity persistence.
//
// The storage package defines the core interfaces used throughout gatehouse:
//   - UserStore: identity records, including bridged external identities
//   - AppStore: registered client applications
//   - SessionStore: refresh sessions keyed by opaque bearer token
//   - LoginSessionStore: first-party cookie-backed login sessions
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development and testing
//   - storage/sqlite: SQLite-backed storage for production
package storage
