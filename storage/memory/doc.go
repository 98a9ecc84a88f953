// Package memory provides an in-memory implementation of the storage
// interfaces.
//
// This package implements UserStore, AppStore, SessionStore, and
// LoginSessionStore using Go's built-in maps with mutex protection for thread
// safety. It is suitable for development, testing, and single-instance
// deployments where persistence is not required.
//
// Features:
//   - Thread-safe operations using sync.RWMutex
//   - Automatic cleanup of expired refresh and login sessions
//   - Configurable cleanup intervals
//   - Injectable clock for deterministic expiry tests
//
// For deployments requiring persistence, use the storage/sqlite package
// instead.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Close()
//
//	server, _ := gatehouse.NewServer(store, config, logger)
package memory
