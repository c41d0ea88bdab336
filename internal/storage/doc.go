// Package storage persists scheduled items, content and notifier dedup state.
//
// Drivers:
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "memory": process-local maps, for tests and dry runs
//
// Both drivers implement schedule.Store and content.Repository with
// status-guarded transitions.
package storage
