// Package sqlite stores the engine's own state in a SQLite database.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that
// requires no CGO. One database file backs three stores:
//
//   - SyncStateStore: the last agreed-upon fingerprints per live database
//   - CredentialsStore: provider secrets, keyed by credentials ref
//   - OutcomeStore: recent sync attempts for the history command
//
// # Schema
//
// The schema is managed through versioned migrations in the migrations/
// directory. Each migration is a pair of .up.sql and .down.sql files.
//
// # Data Location
//
// By default, the database is stored at ~/.nestsync/data/state.db. It is
// never the synced database itself.
package sqlite
