// Package driven lists what the sync engine needs from the outside:
// somewhere to put the database file, somewhere to keep its own state
// and secrets, and a way to touch the live file safely.
//
// Backends (Backend, BackendFactory, AuthRefresher) move the file to
// and from a provider. SyncStateStore, OutcomeStore and CredentialsStore
// persist engine state; ConfigStore holds settings. LiveFileGuard and
// DatabaseInspector coordinate with the application that owns the live
// database. TokenProvider, OAuthClient and OAuthCallback cover sign-in.
//
// OutcomeStore and DatabaseInspector may be nil: without them only the
// latest outcome is kept and files are copied without checkpoint or
// integrity checks.
//
// Only domain may be imported from here.
package driven
