// Package driving holds the operations the outside world invokes on the
// sync engine: the CLI, the daemon loop and anything embedding nestsync
// talk to core only through these interfaces.
//
//   - SyncEngine: lifecycle hooks, manual pull and push, status and history
//   - SettingsService: read, validate and change the sync configuration
//   - CredentialsService: store and remove provider secrets
//   - Authorizer: interactive OAuth consent for drive_oauth
//
// The services package implements them.
package driving
