// Package file provides the TOML-backed configuration store.
//
// Keys use dot notation ("sync.interval") and are written as nested TOML
// tables, so the file stays readable and hand-editable:
//
//	[sync]
//	provider = "sftp"
//	interval = "5m0s"
package file
