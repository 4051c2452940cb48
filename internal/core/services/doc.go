// Package services implements the driving port interfaces.
// Services contain the sync engine's business logic: deciding a
// direction, moving the database file safely, scheduling attempts and
// managing settings and credentials. They call driven ports (adapters)
// for everything that touches a remote, a store or the live file.
//
// Services are pure Go with no CGO.
package services
