// Package domain holds the vocabulary of the nestsync engine: sync
// configuration and providers, file fingerprints, the persisted sync
// state, attempt outcomes, scheduler phases, credentials and the error
// kinds every layer classifies failures into.
//
// It imports only the standard library; every other package may import
// it.
package domain
