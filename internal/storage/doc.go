// Package storage persists the routine collection.
//
// The store is the source of truth across restarts: the registry reads it
// fully at startup and rewrites the full collection on every mutation.
// Armed-timer state is deliberately not persisted; the sweep rebuilds it.
package storage
