// Package storage is the result sink for scanned resources.
//
// Drivers:
//   - "memory": process-local map, the default
//   - "file": JSON snapshot plus an append-only JSON Lines journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// Writes are upserts keyed by (target, resource id), so a rescan overwrites
// what the previous scan stored.
package storage
