// Package storage keeps an append-only history of capture runs.
//
// The history is an audit trail for operators. Nothing reads it back to make
// scheduling or retry decisions, so a restart always starts from a clean slate.
//
// Drivers:
//   - "file": JSON Lines next to the configured path prefix
//   - "sqlite": a SQLite database (modernc.org/sqlite, no cgo)
package storage
