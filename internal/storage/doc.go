// Package storage keeps the delivery journal: one entry per delivery
// outcome (delivered, queued, filtered, skipped, retried, resolved, dead).
//
// Drivers:
//   - "file":   JSON Lines appended to a single file
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// The journal is an operator aid. Losing it never affects delivery; callers
// log journal errors and carry on.
package storage
