// Package storage keeps a history of share attempts.
//
// Drivers:
//   - "file": JSON Lines file, compacted to the most recent records
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
//
// An empty driver or "none" disables history; Open then returns a nil Store.
package storage
