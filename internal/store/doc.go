// Package store provides SQLite-backed durable storage for object stores
// opened through the execution protocol.
//
// A store holds:
//   - Objects: JSON values keyed by id
//   - Bundle: a single code bundle with its content hash
//   - Meta: per-store settings such as the client ID
//
// # Ordering
//
// Every write is stamped with a seq INTEGER taken from the caller's logical
// clock. Scans order by id ASC COLLATE BINARY so that results are identical
// across reopen.
//
// # Connections
//
// A Store holds exactly one SQLite connection. Writes are serialized by it
// and an in-memory store lives as long as the Store. File stores run in
// WAL mode with a 5s busy timeout. The schema version is kept in
// user_version and upgraded on Open.
package store
