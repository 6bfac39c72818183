// Package handle implements the process-wide handle tables that back the
// execution protocol.
//
// Callers never hold pointers to connection or execution state. They hold
// an ID, an opaque positive integer issued by a Table, and every operation
// resolves it again. IDs embed a generation counter so that an ID kept
// after its terminal operation (close, end) is detected as stale rather
// than silently resolving to whatever occupies the recycled slot.
package handle
