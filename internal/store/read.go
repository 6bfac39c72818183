package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Item is one object returned by Scan.
type Item struct {
	ID    string
	Value []byte
	Seq   int64
}

// ScanOptions narrows a Scan.
type ScanOptions struct {
	// Prefix restricts results to ids starting with Prefix.
	Prefix string
	// Start skips ids that sort before Start.
	Start string
	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// Get returns the value stored under id.
// Returns (nil, false, nil) if no such object exists.
func (s *Store) Get(ctx context.Context, id string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM objects WHERE id = ?`, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", id, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

// Has reports whether an object is stored under id.
func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("has %q: %w", id, err)
	}
	return count > 0, nil
}

// Scan returns objects ordered by id ASC COLLATE BINARY.
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) Scan(ctx context.Context, opts ScanOptions) ([]Item, error) {
	limit := -1 // SQLite: negative LIMIT means unbounded
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, value, seq
		FROM objects
		WHERE substr(id, 1, length(?)) = ? AND id >= ?
		ORDER BY id COLLATE BINARY ASC
		LIMIT ?
	`, opts.Prefix, opts.Prefix, opts.Start, limit)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Value, &it.Seq); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objects: %w", err)
	}
	return items, nil
}

// GetBundle returns the store's code bundle and its hash.
// Returns (nil, "", false, nil) if no bundle has been stored.
func (s *Store) GetBundle(ctx context.Context) (code []byte, hash string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT code, hash FROM bundle WHERE slot = 0`).Scan(&code, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("get bundle: %w", err)
	}
	return code, hash, true, nil
}

// MaxSeq returns the highest seq stamped on any write, or 0 for an empty
// store. Used to resume a logical clock after reopen.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(
			COALESCE((SELECT MAX(seq) FROM objects), 0),
			COALESCE((SELECT MAX(seq) FROM bundle), 0)
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq, nil
}
