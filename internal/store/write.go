package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const metaClientID = "client_id"

// newClientID generates client IDs. Replaced in tests.
var newClientID = func() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Put inserts or replaces the value stored under id.
// The seq stamps the write for deterministic ordering.
func (s *Store) Put(ctx context.Context, id string, value []byte, seq int64) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO objects (id, value, seq)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET value = excluded.value, seq = excluded.seq
	`, id, value, seq)
	if err != nil {
		return fmt.Errorf("put %q: %w", id, err)
	}
	return nil
}

// Del removes the object stored under id.
// Returns false if no such object existed.
func (s *Store) Del(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("del %q: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("del %q: rows affected: %w", id, err)
	}
	return n > 0, nil
}

// PutBundle replaces the store's code bundle and returns its content hash
// (lowercase hex SHA-256).
func (s *Store) PutBundle(ctx context.Context, code []byte, seq int64) (string, error) {
	if code == nil {
		code = []byte{}
	}
	sum := sha256.Sum256(code)
	hash := hex.EncodeToString(sum[:])

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bundle (slot, code, hash, seq)
		VALUES (0, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET code = excluded.code, hash = excluded.hash, seq = excluded.seq
	`, code, hash, seq)
	if err != nil {
		return "", fmt.Errorf("put bundle: %w", err)
	}
	return hash, nil
}

// ClientID returns the store's client ID, creating and persisting one on
// first use. The ID is local to this store and never synced.
func (s *Store) ClientID(ctx context.Context) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("client id: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var id string
	err = tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaClientID).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("client id: select: %w", err)
	}

	id = newClientID()
	if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, metaClientID, id); err != nil {
		return "", fmt.Errorf("client id: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("client id: commit: %w", err)
	}
	return id, nil
}
