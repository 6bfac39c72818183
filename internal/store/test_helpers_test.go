package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore creates a new file-backed store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustPut writes an object or fails the test.
func mustPut(t *testing.T, s *Store, id, value string, seq int64) {
	t.Helper()
	if err := s.Put(context.Background(), id, []byte(value), seq); err != nil {
		t.Fatalf("Put(%q) failed: %v", id, err)
	}
}

// fakeClientID pins generated client IDs for the duration of a test.
func fakeClientID(t *testing.T, id string) {
	t.Helper()
	orig := newClientID
	newClientID = func() string { return id }
	t.Cleanup(func() { newClientID = orig })
}
