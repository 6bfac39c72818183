package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rocicorp/diff-server/internal/command"
	"github.com/rocicorp/diff-server/internal/store"
)

// StoreFile is the database file created inside a store directory.
const StoreFile = "store.db"

// MemorySpec selects a private in-memory store.
const MemorySpec = "mem"

// ErrInvalidSpec is wrapped by every spec resolution error.
var ErrInvalidSpec = errors.New("invalid store spec")

// SQLite is the Backend that keeps each store in a SQLite database.
//
// Spec forms:
//   - "mem" or ":memory:": a private in-memory store, gone on Close
//   - a directory path: the store lives in <dir>/store.db; the directory
//     is created if missing. Relative paths are resolved against Root.
type SQLite struct {
	// Root anchors relative specs. Empty means the working directory.
	Root string
}

// Resolve maps a spec to the database path it opens.
func (b SQLite) Resolve(spec string) (string, error) {
	switch {
	case spec == "":
		return "", fmt.Errorf("%w: spec must be non-empty", ErrInvalidSpec)
	case strings.ContainsRune(spec, 0):
		return "", fmt.Errorf("%w: spec contains NUL", ErrInvalidSpec)
	case spec == MemorySpec || spec == store.MemoryPath:
		return store.MemoryPath, nil
	}

	dir := spec
	if !filepath.IsAbs(dir) && b.Root != "" {
		dir = filepath.Join(b.Root, dir)
	}
	return filepath.Join(filepath.Clean(dir), StoreFile), nil
}

// Key implements Backend. In-memory stores are private and have no key.
func (b SQLite) Key(spec string) (string, error) {
	path, err := b.Resolve(spec)
	if err != nil || path == store.MemoryPath {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	return abs, nil
}

// Drop implements Backend. It removes the database file with its WAL
// companions, then the store directory if nothing else is left in it.
// Dropping a store that does not exist succeeds.
func (b SQLite) Drop(ctx context.Context, spec string) error {
	path, err := b.Resolve(spec)
	if err != nil {
		return err
	}
	if path == store.MemoryPath {
		return fmt.Errorf("%w: in-memory stores cannot be dropped", ErrInvalidSpec)
	}

	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("drop store: %w", err)
		}
	}

	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("drop store: %w", err)
	case len(entries) == 0:
		if err := os.Remove(dir); err != nil {
			return fmt.Errorf("drop store: %w", err)
		}
	}

	slog.Debug("store dropped", "path", path)
	return nil
}

// Open implements Backend.
func (b SQLite) Open(ctx context.Context, spec string) (Store, error) {
	path, err := b.Resolve(spec)
	if err != nil {
		return nil, err
	}

	if path != store.MemoryPath {
		dir := filepath.Dir(path)
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidSpec, dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}

	seq, err := st.MaxSeq(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}

	slog.Debug("store opened", "path", path, "seq", seq)
	return &DB{st: st, clock: NewClockAt(seq)}, nil
}

// DB is an open SQLite store. It implements Store for the protocol layer
// and command.DB for the commands it runs.
type DB struct {
	st    *store.Store
	clock *Clock
}

var _ command.DB = (*DB)(nil)

// Prepare implements Store.
func (d *DB) Prepare(payload []byte) (Task, error) {
	cmd, err := command.Parse(payload)
	if err != nil {
		return nil, err
	}
	return TaskFunc(func(ctx context.Context, in io.Reader, out io.Writer) error {
		slog.Debug("running command", "command", cmd.Name())
		return cmd.Run(ctx, d, in, out)
	}), nil
}

// Close implements Store.
func (d *DB) Close() error {
	return d.st.Close()
}

// Seq returns the seq of the most recent write.
func (d *DB) Seq() int64 {
	return d.clock.Current()
}

func (d *DB) Put(ctx context.Context, id string, value []byte) error {
	return d.st.Put(ctx, id, value, d.clock.Next())
}

func (d *DB) Get(ctx context.Context, id string) ([]byte, bool, error) {
	return d.st.Get(ctx, id)
}

func (d *DB) Has(ctx context.Context, id string) (bool, error) {
	return d.st.Has(ctx, id)
}

func (d *DB) Del(ctx context.Context, id string) (bool, error) {
	return d.st.Del(ctx, id)
}

func (d *DB) Scan(ctx context.Context, opts store.ScanOptions) ([]store.Item, error) {
	return d.st.Scan(ctx, opts)
}

func (d *DB) PutBundle(ctx context.Context, code []byte) (string, error) {
	return d.st.PutBundle(ctx, code, d.clock.Next())
}

func (d *DB) GetBundle(ctx context.Context) ([]byte, bool, error) {
	code, _, ok, err := d.st.GetBundle(ctx)
	return code, ok, err
}

func (d *DB) ClientID(ctx context.Context) (string, error) {
	return d.st.ClientID(ctx)
}
