package engine

import (
	"context"
	"io"
)

// Backend opens stores. It is the only way the protocol layer reaches the
// engine, which keeps the engine swappable and test-injectable.
type Backend interface {
	// Open opens the store described by spec. The spec is passed through
	// from the caller unmodified; its meaning is backend-defined.
	Open(ctx context.Context, spec string) (Store, error)

	// Key names the store spec refers to: specs naming the same store have
	// equal keys. An empty key marks a private store that may be opened
	// any number of times.
	Key(spec string) (string, error)

	// Drop deletes the store spec refers to. The caller guarantees that
	// the store is not open.
	Drop(ctx context.Context, spec string) error
}

// Store is one open store.
type Store interface {
	// Prepare validates a command payload and returns the task that will
	// run it. Prepare must not block on the task itself.
	Prepare(payload []byte) (Task, error)

	// Close releases the store.
	Close() error
}

// Task is a prepared command. Run consumes in and produces out; a non-nil
// error means the command failed, possibly after producing some output.
type Task interface {
	Run(ctx context.Context, in io.Reader, out io.Writer) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context, in io.Reader, out io.Writer) error

// Run calls f.
func (f TaskFunc) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	return f(ctx, in, out)
}
