package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rocicorp/diff-server/internal/session"
)

// DefaultChunkSize is the read capacity used when a Request leaves
// ChunkSize unset.
const DefaultChunkSize = 1024

// ErrChunkSize is returned for a non-positive chunk size.
var ErrChunkSize = errors.New("chunk size must be positive")

// Reader is the read half of the protocol.
type Reader interface {
	Read(id session.ExecID, p []byte) (int, error)
}

// Executor is the execution half of the protocol. *session.Client
// implements it.
type Executor interface {
	Reader
	Begin(conn session.ConnID, command []byte) (session.ExecID, error)
	Write(id session.ExecID, data []byte) error
	End(id session.ExecID) error
}

var _ Executor = (*session.Client)(nil)

// ReadAll reads the output of id until the end-of-output signal.
//
// The buffer grows by chunkSize ahead of every read so each chunk lands
// directly in place; the output is the concatenation of every chunk in
// order. A short read is not treated as the end.
func ReadAll(r Reader, id session.ExecID, chunkSize int) ([]byte, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("read %v: %w (got %d)", id, ErrChunkSize, chunkSize)
	}

	var buf bytes.Buffer
	for {
		buf.Grow(chunkSize)
		chunk := buf.AvailableBuffer()[:chunkSize]
		n, err := r.Read(id, chunk)
		if err != nil {
			return buf.Bytes(), err
		}
		if n == 0 {
			return buf.Bytes(), nil
		}
		buf.Write(chunk[:n])
	}
}

// Request describes one complete execution.
type Request struct {
	// Command is the payload handed to Begin.
	Command []byte

	// Input, when non-nil, is written before reading.
	Input []byte

	// Read selects whether output is collected. Commands whose output
	// nobody wants can skip straight to End.
	Read bool

	// ChunkSize is the read capacity. Zero means DefaultChunkSize.
	ChunkSize int
}

// Run performs the whole lifecycle of one execution on conn and returns
// its output.
//
// Once Begin succeeds End is always called, whatever happened in between.
// The first error wins; an End error that follows an earlier one is
// logged and dropped.
func Run(ctx context.Context, x Executor, conn session.ConnID, req Request) ([]byte, error) {
	chunk := req.ChunkSize
	if chunk == 0 {
		chunk = DefaultChunkSize
	}
	if chunk < 0 {
		return nil, fmt.Errorf("run: %w (got %d)", ErrChunkSize, chunk)
	}

	id, err := x.Begin(conn, req.Command)
	if err != nil {
		return nil, err
	}

	out, err := drive(x, id, req, chunk)

	if endErr := x.End(id); endErr != nil {
		if err != nil {
			slog.WarnContext(ctx, "end failed after earlier error", "exec", id, "error", endErr)
		} else {
			err = endErr
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func drive(x Executor, id session.ExecID, req Request, chunk int) ([]byte, error) {
	if req.Input != nil {
		if err := x.Write(id, req.Input); err != nil {
			return nil, err
		}
	}
	if !req.Read {
		return nil, nil
	}
	return ReadAll(x, id, chunk)
}
