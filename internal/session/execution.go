package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rocicorp/diff-server/internal/engine"
	"github.com/rocicorp/diff-server/internal/handle"
)

// errOutputDiscarded is handed to a command still writing output when its
// execution is ended before the output was read to completion.
var errOutputDiscarded = errors.New("output discarded by end")

// execution is the state behind an ExecID.
//
// Fields below busy are only touched by the caller holding busy.
type execution struct {
	conn *connection
	task engine.Task
	in   *inputGate
	outR *io.PipeReader
	outW *io.PipeWriter
	done chan error // receives the task result exactly once

	busy    atomic.Bool
	wrote   bool
	reading bool
}

// run executes the task and closes the output stream when it returns.
// A panicking task is reported as an error instead of crashing the process.
func (e *execution) run(ctx context.Context, started chan<- struct{}, logger *slog.Logger) {
	close(started)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("command panicked", "panic", r, "stack", string(debug.Stack()))
				err = fmt.Errorf("command panicked: %v", r)
			}
		}()
		return e.task.Run(ctx, e.in, outputWriter{e.outW})
	}()

	// Readers see a clean EOF; the error itself is deferred to End.
	e.outW.Close()
	e.done <- err
}

// acquire resolves id and marks the execution busy for op.
func (c *Client) acquire(op string, id ExecID) (*execution, *Error) {
	e, ok := c.execs.Get(handle.ID(id))
	if !ok {
		return nil, newError(op, ErrCodeInvalidHandle, nil, "execution %v is not live", id)
	}
	if !e.busy.CompareAndSwap(false, true) {
		return nil, newError(op, ErrCodeMisuse, nil, "execution %v is in use by another call", id)
	}
	return e, nil
}

// Write supplies the execution's complete input.
//
// Write is optional and may be called at most once, before the first
// Read. A second Write, or a Write after Read, is rejected with
// ErrCodeMisuse and has no effect on the execution or its output. Input
// the command rejects is reported by End.
func (c *Client) Write(id ExecID, data []byte) error {
	e, err := c.acquire("write", id)
	if err != nil {
		return err
	}
	defer e.busy.Store(false)

	switch {
	case e.reading:
		return newError("write", ErrCodeMisuse, nil, "input must be written before the first read")
	case e.wrote:
		return newError("write", ErrCodeMisuse, nil, "input already written")
	}

	if !e.in.supply(data) {
		return newError("write", ErrCodeMisuse, nil, "input stream is closed")
	}
	e.wrote = true
	return nil
}

// Read reads the next chunk of output into p, returning up to len(p)
// bytes.
//
// A return of 0 with a nil error is the end-of-output signal and the only
// one; a short read does not mean the output is exhausted. A zero-length
// p is rejected with ErrCodeMisuse rather than being mistaken for the end
// of output.
//
// The first Read closes the input stream: a command waiting for input
// that was never written sees empty input.
func (c *Client) Read(id ExecID, p []byte) (int, error) {
	e, err := c.acquire("read", id)
	if err != nil {
		return 0, err
	}
	defer e.busy.Store(false)

	if len(p) == 0 {
		return 0, newError("read", ErrCodeMisuse, nil, "read capacity must be positive")
	}
	if !e.reading {
		e.reading = true
		e.in.seal()
	}

	for {
		n, rerr := e.outR.Read(p)
		switch {
		case n > 0:
			return n, nil
		case rerr == io.EOF:
			return 0, nil
		case rerr != nil:
			return 0, newError("read", ErrCodeEngine, rerr, "cannot read output")
		}
	}
}

// End finalizes the execution and returns the command's error, if any.
// This is where a command that failed after being accepted, possibly
// after producing output, reports its failure.
//
// End must be called exactly once per execution, after any Write and all
// desired Reads, whether or not they succeeded. Unread output is
// discarded. After End the ExecID is invalid: a second End returns
// ErrCodeInvalidHandle. End blocks until the command returns.
func (c *Client) End(id ExecID) error {
	e, err := c.acquire("end", id)
	if err != nil {
		return err
	}
	// busy stays set: the execution is finished for good.
	if _, ok := c.execs.Remove(handle.ID(id)); !ok {
		e.busy.Store(false)
		return newError("end", ErrCodeInvalidHandle, nil, "execution %v is not live", id)
	}

	e.in.seal()
	e.outR.CloseWithError(errOutputDiscarded)
	taskErr := <-e.done
	e.conn.release()

	c.logger.Debug("execution ended", "exec", id, "error", taskErr)

	if taskErr != nil && !errors.Is(taskErr, errOutputDiscarded) {
		return newError("end", ErrCodeEngine, taskErr, "command failed")
	}
	return nil
}

// inputGate is the command's input stream.
//
// Reads block until the input is settled: supplied by Write, or sealed
// empty by the first Read or by End. This lets a command that needs input
// wait for it without the caller's Write ever blocking on the command.
type inputGate struct {
	mu      sync.Mutex
	ready   chan struct{}
	settled bool
	data    []byte
	off     int
}

func newInputGate() *inputGate {
	return &inputGate{ready: make(chan struct{})}
}

// supply settles the input with a private copy of data.
// Reports false if the input was already settled.
func (g *inputGate) supply(data []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.settled {
		return false
	}
	g.data = bytes.Clone(data)
	g.settled = true
	close(g.ready)
	return true
}

// seal settles the input as empty unless it was already settled.
func (g *inputGate) seal() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.settled {
		return
	}
	g.settled = true
	close(g.ready)
}

func (g *inputGate) Read(p []byte) (int, error) {
	<-g.ready

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.off >= len(g.data) {
		return 0, io.EOF
	}
	n := copy(p, g.data[g.off:])
	g.off += n
	return n, nil
}

// outputWriter drops empty writes. An empty write on an io.Pipe reaches
// the reader as a (0, nil) read, which must never be observable.
type outputWriter struct {
	w io.Writer
}

func (o outputWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.w.Write(p)
}
