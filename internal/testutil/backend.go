package testutil

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/rocicorp/diff-server/internal/engine"
)

// ErrRejected is returned by FakeStore.Prepare for payloads it has no
// task for.
var ErrRejected = errors.New("fake: no task for payload")

// FakeBackend is an engine.Backend whose stores run scripted tasks.
//
// Tasks maps a payload string to the task Prepare returns for it.
// OpenErr, when set, fails every Open. Stores are private unless
// Exclusive is set, in which case each spec names one shared store.
//
// Thread-safety: FakeBackend is safe for concurrent use.
type FakeBackend struct {
	OpenErr   error
	CloseErr  error
	DropErr   error
	Exclusive bool
	Tasks     map[string]engine.Task

	mu      sync.Mutex
	opened  []string
	closed  int
	dropped []string
}

// Key implements engine.Backend.
func (b *FakeBackend) Key(spec string) (string, error) {
	if b.Exclusive {
		return spec, nil
	}
	return "", nil
}

// Drop implements engine.Backend.
func (b *FakeBackend) Drop(_ context.Context, spec string) error {
	if b.DropErr != nil {
		return b.DropErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropped = append(b.dropped, spec)
	return nil
}

// Dropped returns the specs passed to a successful Drop, in order.
func (b *FakeBackend) Dropped() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.dropped...)
}

// Open implements engine.Backend.
func (b *FakeBackend) Open(_ context.Context, spec string) (engine.Store, error) {
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = append(b.opened, spec)
	return &FakeStore{backend: b}, nil
}

// Opened returns the specs passed to Open, in order.
func (b *FakeBackend) Opened() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.opened...)
}

// Closed returns how many stores have been closed.
func (b *FakeBackend) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// FakeStore is the engine.Store returned by FakeBackend.
type FakeStore struct {
	backend *FakeBackend
}

// Prepare implements engine.Store.
func (s *FakeStore) Prepare(payload []byte) (engine.Task, error) {
	task, ok := s.backend.Tasks[string(payload)]
	if !ok {
		return nil, ErrRejected
	}
	return task, nil
}

// Close implements engine.Store.
func (s *FakeStore) Close() error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.closed++
	return s.backend.CloseErr
}

// Emit returns a task that writes output and then returns err.
func Emit(output string, err error) engine.Task {
	return engine.TaskFunc(func(_ context.Context, _ io.Reader, out io.Writer) error {
		if _, werr := io.Copy(out, strings.NewReader(output)); werr != nil {
			return werr
		}
		return err
	})
}

// EmitChunks returns a task that writes each chunk with a separate Write,
// including empty ones.
func EmitChunks(chunks ...string) engine.Task {
	return engine.TaskFunc(func(_ context.Context, _ io.Reader, out io.Writer) error {
		for _, c := range chunks {
			if _, err := out.Write([]byte(c)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Echo returns a task that copies its input to its output.
func Echo() engine.Task {
	return engine.TaskFunc(func(_ context.Context, in io.Reader, out io.Writer) error {
		_, err := io.Copy(out, in)
		return err
	})
}

// Panic returns a task that panics with v.
func Panic(v any) engine.Task {
	return engine.TaskFunc(func(context.Context, io.Reader, io.Writer) error {
		panic(v)
	})
}

// Gate is a task that blocks until released, for tests that need an
// execution to stay in flight.
type Gate struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

// NewGate creates a blocked Gate.
func NewGate() *Gate {
	return &Gate{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

// Run implements engine.Task. It writes output once released.
func (g *Gate) Run(ctx context.Context, _ io.Reader, out io.Writer) error {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	_, err := out.Write([]byte("released"))
	return err
}

// Started is closed once Run has been entered.
func (g *Gate) Started() <-chan struct{} { return g.started }

// Release unblocks Run.
func (g *Gate) Release() { close(g.release) }
