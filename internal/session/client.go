package session

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/rocicorp/diff-server/internal/engine"
	"github.com/rocicorp/diff-server/internal/handle"
)

// Handle kinds. Distinct kinds make a connection ID useless as an
// execution ID and vice versa.
const (
	kindConn uint8 = 1
	kindExec uint8 = 2
)

// DefaultMaxExecutions is the default limit on concurrently live
// executions per connection.
const DefaultMaxExecutions = 64

// ConnID identifies an open connection. Issued by Open, invalidated by
// Close. Never reused while live.
type ConnID handle.ID

func (id ConnID) String() string { return handle.ID(id).String() }

// ExecID identifies an in-flight execution. Issued by Begin, invalidated
// by End. Never reused while live.
type ExecID handle.ID

func (id ExecID) String() string { return handle.ID(id).String() }

// Client is the handle-based execution protocol over an engine Backend.
//
// A Client owns its handle tables; two Clients share nothing. All methods
// are synchronous and safe for concurrent use, with one restriction: a
// single execution must be driven by one caller at a time
// (Write, then Read until 0, then End). Overlapping calls on the same
// ExecID are rejected with ErrCodeMisuse.
type Client struct {
	backend  engine.Backend
	conns    *handle.Table[*connection]
	execs    *handle.Table[*execution]
	maxExecs int
	tokens   engine.TokenGenerator
	logger   *slog.Logger

	mu     sync.Mutex
	claims map[string]bool // store keys held by an open connection or a drop
}

// Option configures a Client.
type Option func(*Client)

// WithMaxExecutions sets the per-connection limit on live executions.
// Values below 1 are ignored.
func WithMaxExecutions(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxExecs = n
		}
	}
}

// WithTokenGenerator sets the generator for connection correlation tokens.
func WithTokenGenerator(g engine.TokenGenerator) Option {
	return func(c *Client) {
		c.tokens = g
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a Client that opens stores through backend.
func New(backend engine.Backend, opts ...Option) *Client {
	c := &Client{
		backend:  backend,
		conns:    handle.New[*connection](kindConn),
		execs:    handle.New[*execution](kindExec),
		maxExecs: DefaultMaxExecutions,
		tokens:   engine.UUIDv7Generator{},
		logger:   slog.Default(),
		claims:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// connection is the state behind a ConnID.
type connection struct {
	spec   string
	key    string
	token  string
	store  engine.Store
	ctx    context.Context // cancelled by Close; parent of every task
	cancel context.CancelFunc

	mu     sync.Mutex
	active int
	closed bool
}

// reserve claims an execution slot.
func (c *connection) reserve(limit int) *Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return newError("begin", ErrCodeInvalidHandle, nil, "connection is closed")
	}
	if c.active >= limit {
		return newError("begin", ErrCodeResource, nil, "too many active executions (max %d)", limit)
	}
	c.active++
	return nil
}

// release returns a slot claimed by reserve.
func (c *connection) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active--
}

// claim marks the store named by key as in use. It reports false if the
// store is already claimed. The empty key names a private store and is
// never held.
func (c *Client) claim(key string) bool {
	if key == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claims[key] {
		return false
	}
	c.claims[key] = true
	return true
}

func (c *Client) unclaim(key string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claims, key)
}

// Open opens the store described by storeSpec and returns a connection to
// it. The spec is passed to the backend unmodified. Failures are returned
// immediately; Open never retries.
//
// A store has at most one open connection per Client, so that its writes
// are stamped by a single clock. Opening a store that is already open
// fails with ErrCodeResource.
func (c *Client) Open(ctx context.Context, storeSpec []byte) (ConnID, error) {
	spec := string(storeSpec)

	key, err := c.backend.Key(spec)
	if err != nil {
		return 0, newError("open", ErrCodeResource, err, "cannot open store %q", spec)
	}
	if !c.claim(key) {
		return 0, newError("open", ErrCodeResource, nil, "store %q is already in use", spec)
	}

	st, err := c.backend.Open(ctx, spec)
	if err != nil {
		c.unclaim(key)
		return 0, newError("open", ErrCodeResource, err, "cannot open store %q", spec)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	conn := &connection{
		spec:   spec,
		key:    key,
		token:  c.tokens.Generate(),
		store:  st,
		ctx:    connCtx,
		cancel: cancel,
	}
	id := ConnID(c.conns.Insert(conn))

	c.logger.Info("connection opened", "conn", id, "token", conn.token, "spec", spec)
	return id, nil
}

// Close releases a connection. It fails with ErrCodeMisuse while any
// execution begun on the connection has not been ended, because a
// connection must outlive its executions. After a successful Close the
// ConnID is invalid.
func (c *Client) Close(id ConnID) error {
	conn, ok := c.conns.Get(handle.ID(id))
	if !ok {
		return newError("close", ErrCodeInvalidHandle, nil, "connection %v is not open", id)
	}

	conn.mu.Lock()
	switch {
	case conn.closed:
		conn.mu.Unlock()
		return newError("close", ErrCodeInvalidHandle, nil, "connection %v is not open", id)
	case conn.active > 0:
		n := conn.active
		conn.mu.Unlock()
		return newError("close", ErrCodeMisuse, nil, "connection %v has %d active executions", id, n)
	}
	conn.closed = true
	conn.mu.Unlock()

	c.conns.Remove(handle.ID(id))
	conn.cancel()

	err := conn.store.Close()
	c.unclaim(conn.key)
	if err != nil {
		return newError("close", ErrCodeEngine, err, "cannot close store %q", conn.spec)
	}

	c.logger.Info("connection closed", "conn", id, "token", conn.token)
	return nil
}

// Drop deletes the store described by storeSpec and everything in it.
// The store must not be open: Drop fails with ErrCodeMisuse while a
// connection to it is live. Dropping a store that does not exist
// succeeds.
func (c *Client) Drop(ctx context.Context, storeSpec []byte) error {
	spec := string(storeSpec)

	key, err := c.backend.Key(spec)
	if err != nil {
		return newError("drop", ErrCodeResource, err, "cannot drop store %q", spec)
	}
	if !c.claim(key) {
		return newError("drop", ErrCodeMisuse, nil, "store %q is in use", spec)
	}
	defer c.unclaim(key)

	if err := c.backend.Drop(ctx, spec); err != nil {
		return newError("drop", ErrCodeResource, err, "cannot drop store %q", spec)
	}

	c.logger.Info("store dropped", "spec", spec)
	return nil
}

// Stats is a snapshot of live handles.
type Stats struct {
	Connections int
	Executions  int
}

// Stats returns the number of live connections and executions.
func (c *Client) Stats() Stats {
	return Stats{
		Connections: c.conns.Len(),
		Executions:  c.execs.Len(),
	}
}

// Begin starts executing command on the connection and returns its
// ExecID. It returns once the engine has accepted the command and the
// command has begun, not when it completes.
//
// On error no execution is allocated. On success the caller MUST call End
// exactly once, even if later calls fail; otherwise the command's
// resources are never released.
func (c *Client) Begin(id ConnID, command []byte) (ExecID, error) {
	conn, ok := c.conns.Get(handle.ID(id))
	if !ok {
		return 0, newError("begin", ErrCodeInvalidHandle, nil, "connection %v is not open", id)
	}
	if err := conn.reserve(c.maxExecs); err != nil {
		return 0, err
	}

	task, err := conn.store.Prepare(command)
	if err != nil {
		conn.release()
		return 0, newError("begin", ErrCodeMalformed, err, "command rejected")
	}

	outR, outW := io.Pipe()
	e := &execution{
		conn: conn,
		task: task,
		in:   newInputGate(),
		outR: outR,
		outW: outW,
		done: make(chan error, 1),
	}
	eid := ExecID(c.execs.Insert(e))

	started := make(chan struct{})
	go e.run(conn.ctx, started, c.logger.With("exec", eid, "token", conn.token))
	<-started

	c.logger.Debug("execution begun", "conn", id, "exec", eid)
	return eid, nil
}
