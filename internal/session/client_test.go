package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocicorp/diff-server/internal/engine"
	"github.com/rocicorp/diff-server/internal/handle"
	"github.com/rocicorp/diff-server/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient creates a Client over a FakeBackend with the given tasks.
func newTestClient(t *testing.T, tasks map[string]engine.Task, opts ...Option) (*Client, *testutil.FakeBackend) {
	t.Helper()
	backend := &testutil.FakeBackend{Tasks: tasks}
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(backend, opts...), backend
}

// openConn opens a connection or fails the test.
func openConn(t *testing.T, c *Client) ConnID {
	t.Helper()
	id, err := c.Open(context.Background(), []byte("store"))
	require.NoError(t, err)
	return id
}

func TestOpen_PassesSpecThrough(t *testing.T) {
	c, backend := newTestClient(t, nil)

	id, err := c.Open(context.Background(), []byte("/tmp/foo"))
	require.NoError(t, err)
	assert.Positive(t, int64(id))
	assert.Equal(t, []string{"/tmp/foo"}, backend.Opened())
	assert.Equal(t, Stats{Connections: 1}, c.Stats())
}

func TestOpen_DistinctHandles(t *testing.T) {
	c, _ := newTestClient(t, nil)

	a := openConn(t, c)
	b := openConn(t, c)
	assert.NotEqual(t, a, b)
}

func TestOpen_FailureSurfacedImmediately(t *testing.T) {
	c, _ := newTestClient(t, nil)
	cause := errors.New("resource unavailable")
	c.backend.(*testutil.FakeBackend).OpenErr = cause

	_, err := c.Open(context.Background(), []byte("store"))
	require.Error(t, err)
	assert.Equal(t, ErrCodeResource, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, `open: cannot open store "store": resource unavailable`, err.Error())
	assert.Equal(t, Stats{}, c.Stats(), "failed open must not allocate a connection")
}

func TestOpen_WithSQLiteBackend(t *testing.T) {
	c := New(engine.SQLite{Root: t.TempDir()}, WithLogger(quietLogger()))

	_, err := c.Open(context.Background(), nil)
	require.Error(t, err, "empty spec must be rejected")
	assert.Equal(t, ErrCodeResource, CodeOf(err))
	assert.ErrorIs(t, err, engine.ErrInvalidSpec)

	id, err := c.Open(context.Background(), []byte("foo"))
	require.NoError(t, err)
	require.NoError(t, c.Close(id))
}

func TestOpen_UsesTokenGenerator(t *testing.T) {
	gen := engine.NewFixedGenerator("tok-1")
	c, _ := newTestClient(t, nil, WithTokenGenerator(gen))

	id := openConn(t, c)
	conn, ok := c.conns.Get(handle.ID(id))
	require.True(t, ok)
	assert.Equal(t, "tok-1", conn.token)
}

func TestOpen_RejectsStoreAlreadyOpen(t *testing.T) {
	c, backend := newTestClient(t, nil)
	backend.Exclusive = true

	first := openConn(t, c)

	_, err := c.Open(context.Background(), []byte("store"))
	require.Error(t, err)
	assert.Equal(t, ErrCodeResource, CodeOf(err))
	assert.Equal(t, `open: store "store" is already in use`, err.Error())
	assert.Equal(t, []string{"store"}, backend.Opened(), "backend must not be asked twice")

	other, err := c.Open(context.Background(), []byte("other"))
	require.NoError(t, err, "a different store is unaffected")
	require.NoError(t, c.Close(other))

	require.NoError(t, c.Close(first))
	again := openConn(t, c)
	require.NoError(t, c.Close(again), "closing releases the store")
}

func TestOpen_FailureReleasesStore(t *testing.T) {
	c, backend := newTestClient(t, nil)
	backend.Exclusive = true
	backend.OpenErr = errors.New("disk full")

	_, err := c.Open(context.Background(), []byte("store"))
	require.Error(t, err)

	backend.OpenErr = nil
	id := openConn(t, c)
	require.NoError(t, c.Close(id))
}

func TestOpen_SameDirectoryTwice(t *testing.T) {
	root := t.TempDir()
	c := New(engine.SQLite{Root: root}, WithLogger(quietLogger()))
	ctx := context.Background()

	id, err := c.Open(ctx, []byte("foo"))
	require.NoError(t, err)

	_, err = c.Open(ctx, []byte(root+"/foo/"))
	require.Error(t, err, "two spellings of one directory are one store")
	assert.Equal(t, ErrCodeResource, CodeOf(err))

	a, err := c.Open(ctx, []byte(engine.MemorySpec))
	require.NoError(t, err)
	b, err := c.Open(ctx, []byte(engine.MemorySpec))
	require.NoError(t, err, "in-memory stores are private")

	for _, conn := range []ConnID{id, a, b} {
		require.NoError(t, c.Close(conn))
	}
}

func TestDrop_RefusedWhileOpen(t *testing.T) {
	c, backend := newTestClient(t, nil)
	backend.Exclusive = true
	id := openConn(t, c)

	err := c.Drop(context.Background(), []byte("store"))
	require.Error(t, err)
	assert.True(t, IsMisuse(err))
	assert.Equal(t, `drop: store "store" is in use`, err.Error())
	assert.Empty(t, backend.Dropped())

	require.NoError(t, c.Close(id))
	require.NoError(t, c.Drop(context.Background(), []byte("store")))
	assert.Equal(t, []string{"store"}, backend.Dropped())

	id = openConn(t, c)
	require.NoError(t, c.Close(id), "drop releases the store")
}

func TestDrop_BackendError(t *testing.T) {
	c, backend := newTestClient(t, nil)
	backend.Exclusive = true
	cause := errors.New("permission denied")
	backend.DropErr = cause

	err := c.Drop(context.Background(), []byte("store"))
	require.Error(t, err)
	assert.Equal(t, ErrCodeResource, CodeOf(err))
	assert.ErrorIs(t, err, cause)

	id := openConn(t, c)
	require.NoError(t, c.Close(id), "failed drop releases the store")
}

func TestDrop_SQLiteStore(t *testing.T) {
	c := New(engine.SQLite{Root: t.TempDir()}, WithLogger(quietLogger()))
	ctx := context.Background()

	conn, err := c.Open(ctx, []byte("foo"))
	require.NoError(t, err)
	exec, err := c.Begin(conn, []byte(`{"put": {"id": "a"}}`))
	require.NoError(t, err)
	require.NoError(t, c.Write(exec, []byte(`1`)))
	require.NoError(t, c.End(exec))
	require.NoError(t, c.Close(conn))

	require.NoError(t, c.Drop(ctx, []byte("foo")))

	conn, err = c.Open(ctx, []byte("foo"))
	require.NoError(t, err)
	defer c.Close(conn)
	exec, err = c.Begin(conn, []byte(`{"has": {"id": "a"}}`))
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err := c.Read(exec, buf)
	require.NoError(t, err)
	assert.Equal(t, `{"has":false}`, string(buf[:n]))
	require.NoError(t, c.End(exec))

	err = c.Drop(ctx, []byte(engine.MemorySpec))
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInvalidSpec)
}

func TestClose_ReleasesStore(t *testing.T) {
	c, backend := newTestClient(t, nil)
	id := openConn(t, c)

	require.NoError(t, c.Close(id))
	assert.Equal(t, 1, backend.Closed())
	assert.Equal(t, Stats{}, c.Stats())

	err := c.Close(id)
	require.Error(t, err)
	assert.True(t, IsInvalidHandle(err), "second close must report an invalid handle")
	assert.Equal(t, 1, backend.Closed(), "store must be closed once")
}

func TestClose_RefusedWhileExecutionsLive(t *testing.T) {
	c, backend := newTestClient(t, map[string]engine.Task{
		"cmd": testutil.Emit("", nil),
	})
	conn := openConn(t, c)

	exec, err := c.Begin(conn, []byte("cmd"))
	require.NoError(t, err)

	err = c.Close(conn)
	require.Error(t, err)
	assert.True(t, IsMisuse(err))
	assert.Contains(t, err.Error(), "1 active executions")
	assert.Equal(t, 0, backend.Closed())

	require.NoError(t, c.End(exec))
	require.NoError(t, c.Close(conn))
}

func TestClose_StoreError(t *testing.T) {
	c, backend := newTestClient(t, nil)
	backend.CloseErr = errors.New("flush failed")
	id := openConn(t, c)

	err := c.Close(id)
	require.Error(t, err)
	assert.Equal(t, ErrCodeEngine, CodeOf(err))

	// The handle is gone regardless.
	assert.True(t, IsInvalidHandle(c.Close(id)))
}

func TestBegin_InvalidConnection(t *testing.T) {
	c, _ := newTestClient(t, map[string]engine.Task{"cmd": testutil.Emit("x", nil)})

	_, err := c.Begin(ConnID(12345), []byte("cmd"))
	require.Error(t, err)
	assert.True(t, IsInvalidHandle(err))
	assert.Equal(t, 0, c.Stats().Executions)
}

func TestBegin_ClosedConnection(t *testing.T) {
	c, _ := newTestClient(t, map[string]engine.Task{"cmd": testutil.Emit("x", nil)})
	conn := openConn(t, c)
	require.NoError(t, c.Close(conn))

	_, err := c.Begin(conn, []byte("cmd"))
	require.Error(t, err)
	assert.True(t, IsInvalidHandle(err))
	assert.Equal(t, 0, c.Stats().Executions, "no execution may be allocated")
}

func TestBegin_ExecIDIsNotAConnID(t *testing.T) {
	c, _ := newTestClient(t, map[string]engine.Task{"cmd": testutil.Emit("", nil)})
	conn := openConn(t, c)
	exec, err := c.Begin(conn, []byte("cmd"))
	require.NoError(t, err)
	defer c.End(exec)

	_, err = c.Begin(ConnID(exec), []byte("cmd"))
	assert.True(t, IsInvalidHandle(err))

	_, err = c.Read(ExecID(conn), make([]byte, 4))
	assert.True(t, IsInvalidHandle(err))
}

func TestBegin_Malformed(t *testing.T) {
	c, _ := newTestClient(t, nil, WithMaxExecutions(1))
	conn := openConn(t, c)

	_, err := c.Begin(conn, []byte("unknown"))
	require.Error(t, err)
	assert.Equal(t, ErrCodeMalformed, CodeOf(err))
	assert.ErrorIs(t, err, testutil.ErrRejected)
	assert.Equal(t, 0, c.Stats().Executions)

	// The rejected begin must not hold the connection's only slot.
	c.backend.(*testutil.FakeBackend).Tasks = map[string]engine.Task{"cmd": testutil.Emit("", nil)}
	exec, err := c.Begin(conn, []byte("cmd"))
	require.NoError(t, err)
	require.NoError(t, c.End(exec))
}

func TestBegin_MaxExecutions(t *testing.T) {
	c, _ := newTestClient(t, map[string]engine.Task{
		"cmd": testutil.Emit("", nil),
	}, WithMaxExecutions(2))
	conn := openConn(t, c)

	a, err := c.Begin(conn, []byte("cmd"))
	require.NoError(t, err)
	b, err := c.Begin(conn, []byte("cmd"))
	require.NoError(t, err)

	_, err = c.Begin(conn, []byte("cmd"))
	require.Error(t, err)
	assert.Equal(t, ErrCodeResource, CodeOf(err))
	assert.Equal(t, "begin: too many active executions (max 2)", err.Error())
	assert.Equal(t, 2, c.Stats().Executions)

	require.NoError(t, c.End(a))
	d, err := c.Begin(conn, []byte("cmd"))
	require.NoError(t, err, "ending an execution frees its slot")

	require.NoError(t, c.End(b))
	require.NoError(t, c.End(d))
}

func TestBegin_LimitIsPerConnection(t *testing.T) {
	c, _ := newTestClient(t, map[string]engine.Task{
		"cmd": testutil.Emit("", nil),
	}, WithMaxExecutions(1))
	connA := openConn(t, c)
	connB := openConn(t, c)

	a, err := c.Begin(connA, []byte("cmd"))
	require.NoError(t, err)
	b, err := c.Begin(connB, []byte("cmd"))
	require.NoError(t, err)

	require.NoError(t, c.End(a))
	require.NoError(t, c.End(b))
}

func TestWithMaxExecutions_IgnoresNonPositive(t *testing.T) {
	c, _ := newTestClient(t, nil, WithMaxExecutions(0))
	assert.Equal(t, DefaultMaxExecutions, c.maxExecs)
}
