package command

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocicorp/diff-server/internal/store"
)

// memDB is a map-backed DB for exercising commands without SQLite.
type memDB struct {
	objects  map[string][]byte
	bundle   []byte
	clientID string
	err      error
}

func newMemDB() *memDB {
	return &memDB{objects: map[string][]byte{}, clientID: "client-1"}
}

func (m *memDB) Put(_ context.Context, id string, value []byte) error {
	if m.err != nil {
		return m.err
	}
	m.objects[id] = append([]byte(nil), value...)
	return nil
}

func (m *memDB) Get(_ context.Context, id string) ([]byte, bool, error) {
	v, ok := m.objects[id]
	return v, ok, m.err
}

func (m *memDB) Has(_ context.Context, id string) (bool, error) {
	_, ok := m.objects[id]
	return ok, m.err
}

func (m *memDB) Del(_ context.Context, id string) (bool, error) {
	_, ok := m.objects[id]
	delete(m.objects, id)
	return ok, m.err
}

func (m *memDB) Scan(_ context.Context, opts store.ScanOptions) ([]store.Item, error) {
	var ids []string
	for id := range m.objects {
		if strings.HasPrefix(id, opts.Prefix) && id >= opts.Start {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}
	items := make([]store.Item, len(ids))
	for i, id := range ids {
		items[i] = store.Item{ID: id, Value: m.objects[id]}
	}
	return items, m.err
}

func (m *memDB) PutBundle(_ context.Context, code []byte) (string, error) {
	m.bundle = code
	return "hash-" + string(code), m.err
}

func (m *memDB) GetBundle(_ context.Context) ([]byte, bool, error) {
	return m.bundle, m.bundle != nil, m.err
}

func (m *memDB) ClientID(_ context.Context) (string, error) {
	return m.clientID, m.err
}

func run(t *testing.T, db DB, payload, input string) (string, error) {
	t.Helper()
	cmd, err := Parse([]byte(payload))
	require.NoError(t, err)
	var out bytes.Buffer
	err = cmd.Run(context.Background(), db, strings.NewReader(input), &out)
	return out.String(), err
}

func TestPutThenGet_RoundTrip(t *testing.T) {
	db := newMemDB()

	out, err := run(t, db, `{"put": {"id": "obj1"}}`, `"Hello, from Replicant!"`)
	require.NoError(t, err)
	assert.Empty(t, out, "put produces no output")

	out, err = run(t, db, `{"get": {"id": "obj1"}}`, "")
	require.NoError(t, err)
	assert.Equal(t, `"Hello, from Replicant!"`, out)
}

func TestPut_RejectsNonJSONInput(t *testing.T) {
	db := newMemDB()

	_, err := run(t, db, `{"put": {"id": "obj1"}}`, `Hello`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Empty(t, db.objects, "rejected input must not be stored")

	_, err = run(t, db, `{"put": {"id": "obj1"}}`, ``)
	assert.ErrorIs(t, err, ErrInvalidValue, "empty input is not a JSON value")
}

func TestGet_Missing(t *testing.T) {
	_, err := run(t, newMemDB(), `{"get": {"id": "nope"}}`, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), `"nope"`)
}

func TestHasAndDel(t *testing.T) {
	db := newMemDB()
	db.objects["obj1"] = []byte("1")

	out, err := run(t, db, `{"has": {"id": "obj1"}}`, "")
	require.NoError(t, err)
	assert.Equal(t, `{"has":true}`, out)

	out, err = run(t, db, `{"del": {"id": "obj1"}}`, "")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)

	out, err = run(t, db, `{"del": {"id": "obj1"}}`, "")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":false}`, out)

	out, err = run(t, db, `{"has": {"id": "obj1"}}`, "")
	require.NoError(t, err)
	assert.Equal(t, `{"has":false}`, out)
}

func TestScan_Output(t *testing.T) {
	db := newMemDB()
	db.objects["b"] = []byte(`{"n":2}`)
	db.objects["a"] = []byte(`1`)
	db.objects["c"] = []byte(`"x"`)

	out, err := run(t, db, `{"scan": {"limit": 2}}`, "")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a","value":1},{"id":"b","value":{"n":2}}]`, out)

	out, err = run(t, db, `{"scan": {"prefix": "zz"}}`, "")
	require.NoError(t, err)
	assert.Equal(t, `[]`, out)
}

func TestBundle_PutGet(t *testing.T) {
	db := newMemDB()

	out, err := run(t, db, `{"putBundle": {}}`, "code")
	require.NoError(t, err)
	assert.Equal(t, `{"hash":"hash-code"}`, out)

	out, err = run(t, db, `{"getBundle": {}}`, "")
	require.NoError(t, err)
	assert.Equal(t, "code", out)
}

func TestClientID(t *testing.T) {
	out, err := run(t, newMemDB(), `{"clientID": {}}`, "")
	require.NoError(t, err)
	assert.Equal(t, `{"clientID":"client-1"}`, out)
}

func TestRun_PropagatesDBErrors(t *testing.T) {
	boom := errors.New("disk on fire")
	db := newMemDB()
	db.err = boom

	payloads := []string{
		`{"get": {"id": "a"}}`,
		`{"has": {"id": "a"}}`,
		`{"del": {"id": "a"}}`,
		`{"scan": {}}`,
		`{"getBundle": {}}`,
		`{"clientID": {}}`,
	}
	for _, p := range payloads {
		t.Run(p, func(t *testing.T) {
			_, err := run(t, db, p, "")
			assert.ErrorIs(t, err, boom)
		})
	}

	_, err := run(t, db, `{"put": {"id": "a"}}`, `1`)
	assert.ErrorIs(t, err, boom)
}
