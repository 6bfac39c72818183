package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rocicorp/diff-server/internal/store"
)

// ErrNotFound is returned by commands that address a missing object.
var ErrNotFound = errors.New("not found")

// ErrInvalidValue is returned when a command's input is not a JSON value.
var ErrInvalidValue = errors.New("input is not a JSON value")

// Command is one parsed command, ready to run.
type Command interface {
	// Name is the payload key that selected the command.
	Name() string

	// Run executes the command against db, consuming in and producing out.
	Run(ctx context.Context, db DB, in io.Reader, out io.Writer) error
}

// DataPut stores its input, which must be a JSON value, under ID.
type DataPut struct {
	ID string
}

func (c *DataPut) Name() string { return "put" }

func (c *DataPut) Run(ctx context.Context, db DB, in io.Reader, out io.Writer) error {
	value, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("put %q: read input: %w", c.ID, err)
	}
	if !json.Valid(value) {
		return fmt.Errorf("put %q: %w", c.ID, ErrInvalidValue)
	}
	return db.Put(ctx, c.ID, value)
}

// DataGet writes the value stored under ID to its output.
type DataGet struct {
	ID string
}

func (c *DataGet) Name() string { return "get" }

func (c *DataGet) Run(ctx context.Context, db DB, in io.Reader, out io.Writer) error {
	value, ok, err := db.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("get %q: %w", c.ID, ErrNotFound)
	}
	_, err = out.Write(value)
	return err
}

// DataHas reports whether ID exists as {"has":bool}.
type DataHas struct {
	ID string
}

func (c *DataHas) Name() string { return "has" }

func (c *DataHas) Run(ctx context.Context, db DB, in io.Reader, out io.Writer) error {
	ok, err := db.Has(ctx, c.ID)
	if err != nil {
		return err
	}
	return writeJSON(out, struct {
		Has bool `json:"has"`
	}{ok})
}

// DataDel removes ID and reports whether it existed as {"ok":bool}.
type DataDel struct {
	ID string
}

func (c *DataDel) Name() string { return "del" }

func (c *DataDel) Run(ctx context.Context, db DB, in io.Reader, out io.Writer) error {
	ok, err := db.Del(ctx, c.ID)
	if err != nil {
		return err
	}
	return writeJSON(out, struct {
		OK bool `json:"ok"`
	}{ok})
}

// DataScan lists objects ordered by id as a JSON array of
// {"id":string,"value":any}.
type DataScan struct {
	Prefix string
	Start  string
	Limit  int
}

func (c *DataScan) Name() string { return "scan" }

type scanItem struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"value"`
}

func (c *DataScan) Run(ctx context.Context, db DB, in io.Reader, out io.Writer) error {
	items, err := db.Scan(ctx, store.ScanOptions{
		Prefix: c.Prefix,
		Start:  c.Start,
		Limit:  c.Limit,
	})
	if err != nil {
		return err
	}

	list := make([]scanItem, len(items))
	for i, it := range items {
		list[i] = scanItem{ID: it.ID, Value: json.RawMessage(it.Value)}
	}
	return writeJSON(out, list)
}

// BundlePut stores its input as the code bundle and reports
// {"hash":string}.
type BundlePut struct{}

func (c *BundlePut) Name() string { return "putBundle" }

func (c *BundlePut) Run(ctx context.Context, db DB, in io.Reader, out io.Writer) error {
	code, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("put bundle: read input: %w", err)
	}
	hash, err := db.PutBundle(ctx, code)
	if err != nil {
		return err
	}
	return writeJSON(out, struct {
		Hash string `json:"hash"`
	}{hash})
}

// BundleGet writes the code bundle, if any, to its output.
type BundleGet struct{}

func (c *BundleGet) Name() string { return "getBundle" }

func (c *BundleGet) Run(ctx context.Context, db DB, in io.Reader, out io.Writer) error {
	code, _, err := db.GetBundle(ctx)
	if err != nil {
		return err
	}
	_, err = out.Write(code)
	return err
}

// ClientIDGet reports the store's client ID as {"clientID":string}.
type ClientIDGet struct{}

func (c *ClientIDGet) Name() string { return "clientID" }

func (c *ClientIDGet) Run(ctx context.Context, db DB, in io.Reader, out io.Writer) error {
	id, err := db.ClientID(ctx)
	if err != nil {
		return err
	}
	return writeJSON(out, struct {
		ClientID string `json:"clientID"`
	}{id})
}

func writeJSON(out io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = out.Write(b)
	return err
}
