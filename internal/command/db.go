package command

import (
	"context"

	"github.com/rocicorp/diff-server/internal/store"
)

// DB is the storage surface commands run against.
// Implemented by the engine on top of store.Store.
type DB interface {
	Put(ctx context.Context, id string, value []byte) error
	Get(ctx context.Context, id string) ([]byte, bool, error)
	Has(ctx context.Context, id string) (bool, error)
	Del(ctx context.Context, id string) (bool, error)
	Scan(ctx context.Context, opts store.ScanOptions) ([]store.Item, error)
	PutBundle(ctx context.Context, code []byte) (string, error)
	GetBundle(ctx context.Context) ([]byte, bool, error)
	ClientID(ctx context.Context) (string, error)
}
