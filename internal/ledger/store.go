package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fentz26/petfeeder/internal/store"
)

// KV is the key/value slice of the store the ledger persists into.
type KV interface {
	GetKV(ctx context.Context, key string) (string, error)
	PutKV(ctx context.Context, key, value string) error
}

type kvBackend struct {
	kv  KV
	key string
}

// OpenStore loads the account's ledger from the store's kv table.
func OpenStore(ctx context.Context, kv KV, accountID string) (*Ledger, error) {
	return open(ctx, &kvBackend{kv: kv, key: DocumentKey(accountID)})
}

func (b *kvBackend) load(ctx context.Context) (map[string]string, error) {
	v, err := b.kv.GetKV(ctx, b.key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return decode([]byte(v))
}

func (b *kvBackend) save(ctx context.Context, doc map[string]string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return b.kv.PutKV(ctx, b.key, string(data))
}
