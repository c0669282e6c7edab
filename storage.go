package access

import (
	"context"
	"errors"
)

// Storage keys used by a session actor. All keys live in the actor's own
// namespace; two sessions never share a key.
const (
	KeyAccount    = "account"
	KeyClientID   = "clientId"
	KeyTokenMap   = "tokenMap"
	KeyTokenIndex = "tokenIndex"
	KeySigningKey = "signingKey"

	// CodeKeyPrefix namespaces transient authorization-code records.
	CodeKeyPrefix = "codes/"
)

// ErrValueTooLarge is returned by Tx.Put when a serialized value exceeds the
// backend's per-value size quantum. Callers recover by shrinking the value
// (the token store evicts its oldest entry and retries).
var ErrValueTooLarge = errors.New("storage: value exceeds size limit")

// Tx is the handle passed to an Update function. All reads observe committed
// state plus the transaction's own staged writes; nothing becomes visible to
// other readers until Update returns without error.
type Tx interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) (bool, error)
}

// Storage is durable transactional key-value storage scoped to one session
// actor. Implementations guarantee that Update is all-or-nothing: either
// every staged write commits or none do.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) (bool, error)
	DeleteAll(ctx context.Context) error
	Update(ctx context.Context, fn func(tx Tx) error) error
}

// Backend produces namespaced Storage views, one per session actor, over a
// shared durable store.
type Backend interface {
	Namespace(id string) Storage
	Close(ctx context.Context) error
}
