package memcache

import (
	"context"
)

// NoExpiration stores an item without expiration time.
const NoExpiration = 0

// Item is an item to be stored or retrieved.
type Item struct {
	Key   string
	Value []byte

	// Flags are opaque to the server, stored and returned with the value.
	Flags uint32

	// Expiration in seconds. Values up to 30 days are relative to now,
	// larger values are a unix timestamp. Zero means never; negative values
	// expire the item immediately.
	Expiration int32

	// CasID is the compare-and-swap token. Only set by Gets, GetsAndTouch
	// and GetMulti; used by CompareAndSwap.
	CasID uint64

	// Found indicates whether the key was found in cache.
	Found bool
}

// Querier is the subset of Client used by most applications.
type Querier interface {
	Get(ctx context.Context, key string) (Item, error)
	GetMulti(ctx context.Context, keys []string) (map[string]Item, error)
	Set(ctx context.Context, item Item) error
	Add(ctx context.Context, item Item) error
	Delete(ctx context.Context, key string) error
	Increment(ctx context.Context, key string, delta uint64) (uint64, error)
	Decrement(ctx context.Context, key string, delta uint64) (uint64, error)
}
