// Package cache provides the shared get/set store used for search results,
// fetched pages and embeddings. Semantics are last-write-wins with TTL-bounded
// staleness; a cache failure is never a request failure.
package cache

import (
	"context"
	"time"
)

// Cache is the minimal store contract the pipeline depends on.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Layered consults caches in order on Get and writes through all of them on
// Set. The usual arrangement is a small in-process cache in front of Redis.
type Layered struct {
	layers []Cache
}

func NewLayered(layers ...Cache) *Layered {
	return &Layered{layers: layers}
}

func (l *Layered) Get(ctx context.Context, key string) ([]byte, bool) {
	for i, layer := range l.layers {
		if v, ok := layer.Get(ctx, key); ok {
			// backfill faster layers that missed
			for j := 0; j < i; j++ {
				l.layers[j].Set(ctx, key, v, time.Minute)
			}
			return v, true
		}
	}
	return nil, false
}

func (l *Layered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	for _, layer := range l.layers {
		layer.Set(ctx, key, value, ttl)
	}
}
