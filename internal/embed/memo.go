// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embed

import (
	"context"
	"slices"

	"github.com/patrickmn/go-cache"
)

// Memo caches vectors by exact text for the lifetime of a run. Entries
// never expire. Two concurrent callers for the same uncached text may
// both reach the backend.
type Memo struct {
	next  Embedder
	cache *cache.Cache
}

// NewMemo wraps next with an in-memory cache.
func NewMemo(next Embedder) *Memo {
	return &Memo{next: next, cache: cache.New(cache.NoExpiration, 0)}
}

// Embed returns the cached vector for text or computes and stores it.
// Callers own the returned slice; the cache keeps its own copy. Errors
// are not cached.
func (m *Memo) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := m.cache.Get(text); ok {
		return slices.Clone(v.([]float32)), nil
	}
	v, err := m.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	m.cache.SetDefault(text, slices.Clone(v))
	return v, nil
}

// Len returns the number of cached texts.
func (m *Memo) Len() int { return m.cache.ItemCount() }
