// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"fmt"

	"github.com/pdiddy/citation-engine/internal/vector"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// Index is the immutable in-memory view of the reference propositions.
// It is built once per process and is safe for concurrent readers.
type Index struct {
	props []types.Proposition
	byID  map[string]int
	dim   int
}

// NewIndex validates and normalizes props in order and assigns each its
// insertion sequence. All embeddings must share one dimension; ids must be
// unique. The input slice is not modified.
func NewIndex(props []types.Proposition) (*Index, error) {
	idx := &Index{
		props: make([]types.Proposition, 0, len(props)),
		byID:  make(map[string]int, len(props)),
	}
	for i, p := range props {
		if p.ID == "" {
			return nil, fmt.Errorf("proposition %d: empty id", i)
		}
		if _, dup := idx.byID[p.ID]; dup {
			return nil, fmt.Errorf("proposition %s: duplicate id", p.ID)
		}
		if len(p.Embedding) == 0 {
			return nil, fmt.Errorf("proposition %s: missing embedding", p.ID)
		}
		if idx.dim == 0 {
			idx.dim = len(p.Embedding)
		} else if len(p.Embedding) != idx.dim {
			return nil, fmt.Errorf("proposition %s: dimension %d, store dimension is %d", p.ID, len(p.Embedding), idx.dim)
		}

		unit, err := vector.Normalize(p.Embedding)
		if err != nil {
			return nil, fmt.Errorf("proposition %s: %w", p.ID, err)
		}
		p.Embedding = unit
		p.Seq = i
		idx.byID[p.ID] = i
		idx.props = append(idx.props, p)
	}
	return idx, nil
}

// Len returns the number of propositions.
func (x *Index) Len() int { return len(x.props) }

// Dim returns the embedding dimension, or 0 for an empty index.
func (x *Index) Dim() int { return x.dim }

// All returns the propositions in insertion order. Callers must not modify
// the returned slice or its elements.
func (x *Index) All() []types.Proposition { return x.props }

// Get returns the proposition with the given id.
func (x *Index) Get(id string) (types.Proposition, bool) {
	i, ok := x.byID[id]
	if !ok {
		return types.Proposition{}, false
	}
	return x.props[i], true
}
