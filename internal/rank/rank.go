// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package rank orders reference propositions by cosine similarity to a
// claim embedding.
package rank

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/pdiddy/citation-engine/internal/knowledge"
	"github.com/pdiddy/citation-engine/internal/vector"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// DefaultK is used when a caller asks for k <= 0.
const DefaultK = 10

// Ranker returns at most k matches sorted by descending score. Equal
// scores keep proposition insertion order. An empty store yields an empty
// result and no error. Implementations must be safe for concurrent use.
type Ranker interface {
	Rank(ctx context.Context, embedding []float32, k int) ([]types.Match, error)
}

// BruteForce scans every proposition of an immutable index per call.
type BruteForce struct {
	index    *knowledge.Index
	defaultK int
}

// NewBruteForce returns a ranker over idx. defaultK applies when Rank is
// called with k <= 0.
func NewBruteForce(idx *knowledge.Index, defaultK int) *BruteForce {
	if defaultK <= 0 {
		defaultK = DefaultK
	}
	return &BruteForce{index: idx, defaultK: defaultK}
}

// Rank scores the claim embedding against every proposition.
func (b *BruteForce) Rank(ctx context.Context, embedding []float32, k int) ([]types.Match, error) {
	if k <= 0 {
		k = b.defaultK
	}
	if b.index == nil || b.index.Len() == 0 {
		return []types.Match{}, nil
	}
	if len(embedding) != b.index.Dim() {
		return nil, &types.ValidationError{
			Field:   "embedding dimension",
			Value:   fmt.Sprint(len(embedding)),
			Allowed: []string{fmt.Sprint(b.index.Dim())},
		}
	}
	query, err := vector.Normalize(embedding)
	if err != nil {
		return nil, &types.ValidationError{Field: "embedding", Value: err.Error()}
	}

	props := b.index.All()
	scored := make([]types.Match, len(props))
	for i, p := range props {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		scored[i] = types.Match{
			PropositionID: p.ID,
			Text:          p.Text,
			Score:         clamp(vector.Dot(query, p.Embedding)),
			Seq:           p.Seq,
			Metadata:      p.Metadata,
		}
	}

	slices.SortStableFunc(scored, func(a, b types.Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})

	if k < len(scored) {
		scored = scored[:k]
	}
	return slices.Clip(scored), nil
}

func clamp(x float64) float64 {
	return max(-1, min(1, x))
}

// AboveThreshold returns the matches scoring at least minScore, keeping
// their order.
func AboveThreshold(matches []types.Match, minScore float64) []types.Match {
	out := make([]types.Match, 0, len(matches))
	for _, m := range matches {
		if m.Score >= minScore {
			out = append(out, m)
		}
	}
	return out
}

// Dedupe removes matches that repeat a proposition id or a proposition
// text. Texts compare case-insensitively with runs of whitespace collapsed.
// Of each duplicate group the best-scoring match is kept, at the position
// of the group's first member.
func Dedupe(matches []types.Match) []types.Match {
	byID := make(map[string]int, len(matches))
	byText := make(map[string]int, len(matches))
	out := make([]types.Match, 0, len(matches))
	for _, m := range matches {
		key := textKey(m.Text)
		i, dup := byID[m.PropositionID]
		if !dup && key != "" {
			i, dup = byText[key]
		}
		if dup {
			if m.Score > out[i].Score {
				delete(byID, out[i].PropositionID)
				out[i] = m
				byID[m.PropositionID] = i
			}
			continue
		}
		byID[m.PropositionID] = len(out)
		if key != "" {
			byText[key] = len(out)
		}
		out = append(out, m)
	}
	return out
}

func textKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
