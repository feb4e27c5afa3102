// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package embed maps text to unit-normalized embedding vectors.
package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/pdiddy/citation-engine/internal/retry"
	"github.com/pdiddy/citation-engine/internal/vector"
	"github.com/pdiddy/citation-engine/internal/worker"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// Embedder produces a vector for a text. Implementations return raw
// provider vectors; Normalized wraps them to enforce dimension and unit
// length.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New builds the provider backend for cfg and wraps it with the prefix,
// validation, retry, rate limiting, and memoization layers in that order
// from the inside out.
func New(ctx context.Context, cfg types.EmbeddingConfig, policy retry.Policy, limiter *worker.Limiter) (Embedder, error) {
	var backend Embedder
	switch cfg.Provider {
	case types.ProviderOpenAI:
		backend = NewOpenAI(cfg)
	case types.ProviderGemini:
		g, err := NewGemini(ctx, cfg)
		if err != nil {
			return nil, err
		}
		backend = g
	case types.ProviderOllama:
		backend = NewOllama(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	var e Embedder = Normalized(backend, cfg.Dimensions)
	e = Prefixed(e, cfg.Prefix)
	e = Guard(e, string(cfg.Provider), policy, limiter)
	return NewMemo(e), nil
}

type normalized struct {
	next Embedder
	dim  int
}

// Normalized rejects vectors whose length differs from dim (when dim > 0)
// or that are all zero, and scales the rest to unit length.
func Normalized(next Embedder, dim int) Embedder {
	return &normalized{next: next, dim: dim}
}

func (n *normalized) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := n.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if n.dim > 0 && len(v) != n.dim {
		return nil, &types.MalformedResponseError{
			Service: types.ServiceEmbedding,
			Err:     fmt.Errorf("vector has dimension %d, expected %d", len(v), n.dim),
		}
	}
	out, err := vector.Normalize(v)
	if err != nil {
		return nil, &types.MalformedResponseError{Service: types.ServiceEmbedding, Err: err}
	}
	return out, nil
}

type prefixed struct {
	next   Embedder
	prefix string
}

// Prefixed prepends prefix to every text. An empty prefix returns next
// unchanged.
func Prefixed(next Embedder, prefix string) Embedder {
	if prefix == "" {
		return next
	}
	return &prefixed{next: next, prefix: prefix}
}

func (p *prefixed) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.next.Embed(ctx, p.prefix+text)
}

type guarded struct {
	next    Embedder
	key     string
	policy  retry.Policy
	limiter *worker.Limiter
}

// Guard applies the retry policy and the rate limit for provider to each
// call.
func Guard(next Embedder, provider string, policy retry.Policy, limiter *worker.Limiter) Embedder {
	return &guarded{
		next:    next,
		key:     types.ServiceEmbedding + "/" + provider,
		policy:  policy,
		limiter: limiter,
	}
}

func (g *guarded) Embed(ctx context.Context, text string) ([]float32, error) {
	return retry.Call(ctx, g.policy, func(ctx context.Context) ([]float32, error) {
		if err := g.limiter.Wait(ctx, g.key); err != nil {
			return nil, err
		}
		return g.next.Embed(ctx, text)
	})
}

// serviceError classifies a provider failure. Status 0 means no response
// was received.
func serviceError(op string, status int, err error) *types.ServiceError {
	transient := status == 0 || types.IsTransientStatus(status)
	if errors.Is(err, context.Canceled) {
		transient = false
	}
	se := types.EmbeddingServiceError(op, err, transient)
	se.StatusCode = status
	return se
}

func emptyVector(provider string) error {
	return &types.MalformedResponseError{
		Service: types.ServiceEmbedding,
		Err:     fmt.Errorf("%s returned no embedding", provider),
	}
}
