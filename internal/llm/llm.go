// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm wraps the generative AI providers used for document
// cleanup, extraction, and citation selection behind one interface.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/pdiddy/citation-engine/internal/retry"
	"github.com/pdiddy/citation-engine/internal/worker"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// Request is one completion call.
type Request struct {
	// System is the system instruction, if any.
	System string

	// Prompt is the user message.
	Prompt string

	// JSON asks the provider for a JSON object response where supported.
	JSON bool

	// MaxTokens and Temperature override the backend defaults when set.
	MaxTokens   int
	Temperature *float64
}

// Completer sends a prompt to a completion service and returns the text
// of the response. Failures are returned as *types.ServiceError or
// *types.MalformedResponseError.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// New returns the backend selected by cfg.Provider.
func New(ctx context.Context, cfg types.AIConfig) (Completer, error) {
	switch cfg.Provider {
	case types.ProviderOpenAI:
		return NewOpenAI(cfg), nil
	case types.ProviderAnthropic:
		return NewAnthropic(cfg), nil
	case types.ProviderGemini:
		return NewGemini(ctx, cfg)
	case types.ProviderOllama:
		return NewOllama(cfg), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
}

// Guarded applies the retry policy and the provider's rate limit to every
// call of the wrapped Completer.
type Guarded struct {
	next    Completer
	policy  retry.Policy
	limiter *worker.Limiter
}

// Guard wraps c. A nil limiter disables rate limiting.
func Guard(c Completer, policy retry.Policy, limiter *worker.Limiter) *Guarded {
	return &Guarded{next: c, policy: policy, limiter: limiter}
}

// Name returns the wrapped backend name.
func (g *Guarded) Name() string { return g.next.Name() }

// Complete waits for a rate-limit token before each attempt.
func (g *Guarded) Complete(ctx context.Context, req Request) (string, error) {
	key := types.ServiceCompletion + "/" + g.next.Name()
	return retry.Call(ctx, g.policy, func(ctx context.Context) (string, error) {
		if err := g.limiter.Wait(ctx, key); err != nil {
			return "", err
		}
		return g.next.Complete(ctx, req)
	})
}

// serviceError classifies a provider failure. Status 0 means the request
// never got a response and is treated as transient unless the caller
// cancelled.
func serviceError(op string, status int, err error) *types.ServiceError {
	transient := status == 0 || types.IsTransientStatus(status)
	if errors.Is(err, context.Canceled) {
		transient = false
	}
	se := types.CompletionServiceError(op, err, transient)
	se.StatusCode = status
	return se
}

func emptyResponse(provider string) error {
	return &types.MalformedResponseError{
		Service: types.ServiceCompletion,
		Err:     fmt.Errorf("%s returned no text content", provider),
	}
}

func maxTokens(req Request, def int) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if def > 0 {
		return def
	}
	return 1024
}

func temperature(req Request, def float64) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	return def
}
