// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package retry applies a bounded retry policy with exponential backoff to
// calls against external services.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/pdiddy/citation-engine/pkg/types"
)

// BaseDelay is the backoff base used when a Policy does not set one.
// Tests override this to avoid real sleeps.
var BaseDelay = time.Second

const defaultMaxAttempts = 3

// Policy bounds the attempts made for one external call. The delay before
// retry n (1-based) is BaseDelay * 2^(n-1).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
}

// NewPolicy builds a Policy from configuration.
func NewPolicy(cfg types.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		Timeout:     cfg.Timeout,
	}
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = BaseDelay
	}
	return time.Duration(math.Pow(2, float64(attempt-1))) * base
}

// wait sleeps before the given retry attempt or returns ctx.Err().
func (p Policy) wait(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.backoff(attempt)):
		return nil
	}
}

// Retryable reports whether err should be retried: transient service
// errors and attempt deadlines.
func Retryable(err error) bool {
	return types.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. Each attempt gets its own deadline when the
// policy sets a Timeout. Cancellation of ctx stops retrying immediately.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.attempts()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := p.wait(ctx, attempt); err != nil {
				return err
			}
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !Retryable(err) {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// DoHTTP executes an HTTP request and retries on transient statuses
// (408, 429, 5xx) and transport errors with exponential backoff.
//
// Request bodies are replayed through req.GetBody, which http.NewRequest
// sets for in-memory readers. On each retried response the body is drained
// and closed before sleeping. After exhausting attempts the last response
// is returned so the caller can inspect it.
func (p Policy) DoHTTP(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	attempts := p.attempts()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := p.wait(ctx, attempt); err != nil {
				return nil, err
			}
		}

		r := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rewinding request body: %w", err)
			}
			r.Body = body
		}

		resp, err := client.Do(r)
		last := attempt+1 >= attempts
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if last {
				return nil, err
			}
			continue
		}

		if !types.IsTransientStatus(resp.StatusCode) || last {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

// StatusError converts a non-2xx response into a ServiceError, reading up
// to 4 KiB of the body for context. The caller still owns resp.Body.
func StatusError(service, op string, resp *http.Response) *types.ServiceError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &types.ServiceError{
		Service:    service,
		Op:         op,
		StatusCode: resp.StatusCode,
		Transient:  types.IsTransientStatus(resp.StatusCode),
		Err:        fmt.Errorf("%s", body),
	}
}
