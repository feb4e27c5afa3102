// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embed

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/citation-engine/internal/retry"
	"github.com/pdiddy/citation-engine/internal/vector"
	"github.com/pdiddy/citation-engine/pkg/types"
)

func init() {
	retry.BaseDelay = time.Millisecond
}

type stubEmbedder struct {
	calls atomic.Int32
	texts []string
	fn    func(text string) ([]float32, error)
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	s.texts = append(s.texts, text)
	return s.fn(text)
}

func constant(v ...float32) *stubEmbedder {
	return &stubEmbedder{fn: func(string) ([]float32, error) { return append([]float32(nil), v...), nil }}
}

func TestNormalized_UnitLength(t *testing.T) {
	e := Normalized(constant(3, 4), 2)
	v, err := e.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vector.Norm(v), 1e-6)
	assert.InDelta(t, 0.6, v[0], 1e-6)
}

func TestNormalized_DimensionMismatch(t *testing.T) {
	_, err := Normalized(constant(1, 2, 3), 2).Embed(context.Background(), "x")
	var malformed *types.MalformedResponseError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, types.ServiceEmbedding, malformed.Service)
	assert.Contains(t, err.Error(), "dimension 3, expected 2")
}

func TestNormalized_ZeroVector(t *testing.T) {
	_, err := Normalized(constant(0, 0), 0).Embed(context.Background(), "x")
	var malformed *types.MalformedResponseError
	require.True(t, errors.As(err, &malformed))
	assert.ErrorIs(t, err, vector.ErrZeroVector)
}

func TestPrefixed(t *testing.T) {
	stub := constant(1)
	_, err := Prefixed(stub, "search_document: ").Embed(context.Background(), "oak decay")
	require.NoError(t, err)
	assert.Equal(t, []string{"search_document: oak decay"}, stub.texts)

	assert.Same(t, stub, Prefixed(stub, "").(*stubEmbedder))
}

func TestMemo_CachesIdenticalText(t *testing.T) {
	stub := constant(1, 0)
	m := NewMemo(stub)
	for i := 0; i < 3; i++ {
		_, err := m.Embed(context.Background(), "same claim")
		require.NoError(t, err)
	}
	_, err := m.Embed(context.Background(), "other claim")
	require.NoError(t, err)
	assert.EqualValues(t, 2, stub.calls.Load())
	assert.Equal(t, 2, m.Len())
}

func TestMemo_CallerMutationDoesNotReachCache(t *testing.T) {
	stub := constant(0.6, 0.8)
	m := NewMemo(stub)

	first, err := m.Embed(context.Background(), "kiln drying")
	require.NoError(t, err)
	first[0] = 42

	second, err := m.Embed(context.Background(), "kiln drying")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.6, 0.8}, second)
	second[1] = -1

	third, err := m.Embed(context.Background(), "kiln drying")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.6, 0.8}, third)
	assert.EqualValues(t, 1, stub.calls.Load())
}

func TestMemo_DoesNotCacheErrors(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	stub := &stubEmbedder{fn: func(string) ([]float32, error) {
		if fail.Load() {
			return nil, errors.New("down")
		}
		return []float32{1}, nil
	}}
	m := NewMemo(stub)
	_, err := m.Embed(context.Background(), "t")
	require.Error(t, err)
	fail.Store(false)
	v, err := m.Embed(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, v)
}

func TestGuard_RetriesTransient(t *testing.T) {
	var n atomic.Int32
	stub := &stubEmbedder{fn: func(string) ([]float32, error) {
		if n.Add(1) == 1 {
			return nil, serviceError("embed", http.StatusServiceUnavailable, errors.New("busy"))
		}
		return []float32{1}, nil
	}}
	v, err := Guard(stub, "test", retry.Policy{MaxAttempts: 3}, nil).Embed(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, v)
	assert.EqualValues(t, 2, stub.calls.Load())
}

func TestGuard_QuotaExhaustedIsEmbeddingServiceError(t *testing.T) {
	stub := &stubEmbedder{fn: func(string) ([]float32, error) {
		return nil, serviceError("embed", http.StatusTooManyRequests, errors.New("quota"))
	}}
	_, err := Guard(stub, "test", retry.Policy{MaxAttempts: 2}, nil).Embed(context.Background(), "t")
	require.Error(t, err)
	assert.True(t, types.IsService(err, types.ServiceEmbedding))
	assert.EqualValues(t, 2, stub.calls.Load())
}

func TestOpenAI_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req["model"])
		assert.EqualValues(t, 3, req["dimensions"])
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"model":"text-embedding-3-small"}`))
	}))
	defer srv.Close()

	e := NewOpenAI(types.EmbeddingConfig{Model: "text-embedding-3-small", APIKey: "k", BaseURL: srv.URL + "/v1", Dimensions: 3})
	v, err := e.Embed(context.Background(), "Brown rot decays softwood.")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
}

func TestOpenAI_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI(types.EmbeddingConfig{Model: "m", APIKey: "k", BaseURL: srv.URL + "/v1"}).Embed(context.Background(), "t")
	var se *types.ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.False(t, se.Transient)
}

func TestOllama_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "hello", req.Prompt)
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float64{0.5, -0.5}})
	}))
	defer srv.Close()

	v, err := NewOllama(types.EmbeddingConfig{Model: "nomic-embed-text", BaseURL: srv.URL}).Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.5}, v)
}

func TestOllama_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewOllama(types.EmbeddingConfig{Model: "m", BaseURL: srv.URL}).Embed(context.Background(), "t")
	assert.True(t, types.IsTransient(err))
	assert.True(t, types.IsService(err, types.ServiceEmbedding))
}

func TestNew_FullStack(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "q: claim", req.Prompt)
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float64{0, 2}})
	}))
	defer srv.Close()

	cfg := types.EmbeddingConfig{Provider: types.ProviderOllama, Model: "m", BaseURL: srv.URL, Dimensions: 2, Prefix: "q: "}
	e, err := New(context.Background(), cfg, retry.Policy{MaxAttempts: 1}, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		v, err := e.Embed(context.Background(), "claim")
		require.NoError(t, err)
		assert.InDelta(t, 1.0, v[1], 1e-6)
		assert.False(t, math.IsNaN(float64(v[0])))
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), types.EmbeddingConfig{Provider: types.ProviderAnthropic}, retry.Policy{}, nil)
	assert.ErrorContains(t, err, "unknown embedding provider")
}
