// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/citation-engine/internal/retry"
	"github.com/pdiddy/citation-engine/internal/worker"
	"github.com/pdiddy/citation-engine/pkg/types"
)

func init() {
	retry.BaseDelay = time.Millisecond
}

type fakeCompleter struct {
	calls   atomic.Int32
	replies []func() (string, error)
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(context.Context, Request) (string, error) {
	n := int(f.calls.Add(1)) - 1
	if n >= len(f.replies) {
		n = len(f.replies) - 1
	}
	return f.replies[n]()
}

func TestOpenAI_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewOpenAI(types.AIConfig{Model: "gpt-test", APIKey: "sk-test", BaseURL: srv.URL + "/v1", MaxTokens: 100})
	out, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "hello", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)

	assert.Equal(t, "gpt-test", got["model"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	format := got["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])
}

func TestOpenAI_StatusClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	c := NewOpenAI(types.AIConfig{Model: "m", APIKey: "k", BaseURL: srv.URL + "/v1"})
	_, err := c.Complete(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)

	var svcErr *types.ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, http.StatusTooManyRequests, svcErr.StatusCode)
	assert.True(t, svcErr.Transient)
	assert.Equal(t, types.ServiceCompletion, svcErr.Service)
}

func TestAnthropic_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"first "},{"type":"text","text":"second"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer srv.Close()

	c := NewAnthropic(types.AIConfig{Model: "claude-test", APIKey: "key", BaseURL: srv.URL, MaxTokens: 50})
	out, err := c.Complete(context.Background(), Request{System: "be brief", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "first second", out)
	assert.Equal(t, "claude-test", got["model"])
	assert.EqualValues(t, 50, got["max_tokens"])
}

func TestAnthropic_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer srv.Close()

	c := NewAnthropic(types.AIConfig{Model: "m", APIKey: "k", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	var svcErr *types.ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)
	assert.False(t, svcErr.Transient)
}

func TestOllama_Complete(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: "answer"},
			Done:    true,
		})
	}))
	defer srv.Close()

	c := NewOllama(types.AIConfig{Model: "llama3", BaseURL: srv.URL + "/"})
	out, err := c.Complete(context.Background(), Request{System: "s", Prompt: "q", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
	assert.Equal(t, "llama3", got.Model)
	assert.Equal(t, "json", got.Format)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "user", got.Messages[1].Role)
}

func TestOllama_EmptyContentIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"role":"assistant","content":""},"done":true}`))
	}))
	defer srv.Close()

	_, err := NewOllama(types.AIConfig{Model: "m", BaseURL: srv.URL}).Complete(context.Background(), Request{Prompt: "q"})
	var malformed *types.MalformedResponseError
	require.True(t, errors.As(err, &malformed))
}

func TestOllama_ServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "loading model", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewOllama(types.AIConfig{Model: "m", BaseURL: srv.URL}).Complete(context.Background(), Request{Prompt: "q"})
	assert.True(t, types.IsTransient(err))
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), types.AIConfig{Provider: "mystery"})
	assert.ErrorContains(t, err, "unknown completion provider")
}

func TestNew_SelectsBackend(t *testing.T) {
	c, err := New(context.Background(), types.AIConfig{Provider: types.ProviderOllama, Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", c.Name())

	c, err = New(context.Background(), types.AIConfig{Provider: types.ProviderAnthropic, Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Name())
}

func TestGuard_RetriesTransient(t *testing.T) {
	fake := &fakeCompleter{replies: []func() (string, error){
		func() (string, error) { return "", serviceError("x", 503, errors.New("busy")) },
		func() (string, error) { return "done", nil },
	}}
	g := Guard(fake, retry.Policy{MaxAttempts: 3}, worker.NewLimiter(0, 1))
	out, err := g.Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.EqualValues(t, 2, fake.calls.Load())
	assert.Equal(t, "fake", g.Name())
}

func TestGuard_DoesNotRetryMalformed(t *testing.T) {
	fake := &fakeCompleter{replies: []func() (string, error){
		func() (string, error) { return "", emptyResponse("fake") },
	}}
	_, err := Guard(fake, retry.Policy{MaxAttempts: 3}, nil).Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.EqualValues(t, 1, fake.calls.Load())
}

func TestServiceError_CancelledNotTransient(t *testing.T) {
	assert.False(t, serviceError("op", 0, context.Canceled).Transient)
	assert.True(t, serviceError("op", 0, errors.New("connection refused")).Transient)
}

var pairSchema = MustSchema(`{
	"type": "object",
	"required": ["name", "count"],
	"additionalProperties": false,
	"properties": {
		"name": {"type": "string"},
		"count": {"type": "integer", "minimum": 0}
	}
}`)

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, DecodeJSON("test", "```json\n{\"name\":\"a\",\"count\":2}\n```", pairSchema, &v))
	assert.Equal(t, "a", v.Name)
	assert.Equal(t, 2, v.Count)
}

func TestDecodeJSON_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", "  "},
		{"not json", "sure, here you go"},
		{"missing field", `{"name":"a"}`},
		{"wrong type", `{"name":"a","count":"two"}`},
		{"extra field", `{"name":"a","count":1,"note":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v map[string]any
			err := DecodeJSON("test", tt.raw, pairSchema, &v)
			var malformed *types.MalformedResponseError
			require.True(t, errors.As(err, &malformed), "got %v", err)
			assert.Equal(t, tt.raw, malformed.Raw)
		})
	}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `[1]`, StripFences("```\n[1]```"))
	assert.Equal(t, `plain`, StripFences("  plain \n"))
}
