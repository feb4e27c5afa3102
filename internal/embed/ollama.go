// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pdiddy/citation-engine/pkg/types"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama embeds text with a local Ollama server.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates the backend.
func NewOllama(cfg types.EmbeddingConfig) *Ollama {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	return &Ollama{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{},
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed posts to /api/embeddings.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	data, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, serviceError("embeddings", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, serviceError("embeddings", resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(body))))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &types.MalformedResponseError{Service: types.ServiceEmbedding, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(out.Embedding) == 0 {
		return nil, emptyVector("ollama")
	}
	v := make([]float32, len(out.Embedding))
	for i, x := range out.Embedding {
		v[i] = float32(x)
	}
	return v, nil
}
