// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pdiddy/citation-engine/pkg/types"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama completes prompts with a local Ollama server.
type Ollama struct {
	baseURL string
	cfg     types.AIConfig
	client  *http.Client
}

// NewOllama creates the backend.
func NewOllama(cfg types.AIConfig) *Ollama {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	return &Ollama{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		cfg:     cfg,
		client:  &http.Client{},
	}
}

// Name returns "ollama".
func (o *Ollama) Name() string { return string(types.ProviderOllama) }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Complete posts a non-streaming chat request to /api/chat.
func (o *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	body := ollamaChatRequest{
		Model:  o.cfg.Model,
		Stream: false,
		Options: map[string]any{
			"temperature": temperature(req, o.cfg.Temperature),
			"num_predict": maxTokens(req, o.cfg.MaxTokens),
		},
	}
	if req.System != "" {
		body.Messages = append(body.Messages, ollamaMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, ollamaMessage{Role: "user", Content: req.Prompt})
	if req.JSON {
		body.Format = "json"
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", serviceError("chat", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var msg bytes.Buffer
		msg.ReadFrom(resp.Body)
		return "", serviceError("chat", resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(msg.String())))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", &types.MalformedResponseError{Service: types.ServiceCompletion, Err: fmt.Errorf("decoding ollama response: %w", err)}
	}
	if chatResp.Message.Content == "" {
		return "", emptyResponse(o.Name())
	}
	return chatResp.Message.Content, nil
}
