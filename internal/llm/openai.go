// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pdiddy/citation-engine/pkg/types"
)

// OpenAI completes prompts with the OpenAI chat completions API.
type OpenAI struct {
	client *openai.Client
	cfg    types.AIConfig
}

// NewOpenAI creates the backend. cfg.BaseURL points it at a compatible
// endpoint (proxy, Azure gateway, or a test server).
func NewOpenAI(cfg types.AIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}
}

// Name returns "openai".
func (o *OpenAI) Name() string { return string(types.ProviderOpenAI) }

// Complete sends one chat completion request.
func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Messages:    messages,
		MaxTokens:   maxTokens(req, o.cfg.MaxTokens),
		Temperature: float32(temperature(req, o.cfg.Temperature)),
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", serviceError("chat completion", openAIStatus(err), err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", emptyResponse(o.Name())
	}
	return resp.Choices[0].Message.Content, nil
}

// openAIStatus extracts the HTTP status from a go-openai error, or 0 when
// the request failed before a response arrived.
func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
