// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/pdiddy/citation-engine/pkg/types"
)

// Gemini completes prompts with the Gemini API.
type Gemini struct {
	client *genai.Client
	cfg    types.AIConfig
}

// NewGemini creates the backend.
func NewGemini(ctx context.Context, cfg types.AIConfig) (*Gemini, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

// Name returns "gemini".
func (g *Gemini) Name() string { return string(types.ProviderGemini) }

// Complete generates content and returns the text of the first candidate
// that has any.
func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature(req, g.cfg.Temperature))),
		MaxOutputTokens: int32(maxTokens(req, g.cfg.MaxTokens)),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, config)
	if err != nil {
		return "", serviceError("generate content", geminiStatus(err), err)
	}

	var b strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					b.WriteString(part.Text)
				}
			}
			if b.Len() > 0 {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "", emptyResponse(g.Name())
	}
	return b.String(), nil
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	return 0
}
