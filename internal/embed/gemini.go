// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embed

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/pdiddy/citation-engine/pkg/types"
)

// Gemini embeds text with the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	dim    int32
}

// NewGemini creates the backend.
func NewGemini(ctx context.Context, cfg types.EmbeddingConfig) (*Gemini, error) {
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
	return &Gemini{client: client, model: cfg.Model, dim: int32(cfg.Dimensions)}, nil
}

// Embed requests one embedding.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	var config *genai.EmbedContentConfig
	if g.dim > 0 {
		dim := g.dim
		config = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	result, err := g.client.Models.EmbedContent(ctx, g.model, contents, config)
	if err != nil {
		status := 0
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			status = apiErr.Code
		}
		return nil, serviceError("embed content", status, err)
	}
	if result == nil || len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, emptyVector("gemini")
	}
	return result.Embeddings[0].Values, nil
}
