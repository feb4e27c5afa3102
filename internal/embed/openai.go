// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embed

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pdiddy/citation-engine/pkg/types"
)

// OpenAI embeds text with the OpenAI embeddings API.
type OpenAI struct {
	client *openai.Client
	model  string
	dim    int
}

// NewOpenAI creates the backend. cfg.Dimensions is sent as the requested
// output size for models that support shortening.
func NewOpenAI(cfg types.EmbeddingConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		dim:    cfg.Dimensions,
	}
}

// Embed requests one embedding.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: o.dim,
	})
	if err != nil {
		status := 0
		var apiErr *openai.APIError
		var reqErr *openai.RequestError
		switch {
		case errors.As(err, &apiErr):
			status = apiErr.HTTPStatusCode
		case errors.As(err, &reqErr):
			status = reqErr.HTTPStatusCode
		}
		return nil, serviceError("create embeddings", status, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, emptyVector("openai")
	}
	return resp.Data[0].Embedding, nil
}
