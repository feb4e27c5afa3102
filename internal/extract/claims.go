// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/phuslu/log"

	"github.com/pdiddy/citation-engine/internal/llm"
	"github.com/pdiddy/citation-engine/internal/logging"
	"github.com/pdiddy/citation-engine/pkg/types"
)

const claimsSystem = `You extract verifiable factual claims from technical documents about wood products and the lumber industry.`

var claimsPromptTmpl = template.Must(template.New("claims").Parse(`List every factual claim in the text below that a reader could check against a reference source.

A claim is a single statement of fact: a property of a wood species or product, a measured result, a market figure, a standard or regulation, or a cause and effect. Skip opinions, instructions, headings, and marketing language.

For each claim give "sourceText": the claim as written in the text. Quote it exactly, trimmed to the one sentence or clause that states it.

Respond with a JSON object and nothing else:
{"claims": [{"sourceText": "Southern yellow pine is the most widely used species for pressure-treated lumber in the United States."}]}

Text:
{{.}}
`))

// claimsSchema accepts either {"claims": [...]} or a bare array of items.
var claimsSchema = llm.MustSchema(`{
	"definitions": {
		"items": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["sourceText"],
				"properties": {"sourceText": {"type": "string"}}
			}
		}
	},
	"oneOf": [
		{"$ref": "#/definitions/items"},
		{
			"type": "object",
			"required": ["claims"],
			"properties": {"claims": {"$ref": "#/definitions/items"}}
		}
	]
}`)

type claimItem struct {
	SourceText string `json:"sourceText"`
}

// ClaimExtractor lists the factual claims of a document.
type ClaimExtractor struct {
	completer llm.Completer
	maxChars  int
	logger    *log.Logger
}

// NewClaimExtractor returns a ClaimExtractor. maxChars <= 0 uses the default
// chunk size.
func NewClaimExtractor(c llm.Completer, maxChars int, logger *log.Logger) *ClaimExtractor {
	if maxChars <= 0 {
		maxChars = defaultChunkChars
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &ClaimExtractor{completer: c, maxChars: maxChars, logger: logger}
}

// Extract returns the claims of markdown in document order. Empty claims
// are dropped and repeats (ignoring case and surrounding space) keep their
// first occurrence. Claim ids are stable for the same document and text.
func (e *ClaimExtractor) Extract(ctx context.Context, documentID, markdown string) ([]types.Claim, error) {
	var texts []string
	chunks := chunk(markdown, e.maxChars)
	for i, part := range chunks {
		var buf bytes.Buffer
		if err := claimsPromptTmpl.Execute(&buf, part); err != nil {
			return nil, fmt.Errorf("rendering claims prompt: %w", err)
		}

		var raw json.RawMessage
		req := llm.Request{System: claimsSystem, Prompt: buf.String()}
		if err := completeJSON(ctx, e.completer, types.ServiceCompletion, req, claimsSchema, &raw); err != nil {
			return nil, fmt.Errorf("extracting claims from chunk %d of %d: %w", i+1, len(chunks), err)
		}
		items, err := decodeClaimItems(raw)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			texts = append(texts, it.SourceText)
		}
		e.logger.Debug().Str("document", documentID).Int("chunk", i+1).Int("claims", len(items)).Msg("extracted claims")
	}
	return buildClaims(documentID, texts), nil
}

func decodeClaimItems(raw json.RawMessage) ([]claimItem, error) {
	var items []claimItem
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, &types.MalformedResponseError{Service: types.ServiceCompletion, Raw: string(raw), Err: err}
		}
		return items, nil
	}
	var wrapped struct {
		Claims []claimItem `json:"claims"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, &types.MalformedResponseError{Service: types.ServiceCompletion, Raw: string(raw), Err: err}
	}
	return wrapped.Claims, nil
}

// buildClaims normalizes whitespace, drops empty and repeated texts, and
// assigns ids and indexes.
func buildClaims(documentID string, texts []string) []types.Claim {
	seen := make(map[string]bool, len(texts))
	claims := make([]types.Claim, 0, len(texts))
	for _, t := range texts {
		text := strings.Join(strings.Fields(t), " ")
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if seen[key] {
			continue
		}
		seen[key] = true
		claims = append(claims, types.Claim{
			ID:         stableID(documentID, text),
			Text:       text,
			DocumentID: documentID,
			Index:      len(claims),
		})
	}
	return claims
}
