// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/pdiddy/citation-engine/pkg/types"
)

// StripFences removes a surrounding Markdown code fence (```json ... ```)
// that models often wrap JSON responses in.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Schema is a compiled JSON schema for a completion response.
type Schema struct {
	schema *gojsonschema.Schema
}

// MustSchema compiles a JSON schema document and panics if it is invalid.
// It is meant for package-level schema variables.
func MustSchema(doc string) *Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("llm: invalid schema: %v", err))
	}
	return &Schema{schema: s}
}

// DecodeJSON validates raw against schema and unmarshals it into v. Any
// failure is a *types.MalformedResponseError carrying the raw text.
func DecodeJSON(service, raw string, schema *Schema, v any) error {
	body := StripFences(raw)
	malformed := func(err error) error {
		return &types.MalformedResponseError{Service: service, Raw: raw, Err: err}
	}
	if body == "" {
		return malformed(errors.New("empty response"))
	}
	if !json.Valid([]byte(body)) {
		return malformed(errors.New("response is not valid JSON"))
	}

	if schema != nil {
		result, err := schema.schema.Validate(gojsonschema.NewStringLoader(body))
		if err != nil {
			return malformed(fmt.Errorf("validating response: %w", err))
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			return malformed(fmt.Errorf("schema violation: %s", strings.Join(msgs, "; ")))
		}
	}

	if err := json.Unmarshal([]byte(body), v); err != nil {
		return malformed(fmt.Errorf("decoding response: %w", err))
	}
	return nil
}
