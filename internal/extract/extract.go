// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract turns converted Markdown into the inputs of citation
// matching: a cleaned document, its factual claims, and its descriptive
// metadata. Each step is one or more completion calls whose responses are
// validated before use.
package extract

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/pdiddy/citation-engine/internal/llm"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// defaultChunkChars bounds the Markdown sent in one completion call.
const defaultChunkChars = 24000

// maxParseAttempts is the number of completion calls made for one chunk
// before a malformed response is treated as final.
const maxParseAttempts = 2

// section is a run of Markdown under one heading.
type section struct {
	heading string
	raw     string
	page    int
}

// splitSections splits Markdown at ## and ### headings. Each section keeps
// its raw text, heading line included, so joining the raw text of all
// sections reproduces the input. Page numbers come from <!-- page N -->
// markers.
func splitSections(content string) []section {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	var sections []section
	current := section{page: 1}
	var buf []string
	page := 1

	flush := func() {
		raw := strings.Join(buf, "\n")
		if current.heading != "" || strings.TrimSpace(raw) != "" {
			current.raw = raw
			sections = append(sections, current)
		}
		buf = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if p, ok := parsePageMarker(trimmed); ok {
			page = p
		}
		if isHeading(trimmed) {
			flush()
			current = section{heading: stripHeadingPrefix(trimmed), page: page}
		}
		buf = append(buf, line)
	}
	flush()
	return sections
}

func isHeading(line string) bool {
	return strings.HasPrefix(line, "## ") || strings.HasPrefix(line, "### ")
}

func stripHeadingPrefix(line string) string {
	return strings.TrimSpace(strings.TrimLeft(line, "#"))
}

// parsePageMarker reads the page number from <!-- page 3 -->.
func parsePageMarker(line string) (int, bool) {
	if !strings.HasPrefix(line, "<!-- page ") || !strings.HasSuffix(line, " -->") {
		return 0, false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(line, "<!-- page "), " -->")
	var page int
	if _, err := fmt.Sscanf(inner, "%d", &page); err != nil {
		return 0, false
	}
	return page, true
}

// chunk groups consecutive sections into pieces of at most maxChars. A
// single section larger than maxChars becomes its own chunk.
func chunk(content string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = defaultChunkChars
	}
	if len(content) <= maxChars {
		if strings.TrimSpace(content) == "" {
			return nil
		}
		return []string{content}
	}

	var chunks []string
	var b strings.Builder
	for _, sec := range splitSections(content) {
		if b.Len() > 0 && b.Len()+len(sec.raw)+1 > maxChars {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(sec.raw)
	}
	if strings.TrimSpace(b.String()) != "" {
		chunks = append(chunks, b.String())
	}
	return chunks
}

// stableID is the first 12 hex characters of SHA-256 over the parts.
func stableID(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}

// completeJSON calls c and decodes the response into v, calling again once
// when the response is malformed. Service errors are returned unchanged.
func completeJSON(ctx context.Context, c llm.Completer, service string, req llm.Request, schema *llm.Schema, v any) error {
	req.JSON = true
	var lastErr error
	for attempt := 0; attempt < maxParseAttempts; attempt++ {
		raw, err := c.Complete(ctx, req)
		if err != nil {
			var malformed *types.MalformedResponseError
			if !errors.As(err, &malformed) {
				return err
			}
			lastErr = err
			continue
		}
		if err := llm.DecodeJSON(service, raw, schema, v); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
