// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/phuslu/log"

	"github.com/pdiddy/citation-engine/internal/llm"
	"github.com/pdiddy/citation-engine/internal/logging"
	"github.com/pdiddy/citation-engine/pkg/types"
)

const cleanupSystem = `You repair Markdown produced by automated PDF and Word conversion. You never add, remove, or reword content.`

var cleanupPromptTmpl = template.Must(template.New("cleanup").Parse(`Fix the formatting of the Markdown below.

- Rejoin words and sentences broken across lines or pages.
- Restore heading levels (## for sections, ### for subsections) and list structure.
- Rebuild tables that were flattened into plain text.
- Remove running headers, footers, and page numbers that interrupt the text.
- Keep every <!-- page N --> marker, link, and figure caption.
- Do not summarize, translate, or change wording.

Return only the corrected Markdown with no commentary and no code fence.

{{if .Part}}This is part {{.Part}} of {{.Parts}} of the document.
{{end}}
Markdown:
{{.Markdown}}
`))

// Cleaner repairs converted Markdown with a completion service. Large
// documents are cleaned in heading-aligned chunks.
type Cleaner struct {
	completer llm.Completer
	maxChars  int
	logger    *log.Logger
}

// NewCleaner returns a Cleaner. maxChars <= 0 uses the default chunk size.
func NewCleaner(c llm.Completer, maxChars int, logger *log.Logger) *Cleaner {
	if maxChars <= 0 {
		maxChars = defaultChunkChars
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Cleaner{completer: c, maxChars: maxChars, logger: logger}
}

// Clean returns the repaired document. An empty response for any chunk is
// a *types.MalformedResponseError.
func (c *Cleaner) Clean(ctx context.Context, markdown string) (string, error) {
	chunks := chunk(markdown, c.maxChars)
	if len(chunks) == 0 {
		return "", nil
	}

	cleaned := make([]string, 0, len(chunks))
	for i, part := range chunks {
		data := struct {
			Part, Parts int
			Markdown    string
		}{Markdown: part}
		if len(chunks) > 1 {
			data.Part, data.Parts = i+1, len(chunks)
		}
		var buf bytes.Buffer
		if err := cleanupPromptTmpl.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("rendering cleanup prompt: %w", err)
		}

		out, err := c.completer.Complete(ctx, llm.Request{System: cleanupSystem, Prompt: buf.String()})
		if err != nil {
			return "", fmt.Errorf("cleaning chunk %d of %d: %w", i+1, len(chunks), err)
		}
		out = stripMarkdownFence(out)
		if out == "" {
			return "", &types.MalformedResponseError{
				Service: types.ServiceCompletion,
				Err:     fmt.Errorf("empty cleanup result for chunk %d", i+1),
			}
		}
		c.logger.Debug().Int("chunk", i+1).Int("chunks", len(chunks)).Int("in", len(part)).Int("out", len(out)).Msg("cleaned chunk")
		cleaned = append(cleaned, out)
	}
	return strings.Join(cleaned, "\n\n") + "\n", nil
}

// stripMarkdownFence removes a ```markdown fence wrapped around the whole
// response.
func stripMarkdownFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") && strings.HasSuffix(s, "```") && len(s) >= 6 {
		return llm.StripFences(s)
	}
	return s
}
