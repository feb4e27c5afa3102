// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"

	"github.com/pdiddy/citation-engine/internal/llm"
	"github.com/pdiddy/citation-engine/internal/logging"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// metadataChars is how much of the document the metadata prompt sees.
// Title pages, abstracts, and author blocks sit at the front.
const metadataChars = 30000

const metadataSystem = `You catalogue technical documents about wood products, forestry, and the lumber industry.`

var metadataPromptTmpl = template.Must(template.New("metadata").Parse(`Describe the document below.

Fill every field. Use "Not specified" for text fields and an empty list for list fields when the document does not say.
- title: the document title
- authors: author names
- author_organizations: organizations the authors belong to
- publication_year: four-digit year as a string
- keywords: 3 to 10 lowercase keywords
- tldr_summary: two or three sentences summarizing the document
- focus_areas: short topic labels such as "mass timber", "wood decay", "lumber grading", "sustainability"
- participating_organizations: companies, agencies, and associations named as taking part
- hyperlinks: {"internal": [...], "external": [...], "other": [...]} links that appear in the document

Respond with a single JSON object with exactly these keys and nothing else.

Document:
{{.}}
`))

var metadataSchema = llm.MustSchema(`{
	"type": "object",
	"required": ["title", "tldr_summary"],
	"properties": {
		"title": {"type": "string", "pattern": "\\S"},
		"authors": {"type": "array", "items": {"type": "string"}},
		"author_organizations": {"type": "array", "items": {"type": "string"}},
		"publication_year": {"type": ["string", "integer"]},
		"keywords": {"type": "array", "items": {"type": "string"}},
		"tldr_summary": {"type": "string", "pattern": "\\S"},
		"focus_areas": {"type": "array", "items": {"type": "string"}},
		"participating_organizations": {"type": "array", "items": {"type": "string"}},
		"hyperlinks": {
			"type": "object",
			"properties": {
				"internal": {"type": "array", "items": {"type": "string"}},
				"external": {"type": "array", "items": {"type": "string"}},
				"other": {"type": "array", "items": {"type": "string"}}
			}
		}
	}
}`)

var validate = validator.New()

// MetadataExtractor produces the descriptive record of a document.
type MetadataExtractor struct {
	completer llm.Completer
	logger    *log.Logger
}

// NewMetadataExtractor returns a MetadataExtractor.
func NewMetadataExtractor(c llm.Completer, logger *log.Logger) *MetadataExtractor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &MetadataExtractor{completer: c, logger: logger}
}

// Extract returns the metadata of markdown. Links found in the Markdown
// itself are merged into the reported hyperlinks. When the service keeps
// returning unusable records the template from types.FallbackMetadata is
// returned with Fallback set; service failures are returned as errors.
func (e *MetadataExtractor) Extract(ctx context.Context, markdown string) (types.DocumentMetadata, error) {
	var buf bytes.Buffer
	if err := metadataPromptTmpl.Execute(&buf, truncate(markdown, metadataChars)); err != nil {
		return types.DocumentMetadata{}, fmt.Errorf("rendering metadata prompt: %w", err)
	}

	var md types.DocumentMetadata
	req := llm.Request{System: metadataSystem, Prompt: buf.String()}
	err := completeJSON(ctx, e.completer, types.ServiceCompletion, req, metadataSchema, &rawMetadata{&md})
	if err == nil {
		err = checkMetadata(md)
	}
	if err != nil {
		var malformed *types.MalformedResponseError
		if !errors.As(err, &malformed) {
			return types.DocumentMetadata{}, fmt.Errorf("extracting metadata: %w", err)
		}
		e.logger.Warn().Err(err).Msg("metadata response unusable, using template")
		md = types.FallbackMetadata()
	}

	md = normalizeMetadata(md)
	md.Hyperlinks = mergeLinks(md.Hyperlinks, Links(markdown))
	return md, nil
}

func checkMetadata(md types.DocumentMetadata) error {
	md.Title = strings.TrimSpace(md.Title)
	md.Summary = strings.TrimSpace(md.Summary)
	if err := validate.Struct(md); err != nil {
		return &types.MalformedResponseError{Service: types.ServiceCompletion, Err: fmt.Errorf("invalid metadata: %w", err)}
	}
	return nil
}

// normalizeMetadata trims fields, drops blank list entries, and fills
// missing values with NotSpecified or empty lists.
func normalizeMetadata(md types.DocumentMetadata) types.DocumentMetadata {
	text := func(s string) string {
		if s = strings.TrimSpace(s); s == "" {
			return types.NotSpecified
		}
		return s
	}
	md.Title = text(md.Title)
	md.Summary = text(md.Summary)
	md.PublicationYear = text(md.PublicationYear)
	md.Authors = cleanList(md.Authors)
	md.AuthorOrganizations = cleanList(md.AuthorOrganizations)
	md.Keywords = cleanList(md.Keywords)
	md.FocusAreas = cleanList(md.FocusAreas)
	md.ParticipatingOrganizations = cleanList(md.ParticipatingOrganizations)
	return md
}

func cleanList(list []string) []string {
	out := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// rawMetadata decodes a metadata record whose publication year may be a
// JSON number.
type rawMetadata struct {
	md *types.DocumentMetadata
}

func (r *rawMetadata) UnmarshalJSON(b []byte) error {
	type plain types.DocumentMetadata
	aux := struct {
		*plain
		PublicationYear json.RawMessage `json:"publication_year"`
	}{plain: (*plain)(r.md)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	r.md.Fallback = false
	year := bytes.TrimSpace(aux.PublicationYear)
	switch {
	case len(year) == 0 || string(year) == "null":
		r.md.PublicationYear = ""
	case year[0] == '"':
		var s string
		if err := json.Unmarshal(year, &s); err != nil {
			return err
		}
		r.md.PublicationYear = s
	default:
		r.md.PublicationYear = string(year)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
