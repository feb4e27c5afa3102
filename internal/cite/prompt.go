// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cite

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/pdiddy/citation-engine/internal/llm"
	"github.com/pdiddy/citation-engine/pkg/types"
)

const systemPrompt = `You verify citations for technical documents about wood and the lumber industry. You only ever cite reference propositions from the candidate list you are given.`

// selectionPromptTmpl lists the claim and its candidates. The model must
// answer with ids copied from the list.
var selectionPromptTmpl = template.Must(template.New("selection").Parse(`Decide which of the candidate reference propositions support the claim below.

Rules:
- You MUST ONLY select ids from the candidate list. Never invent an id.
- Select the propositions that directly support the claim, best first. Select none if no candidate supports it.
- alignment is one of:
  - "aligned": the selected propositions fully support the claim
  - "partially_aligned": they support part of the claim
  - "not_aligned": no candidate supports the claim (selected_ids must be empty)
- rationale is one or two sentences explaining the decision.

Respond with a single JSON object and nothing else:
{"selected_ids": ["<id>"], "alignment": "aligned", "rationale": "<why>"}

Claim:
{{.Claim}}

Candidates:
{{range .Candidates}}- id: {{.PropositionID}} (similarity {{printf "%.2f" .Score}})
  {{.Text}}
{{end}}`))

// selectionSchema is the only accepted response shape.
var selectionSchema = llm.MustSchema(`{
	"type": "object",
	"required": ["selected_ids", "alignment"],
	"additionalProperties": false,
	"properties": {
		"selected_ids": {"type": "array", "items": {"type": "string", "minLength": 1}},
		"alignment": {"type": "string", "enum": ["aligned", "partially_aligned", "not_aligned"]},
		"rationale": {"type": "string"}
	}
}`)

// selection is the decoded completion response.
type selection struct {
	SelectedIDs []string        `json:"selected_ids"`
	Alignment   types.Alignment `json:"alignment"`
	Rationale   string          `json:"rationale"`
}

func renderPrompt(claim types.Claim, candidates []types.Match) (string, error) {
	var buf bytes.Buffer
	err := selectionPromptTmpl.Execute(&buf, struct {
		Claim      string
		Candidates []types.Match
	}{claim.Text, candidates})
	if err != nil {
		return "", fmt.Errorf("rendering selection prompt: %w", err)
	}
	return buf.String(), nil
}
