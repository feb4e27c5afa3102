// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Metadata keys commonly present on reference propositions.
const (
	MetaFileName = "file_name"
	MetaSource   = "source"
)

// Proposition is a pre-embedded reference statement from the knowledge base.
// Once stored it is never mutated.
type Proposition struct {
	// ID is unique within the store.
	ID string `json:"id" yaml:"id"`

	// Text is the reference statement.
	Text string `json:"text" yaml:"text"`

	// Embedding is the unit-normalized vector of dimension D.
	Embedding []float32 `json:"embedding,omitempty" yaml:"-"`

	// Metadata carries provenance such as the source file name.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Seq is the insertion order assigned by the store and breaks score ties.
	Seq int `json:"seq" yaml:"seq"`
}

// Claim is a factual assertion extracted from the document under analysis.
// It lives for one pipeline run.
type Claim struct {
	// ID is stable for identical document and text.
	ID string `json:"id" yaml:"id"`

	// Text is the claim as it appears in the document.
	Text string `json:"text" yaml:"text"`

	// DocumentID identifies the source document.
	DocumentID string `json:"document_id" yaml:"document_id"`

	// Index is the claim's position in extraction order.
	Index int `json:"index" yaml:"index"`
}

// Match pairs a candidate proposition with its similarity to a claim.
type Match struct {
	PropositionID string            `json:"proposition_id" yaml:"proposition_id"`
	Text          string            `json:"text" yaml:"text"`
	Score         float64           `json:"score" yaml:"score"`
	Seq           int               `json:"seq" yaml:"seq"`
	Metadata      map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ClaimMatches holds the ranked candidates for one claim.
type ClaimMatches struct {
	Claim   Claim   `json:"claim" yaml:"claim"`
	Matches []Match `json:"matches" yaml:"matches"`
}

// Alignment classifies how well the selected propositions support a claim.
type Alignment string

const (
	AlignmentAligned    Alignment = "aligned"
	AlignmentPartial    Alignment = "partially_aligned"
	AlignmentNotAligned Alignment = "not_aligned"
	AlignmentNone       Alignment = "none"
)

// DecisionSource records how a citation decision was reached.
type DecisionSource string

const (
	SourceLLM       DecisionSource = "llm"
	SourceFallback  DecisionSource = "fallback"
	SourceThreshold DecisionSource = "threshold"
)

// NoStrongMatch is the rationale recorded for an empty selection.
const NoStrongMatch = "No strong match found."

// CitationDecision is the final selection for one claim.
type CitationDecision struct {
	Claim Claim `json:"claim" yaml:"claim"`

	// SelectedIDs is ordered by preference and may be empty.
	SelectedIDs []string `json:"selected_ids" yaml:"selected_ids"`

	Rationale  string         `json:"rationale,omitempty" yaml:"rationale,omitempty"`
	Alignment  Alignment      `json:"alignment" yaml:"alignment"`
	Confidence float64        `json:"confidence" yaml:"confidence"`
	Source     DecisionSource `json:"source" yaml:"source"`

	// Unresolved marks a claim whose selection failed; Error says why.
	Unresolved bool   `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Empty reports whether no proposition was selected.
func (d CitationDecision) Empty() bool {
	return len(d.SelectedIDs) == 0
}
