// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// NotSpecified fills metadata fields the document does not state.
const NotSpecified = "Not specified"

// Hyperlinks groups the links found in a document.
type Hyperlinks struct {
	Internal []string `json:"internal" yaml:"internal"`
	External []string `json:"external" yaml:"external"`
	Other    []string `json:"other" yaml:"other"`
}

// DocumentMetadata is the descriptive record extracted from a document.
type DocumentMetadata struct {
	Title                      string     `json:"title" yaml:"title" validate:"required"`
	Authors                    []string   `json:"authors" yaml:"authors"`
	AuthorOrganizations        []string   `json:"author_organizations" yaml:"author_organizations"`
	PublicationYear            string     `json:"publication_year" yaml:"publication_year"`
	Keywords                   []string   `json:"keywords" yaml:"keywords"`
	Summary                    string     `json:"tldr_summary" yaml:"tldr_summary" validate:"required"`
	FocusAreas                 []string   `json:"focus_areas" yaml:"focus_areas"`
	ParticipatingOrganizations []string   `json:"participating_organizations" yaml:"participating_organizations"`
	Hyperlinks                 Hyperlinks `json:"hyperlinks" yaml:"hyperlinks"`

	// Fallback is set when the extraction service never produced a valid
	// record and the template was used instead.
	Fallback bool `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// FallbackMetadata returns the template record used when extraction fails.
func FallbackMetadata() DocumentMetadata {
	return DocumentMetadata{
		Title:                      NotSpecified,
		Authors:                    []string{NotSpecified},
		AuthorOrganizations:        []string{NotSpecified},
		PublicationYear:            NotSpecified,
		Keywords:                   []string{},
		Summary:                    NotSpecified,
		FocusAreas:                 []string{},
		ParticipatingOrganizations: []string{},
		Fallback:                   true,
	}
}

// Stage is a step of the per-document pipeline. Stages are ordered.
type Stage int

const (
	StagePending Stage = iota
	StageParsed
	StageCleaned
	StageClaimsExtracted
	StageMetadataExtracted
	StageMatched
	StageCitationsSelected
	StageReportGenerated
)

var stageNames = [...]string{
	"pending",
	"parsed",
	"cleaned",
	"claims_extracted",
	"metadata_extracted",
	"matched",
	"citations_selected",
	"report_generated",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// MarshalText encodes the stage by name so reports stay readable.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a stage name.
func (s *Stage) UnmarshalText(b []byte) error {
	for i, name := range stageNames {
		if name == string(b) {
			*s = Stage(i)
			return nil
		}
	}
	*s = StagePending
	return nil
}

// Outcome summarizes how far a document got.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
)

// DocumentReport is the per-document result of a pipeline run.
type DocumentReport struct {
	DocumentID string `json:"document_id" yaml:"document_id"`
	SourcePath string `json:"source_path" yaml:"source_path"`

	// Stage is the last stage completed.
	Stage Stage `json:"stage" yaml:"stage"`

	// FailedStage is the stage that halted the document, if any.
	FailedStage Stage  `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`

	Metadata  *DocumentMetadata  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Matches   []ClaimMatches     `json:"matches,omitempty" yaml:"matches,omitempty"`
	Decisions []CitationDecision `json:"decisions,omitempty" yaml:"decisions,omitempty"`

	// ReportPath is the rendered Markdown report, when one was written.
	ReportPath string `json:"report_path,omitempty" yaml:"report_path,omitempty"`
}

// Outcome derives the document outcome from its stage and decisions.
func (r DocumentReport) Outcome() Outcome {
	if r.FailedStage != StagePending {
		return OutcomeFailed
	}
	for _, d := range r.Decisions {
		if d.Unresolved || d.Error != "" {
			return OutcomePartial
		}
	}
	if r.Stage < StageReportGenerated {
		return OutcomePartial
	}
	return OutcomeSucceeded
}

// Unresolved returns the number of claims whose selection failed.
func (r DocumentReport) Unresolved() int {
	n := 0
	for _, d := range r.Decisions {
		if d.Unresolved {
			n++
		}
	}
	return n
}

// ManifestEntry records one document in a batch run.
type ManifestEntry struct {
	DocumentID  string  `json:"document_id" yaml:"document_id"`
	SourcePath  string  `json:"source_path" yaml:"source_path"`
	Outcome     Outcome `json:"outcome" yaml:"outcome"`
	Stage       Stage   `json:"stage" yaml:"stage"`
	FailedStage Stage   `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`
	Error       string  `json:"error,omitempty" yaml:"error,omitempty"`
	Claims      int     `json:"claims" yaml:"claims"`
	Unresolved  int     `json:"unresolved" yaml:"unresolved"`
	ReportPath  string  `json:"report_path,omitempty" yaml:"report_path,omitempty"`
}

// Manifest lists the successes and failures of one batch run.
type Manifest struct {
	RunID      string          `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time       `json:"finished_at" yaml:"finished_at"`
	Documents  []ManifestEntry `json:"documents" yaml:"documents"`
}

// Count returns the number of documents with the given outcome.
func (m Manifest) Count(o Outcome) int {
	n := 0
	for _, d := range m.Documents {
		if d.Outcome == o {
			n++
		}
	}
	return n
}

// HasFailures reports whether any document failed or finished partially.
func (m Manifest) HasFailures() bool {
	return m.Count(OutcomeFailed) > 0 || m.Count(OutcomePartial) > 0
}
