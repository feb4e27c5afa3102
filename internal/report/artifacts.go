// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/citation-engine/pkg/types"
)

// ManifestFile is the batch manifest written to the output directory.
const ManifestFile = "manifest.json"

// Artifacts names the files written for one document.
type Artifacts struct {
	Dir string
	ID  string
}

func (a Artifacts) path(suffix string) string {
	return filepath.Join(a.Dir, a.ID+suffix)
}

// Markdown is the converted document.
func (a Artifacts) Markdown() string { return a.path(".md") }

// Cleaned is the cleaned Markdown.
func (a Artifacts) Cleaned() string { return a.path("_cleaned.md") }

// Claims is the extracted claim list.
func (a Artifacts) Claims() string { return a.path("_claims.json") }

// Metadata is the extracted document metadata.
func (a Artifacts) Metadata() string { return a.path("_metadata.json") }

// Matches holds the ranked candidates and decision per claim.
func (a Artifacts) Matches() string { return a.path("_claim_matches.json") }

// Report is the rendered Markdown report.
func (a Artifacts) Report() string { return a.path("_report.md") }

// ClaimRecord is one entry of the claim matches artifact.
type ClaimRecord struct {
	Claim    types.Claim             `json:"claim" yaml:"claim"`
	Matches  []types.Match           `json:"matches" yaml:"matches"`
	Decision *types.CitationDecision `json:"decision,omitempty" yaml:"decision,omitempty"`
}

// Records flattens the matches and decisions of r into claim records.
func Records(r types.DocumentReport) []ClaimRecord {
	entries := pair(r)
	out := make([]ClaimRecord, len(entries))
	for i, e := range entries {
		matches := e.matches
		if matches == nil {
			matches = []types.Match{}
		}
		out[i] = ClaimRecord{Claim: e.claim, Matches: matches, Decision: e.decision}
	}
	return out
}

// Rebuild reconstructs a DocumentReport from the metadata and claim
// matches artifacts of a previous run.
func Rebuild(a Artifacts) (types.DocumentReport, error) {
	r := types.DocumentReport{DocumentID: a.ID}

	var meta types.DocumentMetadata
	if err := ReadJSON(a.Metadata(), &meta); err != nil {
		return r, err
	}
	r.Metadata = &meta

	var records []ClaimRecord
	if err := ReadJSON(a.Matches(), &records); err != nil {
		return r, err
	}
	for _, rec := range records {
		r.Matches = append(r.Matches, types.ClaimMatches{Claim: rec.Claim, Matches: rec.Matches})
		if rec.Decision != nil {
			r.Decisions = append(r.Decisions, *rec.Decision)
		}
	}
	r.Stage = types.StageCitationsSelected
	return r, nil
}

// WriteJSON writes v as indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// WriteManifest writes m as YAML when path ends in .yaml or .yml and as
// JSON otherwise.
func WriteManifest(path string, m types.Manifest) error {
	if !isYAML(path) {
		return WriteJSON(path, m)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// LoadManifest reads a manifest written by WriteManifest.
func LoadManifest(path string) (types.Manifest, error) {
	var m types.Manifest
	if !isYAML(path) {
		return m, ReadJSON(path, &m)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("reading manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parsing manifest: %w", err)
	}
	return m, nil
}
