// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		errPart string
	}{
		{
			name:    "unknown conversion backend",
			mutate:  func(c *Config) { c.Conversion.Backend = "grobid" },
			errPart: "Backend",
		},
		{
			name:    "unknown container runtime",
			mutate:  func(c *Config) { c.Conversion.Runtime = "containerd" },
			errPart: "Runtime",
		},
		{
			name:    "zero top k",
			mutate:  func(c *Config) { c.Matching.TopK = 0 },
			errPart: "TopK",
		},
		{
			name:    "fallback below minimum",
			mutate:  func(c *Config) { c.Matching.FallbackThreshold = 0.3 },
			errPart: "fallback_threshold",
		},
		{
			name: "non-positive service rate",
			mutate: func(c *Config) {
				c.RateLimit.Services = map[string]ServiceRate{"completion/gemini": {RequestsPerSecond: 0}}
			},
			errPart: "RequestsPerSecond",
		},
		{
			name:    "missing embedding model",
			mutate:  func(c *Config) { c.Embedding.Model = "" },
			errPart: "Model",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestCitationServiceErrorKeepsTransience(t *testing.T) {
	inner := &ServiceError{Service: ServiceCompletion, StatusCode: 503, Transient: true, Err: errors.New("unavailable")}
	err := CitationServiceError("select", fmt.Errorf("calling model: %w", inner))

	assert.True(t, IsService(err, ServiceCitation))
	assert.True(t, IsTransient(err))
	assert.Equal(t, 503, err.StatusCode)
	assert.Contains(t, err.Error(), "citation service select (status 503)")
}

func TestErrorsUnwrap(t *testing.T) {
	base := errors.New("boom")

	var pe *ParseError
	require.True(t, errors.As(fmt.Errorf("wrap: %w", &ParseError{Path: "a.pdf", Reason: "unsupported", Err: base}), &pe))
	assert.Equal(t, "a.pdf", pe.Path)
	assert.ErrorIs(t, pe, base)

	se := &StageError{Stage: StageMatched, Err: &MalformedResponseError{Service: ServiceEmbedding, Err: base}}
	var mr *MalformedResponseError
	assert.True(t, errors.As(se, &mr))
	assert.Equal(t, "stage matched: malformed embedding response: boom", se.Error())

	ve := &ValidationError{Field: "selected_id", Value: "p9", Allowed: []string{"p1", "p2"}}
	assert.Equal(t, `invalid selected_id "p9": allowed p1, p2`, ve.Error())
}

func TestIsTransientStatus(t *testing.T) {
	assert.True(t, IsTransientStatus(429))
	assert.True(t, IsTransientStatus(502))
	assert.False(t, IsTransientStatus(400))
	assert.False(t, IsTransientStatus(401))
}

func TestStageTextRoundTrip(t *testing.T) {
	data, err := json.Marshal(struct {
		S Stage `json:"s"`
	}{StageCitationsSelected})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"citations_selected"}`, string(data))

	var out struct {
		S Stage `json:"s"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, StageCitationsSelected, out.S)
}

func TestDocumentReportOutcome(t *testing.T) {
	tests := []struct {
		name   string
		report DocumentReport
		want   Outcome
	}{
		{
			name:   "completed",
			report: DocumentReport{Stage: StageReportGenerated},
			want:   OutcomeSucceeded,
		},
		{
			name:   "failed stage",
			report: DocumentReport{Stage: StageCleaned, FailedStage: StageClaimsExtracted},
			want:   OutcomeFailed,
		},
		{
			name: "unresolved claim",
			report: DocumentReport{
				Stage:     StageReportGenerated,
				Decisions: []CitationDecision{{Unresolved: true}, {}},
			},
			want: OutcomePartial,
		},
		{
			name: "fallback after service outage",
			report: DocumentReport{
				Stage:     StageReportGenerated,
				Decisions: []CitationDecision{{SelectedIDs: []string{"p1"}, Error: "citation service unavailable"}},
			},
			want: OutcomePartial,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.report.Outcome())
		})
	}
}

func TestManifestCounts(t *testing.T) {
	m := Manifest{Documents: []ManifestEntry{
		{Outcome: OutcomeSucceeded},
		{Outcome: OutcomeFailed},
		{Outcome: OutcomeSucceeded},
	}}
	assert.Equal(t, 2, m.Count(OutcomeSucceeded))
	assert.True(t, m.HasFailures())
}
