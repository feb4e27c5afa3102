// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cite

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/citation-engine/internal/knowledge"
	"github.com/pdiddy/citation-engine/internal/llm"
	"github.com/pdiddy/citation-engine/internal/rank"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// scriptedCompleter returns its replies in order, repeating the last one.
type scriptedCompleter struct {
	mu      sync.Mutex
	replies []reply
	prompts []string
}

type reply struct {
	text string
	err  error
}

func (s *scriptedCompleter) Name() string { return "scripted" }

func (s *scriptedCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.prompts)
	s.prompts = append(s.prompts, req.Prompt)
	if n >= len(s.replies) {
		n = len(s.replies) - 1
	}
	return s.replies[n].text, s.replies[n].err
}

func (s *scriptedCompleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func unavailableErr() error {
	return &types.ServiceError{Service: types.ServiceCompletion, Op: "chat completion", StatusCode: 503, Transient: true, Err: errors.New("service unavailable")}
}

func defaultMatching() types.MatchingConfig {
	return types.DefaultConfig().Matching
}

const (
	decayClaimText = "Wood loses 18% compression strength at 2% decay weight loss"
	decayP1Text    = "At 2% weight loss from decay, wood experiences 18-24% loss in compression strength perpendicular to grain"
	decayRationale = "P1 reports the same figures: 2% decay weight loss and an 18-24% loss in compression strength."
)

var decayClaim = types.Claim{ID: "c1", Text: decayClaimText}

var decayCandidates = []types.Match{
	{PropositionID: "P1", Text: decayP1Text, Score: 0.88, Seq: 0},
	{PropositionID: "P2", Text: "Kiln schedules for hardwood flooring vary by species.", Score: 0.10, Seq: 1},
}

func TestSelect_DecayScenario(t *testing.T) {
	c := &scriptedCompleter{replies: []reply{{text: `{"selected_ids":["P1"],"alignment":"aligned","rationale":"` + decayRationale + `"}`}}}
	d, err := NewSelector(c, defaultMatching(), nil).Select(context.Background(), decayClaim, decayCandidates)
	require.NoError(t, err)

	assert.Equal(t, []string{"P1"}, d.SelectedIDs)
	assert.Equal(t, types.AlignmentAligned, d.Alignment)
	assert.Equal(t, types.SourceLLM, d.Source)
	assert.InDelta(t, 0.88, d.Confidence, 1e-9)
	assert.False(t, d.Unresolved)
	assert.Equal(t, decayRationale, d.Rationale)
	assert.Contains(t, d.Rationale, "2%")
	assert.Contains(t, d.Rationale, "18-24%")

	require.Equal(t, 1, c.calls())
	assert.Contains(t, c.prompts[0], decayClaimText)
	assert.Contains(t, c.prompts[0], decayP1Text)
	assert.Contains(t, c.prompts[0], "id: P1 (similarity 0.88)")
	assert.NotContains(t, c.prompts[0], "P2", "candidates below the minimum similarity are not offered")
}

func TestSelect_CollapsesDuplicateTexts(t *testing.T) {
	candidates := []types.Match{
		{PropositionID: "A", Text: "Kiln drying reduces moisture content below 19 percent.", Score: 0.91},
		{PropositionID: "B", Text: "  kiln drying  REDUCES moisture content\nbelow 19 percent. ", Score: 0.90},
		{PropositionID: "C", Text: "Air drying takes months for thick stock.", Score: 0.70},
	}
	c := &scriptedCompleter{replies: []reply{{text: `{"selected_ids":["A","B"],"alignment":"aligned","rationale":"r"}`}}}
	d, err := NewSelector(c, defaultMatching(), nil).Select(context.Background(), decayClaim, candidates)

	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr), "a duplicate that was never offered cannot be cited")
	assert.Equal(t, "B", verr.Value)
	assert.Equal(t, []string{"A", "C"}, verr.Allowed)
	assert.True(t, d.Unresolved)

	require.Equal(t, 1, c.calls())
	assert.Equal(t, 1, strings.Count(strings.ToLower(c.prompts[0]), "reduces moisture content"))
	assert.NotContains(t, c.prompts[0], "id: B")

	c = &scriptedCompleter{replies: []reply{{text: `{"selected_ids":["A"],"alignment":"aligned","rationale":"r"}`}}}
	d, err = NewSelector(c, defaultMatching(), nil).Select(context.Background(), decayClaim, candidates)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, d.SelectedIDs)
}

func TestSelect_SelectionIsSubsetOfCandidates(t *testing.T) {
	candidates := []types.Match{
		{PropositionID: "a", Text: "A", Score: 0.9},
		{PropositionID: "b", Text: "B", Score: 0.8},
		{PropositionID: "c", Text: "C", Score: 0.7},
	}
	responses := []string{
		`{"selected_ids":["b","a","b"],"alignment":"aligned","rationale":"r"}`,
		`{"selected_ids":[],"alignment":"not_aligned","rationale":"none fit"}`,
		`{"selected_ids":["c"],"alignment":"partially_aligned"}`,
	}
	allowed := map[string]bool{"a": true, "b": true, "c": true}
	for _, resp := range responses {
		c := &scriptedCompleter{replies: []reply{{text: resp}}}
		d, err := NewSelector(c, defaultMatching(), nil).Select(context.Background(), decayClaim, candidates)
		require.NoError(t, err)
		for _, id := range d.SelectedIDs {
			assert.True(t, allowed[id], "selected %q outside candidates", id)
		}
	}
}

func TestSelect_DeduplicatesSelectedIDs(t *testing.T) {
	candidates := []types.Match{{PropositionID: "a", Score: 0.9}, {PropositionID: "b", Score: 0.7}}
	c := &scriptedCompleter{replies: []reply{{text: `{"selected_ids":["b","a","b"],"alignment":"aligned","rationale":"r"}`}}}
	d, err := NewSelector(c, defaultMatching(), nil).Select(context.Background(), decayClaim, candidates)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, d.SelectedIDs)
	assert.InDelta(t, 0.8, d.Confidence, 1e-9)
}

func TestSelect_IDOutsideCandidatesIsValidationError(t *testing.T) {
	c := &scriptedCompleter{replies: []reply{{text: `{"selected_ids":["P1","P9"],"alignment":"aligned","rationale":"r"}`}}}
	d, err := NewSelector(c, defaultMatching(), nil).Select(context.Background(), decayClaim, decayCandidates)

	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "P9", verr.Value)
	assert.Equal(t, []string{"P1"}, verr.Allowed)
	assert.True(t, d.Unresolved)
	assert.Empty(t, d.SelectedIDs)
	assert.Contains(t, d.Error, `"P9"`)
	assert.Equal(t, 1, c.calls(), "validation failures are not retried")
}

func TestSelect_FallbackRoundTripFromStore(t *testing.T) {
	// Unit vectors at fixed angles to the claim vector [1, 0, 0].
	idx, err := knowledge.NewIndex([]types.Proposition{
		{ID: "P3", Text: "Heartwood of cedar resists decay.", Embedding: []float32{0.60, 0.80, 0}},
		{ID: "P7", Text: "Treated southern pine resists termites.", Embedding: []float32{0.92, 0.391918, 0}},
		{ID: "P9", Text: "Spruce is used for soundboards.", Embedding: []float32{0.10, 0, 0.994987}},
	})
	require.NoError(t, err)
	candidates, err := rank.NewBruteForce(idx, 10).Rank(context.Background(), []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.Equal(t, "P7", candidates[0].PropositionID)
	assert.InDelta(t, 0.92, candidates[0].Score, 1e-5)

	c := &scriptedCompleter{replies: []reply{{err: unavailableErr()}}}
	d, err := NewSelector(c, defaultMatching(), nil).Select(context.Background(), decayClaim, candidates)
	require.Error(t, err)
	assert.True(t, types.IsService(err, types.ServiceCitation))

	assert.Equal(t, []string{"P7"}, d.SelectedIDs)
	assert.Equal(t, types.SourceFallback, d.Source)
	assert.InDelta(t, 0.92, d.Confidence, 1e-5)
	assert.Contains(t, d.Error, "citation service")
}

func TestSelect_FallbackRoundTripWhenServiceUnavailable(t *testing.T) {
	candidates := []types.Match{{PropositionID: "P7", Text: "Treated southern pine resists termites.", Score: 0.92}}
	c := &scriptedCompleter{replies: []reply{{err: unavailableErr()}}}
	d, err := NewSelector(c, defaultMatching(), nil).Select(context.Background(), decayClaim, candidates)

	require.Error(t, err)
	assert.True(t, types.IsService(err, types.ServiceCitation))
	assert.True(t, types.IsTransient(err))

	assert.Equal(t, []string{"P7"}, d.SelectedIDs)
	assert.Equal(t, types.SourceFallback, d.Source)
	assert.InDelta(t, 0.92, d.Confidence, 1e-9)
	assert.False(t, d.Unresolved)
	assert.Contains(t, d.Error, "citation service")
}

func TestSelect_UnavailableWithoutFallback(t *testing.T) {
	cfg := defaultMatching()
	cfg.FallbackOnUnavailable = false
	c := &scriptedCompleter{replies: []reply{{err: unavailableErr()}}}
	d, err := NewSelector(c, cfg, nil).Select(context.Background(), decayClaim, decayCandidates)

	require.Error(t, err)
	assert.True(t, types.IsService(err, types.ServiceCitation))
	assert.True(t, d.Unresolved)
	assert.Empty(t, d.SelectedIDs)
}

func TestSelect_MalformedRetriedOnceThenSucceeds(t *testing.T) {
	c := &scriptedCompleter{replies: []reply{
		{text: "P1 looks right to me"},
		{text: "```json\n{\"selected_ids\":[\"P1\"],\"alignment\":\"aligned\",\"rationale\":\"r\"}\n```"},
	}}
	d, err := NewSelector(c, defaultMatching(), nil).Select(context.Background(), decayClaim, decayCandidates)
	require.NoError(t, err)
	assert.Equal(t, 2, c.calls())
	assert.Equal(t, []string{"P1"}, d.SelectedIDs)
	assert.Equal(t, types.SourceLLM, d.Source)
}

func TestSelect_MalformedTwiceFallsBack(t *testing.T) {
	tests := []struct {
		name      string
		score     float64
		wantIDs   []string
		rationale string
	}{
		{name: "top candidate above threshold", score: 0.80, wantIDs: []string{"x"}},
		{name: "top candidate below threshold", score: 0.60, wantIDs: []string{}, rationale: types.NoStrongMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &scriptedCompleter{replies: []reply{{text: `{"selected":"x"}`}}}
			candidates := []types.Match{{PropositionID: "x", Score: tt.score}}
			d, err := NewSelector(c, defaultMatching(), nil).Select(context.Background(), decayClaim, candidates)
			require.NoError(t, err)
			assert.Equal(t, maxParseAttempts, c.calls())
			assert.Equal(t, tt.wantIDs, d.SelectedIDs)
			assert.Equal(t, types.SourceFallback, d.Source)
			if tt.rationale != "" {
				assert.Equal(t, tt.rationale, d.Rationale)
			}
		})
	}
}

func TestSelect_EmptyContentCountsAsMalformed(t *testing.T) {
	c := &scriptedCompleter{replies: []reply{
		{err: &types.MalformedResponseError{Service: types.ServiceCompletion, Err: errors.New("no text")}},
		{text: `{"selected_ids":["P1"],"alignment":"aligned"}`},
	}}
	d, err := NewSelector(c, defaultMatching(), nil).Select(context.Background(), decayClaim, decayCandidates)
	require.NoError(t, err)
	assert.Equal(t, []string{"P1"}, d.SelectedIDs)
}

func TestSelect_NoCandidateAboveMinimum(t *testing.T) {
	c := &scriptedCompleter{replies: []reply{{text: "unused"}}}
	candidates := []types.Match{{PropositionID: "low", Score: 0.3}}
	d, err := NewSelector(c, defaultMatching(), nil).Select(context.Background(), decayClaim, candidates)
	require.NoError(t, err)
	assert.Equal(t, 0, c.calls())
	assert.True(t, d.Empty())
	assert.Equal(t, types.NoStrongMatch, d.Rationale)
	assert.Equal(t, types.SourceThreshold, d.Source)

	d, err = NewSelector(c, defaultMatching(), nil).Select(context.Background(), decayClaim, nil)
	require.NoError(t, err)
	assert.True(t, d.Empty())
}

func TestSelect_NotAlignedWithSelectionIsDowngraded(t *testing.T) {
	c := &scriptedCompleter{replies: []reply{{text: `{"selected_ids":["P1"],"alignment":"not_aligned","rationale":"weak"}`}}}
	d, err := NewSelector(c, defaultMatching(), nil).Select(context.Background(), decayClaim, decayCandidates)
	require.NoError(t, err)
	assert.Equal(t, types.AlignmentPartial, d.Alignment)
}

func TestRenderPrompt(t *testing.T) {
	prompt, err := renderPrompt(decayClaim, decayCandidates[:1])
	require.NoError(t, err)
	assert.Contains(t, prompt, decayClaim.Text)
	assert.Contains(t, prompt, "MUST ONLY select ids from the candidate list")
	assert.Contains(t, prompt, decayP1Text)
}
