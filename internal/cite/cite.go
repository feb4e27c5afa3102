// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cite chooses which ranked reference propositions a claim cites.
// The completion service proposes a selection; the selector only accepts
// ids drawn from the candidates it offered.
package cite

import (
	"context"
	"errors"
	"fmt"

	"github.com/phuslu/log"

	"github.com/pdiddy/citation-engine/internal/llm"
	"github.com/pdiddy/citation-engine/internal/logging"
	"github.com/pdiddy/citation-engine/internal/rank"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// maxParseAttempts bounds completion calls for one claim when the response
// is malformed.
const maxParseAttempts = 2

// Selector picks citations for claims.
type Selector struct {
	completer llm.Completer
	cfg       types.MatchingConfig
	logger    *log.Logger
}

// NewSelector returns a selector calling c. A nil logger discards output.
func NewSelector(c llm.Completer, cfg types.MatchingConfig, logger *log.Logger) *Selector {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Selector{completer: c, cfg: cfg, logger: logger}
}

// Select returns the citation decision for claim given its ranked
// candidates.
//
// Candidates below the minimum similarity never reach the completion
// service. A malformed response is retried once and then replaced by the
// score fallback. When the service is unavailable the error is returned as
// a citation ServiceError; if FallbackOnUnavailable is set the returned
// decision carries the fallback selection and the error text, otherwise
// it is unresolved. A selected id outside the candidates returns a
// *types.ValidationError and an unresolved decision.
func (s *Selector) Select(ctx context.Context, claim types.Claim, candidates []types.Match) (types.CitationDecision, error) {
	pool := s.eligible(candidates)
	if len(pool) == 0 {
		return noMatch(claim, types.SourceThreshold), nil
	}

	prompt, err := renderPrompt(claim, pool)
	if err != nil {
		return unresolved(claim, types.SourceLLM, err), err
	}
	req := llm.Request{System: systemPrompt, Prompt: prompt, JSON: true}

	var lastMalformed error
	for attempt := 1; attempt <= maxParseAttempts; attempt++ {
		raw, err := s.completer.Complete(ctx, req)
		if err != nil {
			var malformed *types.MalformedResponseError
			if errors.As(err, &malformed) {
				lastMalformed = err
				continue
			}
			return s.unavailable(claim, pool, err)
		}

		var sel selection
		if err := llm.DecodeJSON(types.ServiceCitation, raw, selectionSchema, &sel); err != nil {
			lastMalformed = err
			s.logger.Warn().Str("claim", claim.ID).Int("attempt", attempt).Err(err).Msg("malformed citation response")
			continue
		}
		return decide(claim, pool, sel)
	}

	d := s.fallback(claim, pool)
	s.logger.Warn().Str("claim", claim.ID).Strs("selected", d.SelectedIDs).Err(lastMalformed).Msg("citation response unusable, applied score fallback")
	return d, nil
}

// eligible drops candidates below the minimum similarity and collapses
// repeated ids and repeated texts, keeping rank order.
func (s *Selector) eligible(candidates []types.Match) []types.Match {
	return rank.Dedupe(rank.AboveThreshold(candidates, s.cfg.MinSimilarity))
}

func (s *Selector) unavailable(claim types.Claim, pool []types.Match, err error) (types.CitationDecision, error) {
	svcErr := types.CitationServiceError("select", err)
	if !s.cfg.FallbackOnUnavailable {
		return unresolved(claim, types.SourceLLM, svcErr), svcErr
	}
	d := s.fallback(claim, pool)
	d.Error = svcErr.Error()
	s.logger.Warn().Str("claim", claim.ID).Strs("selected", d.SelectedIDs).Err(err).Msg("citation service unavailable, applied score fallback")
	return d, svcErr
}

// fallback selects the single best candidate when it reaches the fallback
// threshold. pool is non-empty and in rank order, but the maximum is
// searched anyway so unsorted input still picks the best score.
func (s *Selector) fallback(claim types.Claim, pool []types.Match) types.CitationDecision {
	best := pool[0]
	for _, m := range pool[1:] {
		if m.Score > best.Score {
			best = m
		}
	}
	if best.Score < s.cfg.FallbackThreshold {
		return noMatch(claim, types.SourceFallback)
	}
	return types.CitationDecision{
		Claim:       claim,
		SelectedIDs: []string{best.PropositionID},
		Rationale:   fmt.Sprintf("Highest similarity %.2f meets fallback threshold %.2f.", best.Score, s.cfg.FallbackThreshold),
		Alignment:   types.AlignmentNone,
		Confidence:  best.Score,
		Source:      types.SourceFallback,
	}
}

// decide validates a decoded selection against the candidate set.
func decide(claim types.Claim, pool []types.Match, sel selection) (types.CitationDecision, error) {
	scores := make(map[string]float64, len(pool))
	allowed := make([]string, len(pool))
	for i, m := range pool {
		scores[m.PropositionID] = m.Score
		allowed[i] = m.PropositionID
	}

	ids := make([]string, 0, len(sel.SelectedIDs))
	seen := make(map[string]bool, len(sel.SelectedIDs))
	var total float64
	for _, id := range sel.SelectedIDs {
		score, ok := scores[id]
		if !ok {
			err := &types.ValidationError{Field: "selected id", Value: id, Allowed: allowed}
			return unresolved(claim, types.SourceLLM, err), err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
		total += score
	}

	if len(ids) == 0 {
		d := noMatch(claim, types.SourceLLM)
		d.Alignment = types.AlignmentNotAligned
		if sel.Rationale != "" {
			d.Rationale = sel.Rationale
		}
		return d, nil
	}

	alignment := sel.Alignment
	if alignment == types.AlignmentNotAligned {
		alignment = types.AlignmentPartial
	}
	return types.CitationDecision{
		Claim:       claim,
		SelectedIDs: ids,
		Rationale:   sel.Rationale,
		Alignment:   alignment,
		Confidence:  total / float64(len(ids)),
		Source:      types.SourceLLM,
	}, nil
}

func noMatch(claim types.Claim, source types.DecisionSource) types.CitationDecision {
	return types.CitationDecision{
		Claim:       claim,
		SelectedIDs: []string{},
		Rationale:   types.NoStrongMatch,
		Alignment:   types.AlignmentNone,
		Source:      source,
	}
}

func unresolved(claim types.Claim, source types.DecisionSource, err error) types.CitationDecision {
	return types.CitationDecision{
		Claim:       claim,
		SelectedIDs: []string{},
		Alignment:   types.AlignmentNone,
		Source:      source,
		Unresolved:  true,
		Error:       err.Error(),
	}
}
