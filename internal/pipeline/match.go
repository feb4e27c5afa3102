// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"

	"github.com/pdiddy/citation-engine/internal/worker"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// rankJob embeds one claim and ranks the reference propositions against it.
type rankJob struct {
	p     *Pipeline
	index int
	claim types.Claim
}

type rankResult struct {
	index   int
	matches []types.Match
	err     error
}

func (r rankResult) GetError() error { return r.err }

func (j rankJob) Execute(ctx context.Context) worker.Result {
	matches, err := j.p.Rank(ctx, j.claim.Text)
	return rankResult{index: j.index, matches: matches, err: err}
}

// selectJob asks the selector for one claim's citations.
type selectJob struct {
	p       *Pipeline
	index   int
	matches types.ClaimMatches
}

type selectResult struct {
	index    int
	decision types.CitationDecision
	err      error
}

func (r selectResult) GetError() error { return r.err }

func (j selectJob) Execute(ctx context.Context) worker.Result {
	d, err := j.p.deps.Selector.Select(ctx, j.matches.Claim, j.matches.Matches)
	return selectResult{index: j.index, decision: d, err: err}
}

// Rank embeds text and returns its top-K reference matches.
func (p *Pipeline) Rank(ctx context.Context, text string) ([]types.Match, error) {
	embedding, err := p.deps.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return p.deps.Ranker.Rank(ctx, embedding, p.opts.TopK)
}

// match ranks candidates for every claim on the claim worker pool. Results
// keep claim order. A claim whose embedding or ranking failed gets no
// matches and its error in the returned slice.
func (p *Pipeline) match(ctx context.Context, claims []types.Claim) ([]types.ClaimMatches, []error) {
	jobs := make([]worker.Job, len(claims))
	for i, c := range claims {
		jobs[i] = rankJob{p: p, index: i, claim: c}
	}

	out := make([]types.ClaimMatches, len(claims))
	errs := make([]error, len(claims))
	for i, c := range claims {
		out[i] = types.ClaimMatches{Claim: c, Matches: []types.Match{}}
		errs[i] = ctx.Err()
	}
	for _, res := range worker.Run(ctx, p.opts.ClaimWorkers, jobs) {
		r := res.(rankResult)
		errs[r.index] = r.err
		if r.err != nil {
			p.log.Warn().Str("claim", claims[r.index].ID).Err(r.err).Msg("matching failed")
			continue
		}
		if r.matches != nil {
			out[r.index].Matches = r.matches
		}
	}
	return out, errs
}

// selectAll decides citations for every claim. Claims that could not be
// ranked are unresolved without calling the selector.
func (p *Pipeline) selectAll(ctx context.Context, matches []types.ClaimMatches, rankErrs []error) []types.CitationDecision {
	decisions := make([]types.CitationDecision, len(matches))
	var jobs []worker.Job
	for i, cm := range matches {
		if err := rankErrs[i]; err != nil {
			decisions[i] = types.CitationDecision{
				Claim:       cm.Claim,
				SelectedIDs: []string{},
				Alignment:   types.AlignmentNone,
				Unresolved:  true,
				Error:       err.Error(),
			}
			continue
		}
		decisions[i] = types.CitationDecision{
			Claim:       cm.Claim,
			SelectedIDs: []string{},
			Alignment:   types.AlignmentNone,
			Unresolved:  true,
			Error:       "citation selection did not run",
		}
		jobs = append(jobs, selectJob{p: p, index: i, matches: cm})
	}

	for _, res := range worker.Run(ctx, p.opts.ClaimWorkers, jobs) {
		r := res.(selectResult)
		decisions[r.index] = r.decision
		if r.err != nil {
			msg := "citation selection failed"
			if types.IsService(r.err, types.ServiceCitation) {
				msg = "citation service unavailable"
			}
			p.log.Warn().Str("claim", matches[r.index].Claim.ID).
				Bool("unresolved", r.decision.Unresolved).
				Err(r.err).Msg(msg)
			if !r.decision.Unresolved && r.decision.Error == "" {
				decisions[r.index].Error = r.err.Error()
			}
		}
	}
	return decisions
}
