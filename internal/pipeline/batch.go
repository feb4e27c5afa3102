// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/citation-engine/internal/convert"
	"github.com/pdiddy/citation-engine/internal/report"
	"github.com/pdiddy/citation-engine/internal/worker"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// now is the clock used for manifest timestamps. Tests override it.
var now = time.Now

// documentJob runs the pipeline for one input path.
type documentJob struct {
	p     *Pipeline
	index int
	path  string
}

type documentResult struct {
	index  int
	report types.DocumentReport
}

func (r documentResult) GetError() error { return nil }

func (j documentJob) Execute(ctx context.Context) worker.Result {
	return documentResult{index: j.index, report: j.p.Run(ctx, j.path)}
}

// RunBatch processes paths on the document worker pool and writes
// manifest.json to the output directory. Entries follow input order.
// Documents never started because ctx ended are recorded as failed at
// the parse stage.
func (p *Pipeline) RunBatch(ctx context.Context, paths []string) (types.Manifest, error) {
	m := types.Manifest{RunID: uuid.NewString(), StartedAt: now().UTC()}
	p.log.Info().Str("run_id", m.RunID).Int("documents", len(paths)).Int("workers", p.opts.Workers).Msg("batch started")

	jobs := make([]worker.Job, len(paths))
	for i, path := range paths {
		jobs[i] = documentJob{p: p, index: i, path: path}
	}

	reports := make([]*types.DocumentReport, len(paths))
	for _, res := range worker.Run(ctx, p.opts.Workers, jobs) {
		r := res.(documentResult)
		reports[r.index] = &r.report
	}

	m.Documents = make([]types.ManifestEntry, len(paths))
	for i, path := range paths {
		r := reports[i]
		if r == nil {
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			r = &types.DocumentReport{
				DocumentID:  convert.DocumentID(path),
				SourcePath:  path,
				FailedStage: types.StageParsed,
				Error:       fmt.Sprintf("not processed: %v", err),
			}
		}
		m.Documents[i] = Entry(*r)
	}
	m.FinishedAt = now().UTC()

	p.log.Info().Str("run_id", m.RunID).
		Int("succeeded", m.Count(types.OutcomeSucceeded)).
		Int("partial", m.Count(types.OutcomePartial)).
		Int("failed", m.Count(types.OutcomeFailed)).
		Msg("batch finished")

	if err := os.MkdirAll(p.opts.OutputDir, 0o755); err != nil {
		return m, fmt.Errorf("creating output directory: %w", err)
	}
	if err := report.WriteManifest(filepath.Join(p.opts.OutputDir, report.ManifestFile), m); err != nil {
		return m, err
	}
	return m, nil
}

// Entry summarizes a document report for the manifest.
func Entry(r types.DocumentReport) types.ManifestEntry {
	claims := len(r.Decisions)
	if claims == 0 {
		claims = len(r.Matches)
	}
	return types.ManifestEntry{
		DocumentID:  r.DocumentID,
		SourcePath:  r.SourcePath,
		Outcome:     r.Outcome(),
		Stage:       r.Stage,
		FailedStage: r.FailedStage,
		Error:       r.Error,
		Claims:      claims,
		Unresolved:  r.Unresolved(),
		ReportPath:  r.ReportPath,
	}
}
