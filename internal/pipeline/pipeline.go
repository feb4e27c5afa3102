// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline drives documents through conversion, cleanup, claim and
// metadata extraction, matching, citation selection, and report rendering.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/citation-engine/internal/convert"
	"github.com/pdiddy/citation-engine/internal/embed"
	"github.com/pdiddy/citation-engine/internal/logging"
	"github.com/pdiddy/citation-engine/internal/rank"
	"github.com/pdiddy/citation-engine/internal/report"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// Cleaner repairs converted Markdown.
type Cleaner interface {
	Clean(ctx context.Context, markdown string) (string, error)
}

// ClaimExtractor lists the claims asserted by a document.
type ClaimExtractor interface {
	Extract(ctx context.Context, documentID, markdown string) ([]types.Claim, error)
}

// MetadataExtractor describes a document.
type MetadataExtractor interface {
	Extract(ctx context.Context, markdown string) (types.DocumentMetadata, error)
}

// Selector chooses the citations for one claim from its ranked candidates.
type Selector interface {
	Select(ctx context.Context, claim types.Claim, candidates []types.Match) (types.CitationDecision, error)
}

// Renderer formats the final document report.
type Renderer interface {
	Render(r types.DocumentReport) string
}

// Deps are the stage implementations. All fields except Logger are
// required.
type Deps struct {
	Converter convert.Converter
	Cleaner   Cleaner
	Claims    ClaimExtractor
	Metadata  MetadataExtractor
	Embedder  embed.Embedder
	Ranker    rank.Ranker
	Selector  Selector
	Renderer  Renderer
	Logger    *log.Logger
}

// Options control a pipeline run.
type Options struct {
	// OutputDir receives the per-document artifacts and the manifest.
	OutputDir string

	// Workers bounds documents processed concurrently by RunBatch.
	Workers int

	// ClaimWorkers bounds claims matched concurrently within a document.
	ClaimWorkers int

	// TopK is the number of candidates ranked per claim.
	TopK int
}

// OptionsFromConfig reads Options from the pipeline and matching settings.
func OptionsFromConfig(cfg types.Config) Options {
	return Options{
		OutputDir:    cfg.Pipeline.OutputDir,
		Workers:      cfg.Pipeline.Workers,
		ClaimWorkers: cfg.Pipeline.ClaimWorkers,
		TopK:         cfg.Matching.TopK,
	}
}

// Pipeline processes documents. It is safe for concurrent use when its
// dependencies are.
type Pipeline struct {
	deps Deps
	opts Options
	log  *log.Logger
}

// New checks deps and returns a pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	for _, dep := range []struct {
		name    string
		missing bool
	}{
		{"converter", deps.Converter == nil},
		{"cleaner", deps.Cleaner == nil},
		{"claim extractor", deps.Claims == nil},
		{"metadata extractor", deps.Metadata == nil},
		{"embedder", deps.Embedder == nil},
		{"ranker", deps.Ranker == nil},
		{"selector", deps.Selector == nil},
		{"renderer", deps.Renderer == nil},
	} {
		if dep.missing {
			return nil, fmt.Errorf("pipeline: missing %s", dep.name)
		}
	}
	if opts.OutputDir == "" {
		return nil, errors.New("pipeline: output directory is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ClaimWorkers <= 0 {
		opts.ClaimWorkers = 1
	}
	if opts.TopK <= 0 {
		opts.TopK = rank.DefaultK
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Pipeline{deps: deps, opts: opts, log: logger}, nil
}

// Run processes one document through every stage. Failures are recorded
// in the returned report rather than returned: a stage error halts the
// document and sets FailedStage, while per-claim failures leave the claim
// unresolved and the document partial.
func (p *Pipeline) Run(ctx context.Context, path string) types.DocumentReport {
	r := types.DocumentReport{DocumentID: convert.DocumentID(path), SourcePath: path}
	a := report.Artifacts{Dir: p.opts.OutputDir, ID: r.DocumentID}
	logger := p.log
	fail := func(stage types.Stage, err error) types.DocumentReport {
		var se *types.StageError
		if errors.As(err, &se) {
			stage, err = se.Stage, se.Err
		}
		r.FailedStage = stage
		r.Error = (&types.StageError{Stage: stage, Err: err}).Error()
		logger.Error().Str("document", r.DocumentID).Stringer("stage", stage).Err(err).Msg("document halted")
		return r
	}
	advance := func(stage types.Stage) {
		r.Stage = stage
		logger.Debug().Str("document", r.DocumentID).Stringer("stage", stage).Msg("stage complete")
	}

	converted, err := convert.ConvertDocument(ctx, p.deps.Converter, path, p.opts.OutputDir)
	if err != nil {
		return fail(types.StageParsed, err)
	}
	advance(types.StageParsed)

	cleaned, err := p.deps.Cleaner.Clean(ctx, converted.Markdown)
	if err != nil {
		return fail(types.StageCleaned, err)
	}
	if err := writeFile(a.Cleaned(), []byte(cleaned)); err != nil {
		return fail(types.StageCleaned, err)
	}
	advance(types.StageCleaned)

	claims, meta, err := p.extract(ctx, r.DocumentID, cleaned)
	if err != nil {
		return fail(types.StageClaimsExtracted, err)
	}
	r.Metadata = &meta
	if err := report.WriteJSON(a.Claims(), claims); err != nil {
		return fail(types.StageClaimsExtracted, err)
	}
	advance(types.StageClaimsExtracted)
	if err := report.WriteJSON(a.Metadata(), meta); err != nil {
		return fail(types.StageMetadataExtracted, err)
	}
	advance(types.StageMetadataExtracted)

	matches, rankErrs := p.match(ctx, claims)
	if err := ctx.Err(); err != nil {
		return fail(types.StageMatched, err)
	}
	r.Matches = matches
	advance(types.StageMatched)

	r.Decisions = p.selectAll(ctx, matches, rankErrs)
	if err := ctx.Err(); err != nil {
		return fail(types.StageCitationsSelected, err)
	}
	if err := report.WriteJSON(a.Matches(), report.Records(r)); err != nil {
		return fail(types.StageCitationsSelected, err)
	}
	advance(types.StageCitationsSelected)

	if err := writeFile(a.Report(), []byte(p.deps.Renderer.Render(r))); err != nil {
		return fail(types.StageReportGenerated, err)
	}
	r.ReportPath = a.Report()
	advance(types.StageReportGenerated)

	logger.Info().Str("document", r.DocumentID).
		Int("claims", len(claims)).
		Int("unresolved", r.Unresolved()).
		Str("outcome", string(r.Outcome())).
		Msg("document processed")
	return r
}

// extract runs claim and metadata extraction concurrently on the cleaned
// text. The first failure cancels the other and is returned as a
// *types.StageError naming its stage.
func (p *Pipeline) extract(ctx context.Context, documentID, cleaned string) ([]types.Claim, types.DocumentMetadata, error) {
	var claims []types.Claim
	var meta types.DocumentMetadata

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if claims, err = p.deps.Claims.Extract(gctx, documentID, cleaned); err != nil {
			return &types.StageError{Stage: types.StageClaimsExtracted, Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if meta, err = p.deps.Metadata.Extract(gctx, cleaned); err != nil {
			return &types.StageError{Stage: types.StageMetadataExtracted, Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, meta, err
	}
	if claims == nil {
		claims = []types.Claim{}
	}
	return claims, meta, nil
}

// writeFile writes data to a temporary file in the target directory and
// renames it into place.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".pipeline-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", filepath.Base(path), writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
