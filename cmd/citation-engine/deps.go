// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pdiddy/citation-engine/internal/cite"
	"github.com/pdiddy/citation-engine/internal/convert"
	"github.com/pdiddy/citation-engine/internal/embed"
	"github.com/pdiddy/citation-engine/internal/extract"
	"github.com/pdiddy/citation-engine/internal/knowledge"
	"github.com/pdiddy/citation-engine/internal/llm"
	"github.com/pdiddy/citation-engine/internal/pipeline"
	"github.com/pdiddy/citation-engine/internal/rank"
	"github.com/pdiddy/citation-engine/internal/report"
	"github.com/pdiddy/citation-engine/internal/retry"
	"github.com/pdiddy/citation-engine/internal/worker"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// services are the shared clients built from configuration.
type services struct {
	cfg     types.Config
	policy  retry.Policy
	limiter *worker.Limiter
	closers []func() error
}

func newServices(cfg types.Config) *services {
	return &services{
		cfg:     cfg,
		policy:  retry.NewPolicy(cfg.Retry),
		limiter: worker.LimiterFor(cfg.RateLimit),
	}
}

// Close releases database handles opened while building dependencies.
func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn().Err(err).Msg("closing resource")
		}
	}
}

func (s *services) completer(ctx context.Context, ai types.AIConfig) (llm.Completer, error) {
	c, err := llm.New(ctx, ai)
	if err != nil {
		return nil, err
	}
	return llm.Guard(c, s.policy, s.limiter), nil
}

func (s *services) embedder(ctx context.Context) (embed.Embedder, error) {
	return embed.New(ctx, s.cfg.Embedding, s.policy, s.limiter)
}

// ranker returns the pgvector ranker when a DSN is configured and the
// in-memory ranker over the local knowledge base otherwise. An empty local
// database is seeded from knowledge_base.csv_path when set.
func (s *services) ranker(ctx context.Context) (rank.Ranker, error) {
	kb := s.cfg.KnowledgeBase
	if kb.PostgresDSN != "" {
		remote, err := knowledge.OpenRemote(ctx, kb.PostgresDSN, kb.PostgresTable)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, remote.Close)
		logger.Info().Str("table", kb.PostgresTable).Msg("ranking against pgvector")
		return remote, nil
	}

	store, err := knowledge.NewStore(kb)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	stats, err := store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if stats.Propositions == 0 && kb.CSVPath != "" {
		if _, err := store.ImportCSV(ctx, kb.CSVPath, os.Stderr); err != nil {
			return nil, err
		}
	}

	idx, err := store.LoadIndex(ctx)
	if err != nil {
		return nil, err
	}
	if idx.Len() == 0 {
		logger.Warn().Str("knowledge_dir", kb.KnowledgeDir).Msg("knowledge base is empty; every claim will have no match")
	} else if idx.Dim() != s.cfg.Embedding.Dimensions {
		return nil, fmt.Errorf("knowledge base dimension %d does not match embedding.dimensions %d", idx.Dim(), s.cfg.Embedding.Dimensions)
	}
	logger.Info().Int("propositions", idx.Len()).Int("dimension", idx.Dim()).Msg("knowledge base loaded")
	return rank.NewBruteForce(idx, s.cfg.Matching.TopK), nil
}

// selector builds the citation selector.
func (s *services) selector(ctx context.Context) (*cite.Selector, error) {
	c, err := s.completer(ctx, s.cfg.Completion.Citation)
	if err != nil {
		return nil, fmt.Errorf("citation completer: %w", err)
	}
	return cite.NewSelector(c, s.cfg.Matching, logger), nil
}

// pipelineDeps wires every stage of the pipeline.
func (s *services) pipelineDeps(ctx context.Context) (pipeline.Deps, error) {
	var deps pipeline.Deps

	conv, err := convert.New(s.cfg.Conversion, s.policy, s.limiter)
	if err != nil {
		return deps, err
	}

	cleanup, err := s.completer(ctx, s.cfg.Completion.Cleanup)
	if err != nil {
		return deps, fmt.Errorf("cleanup completer: %w", err)
	}
	claims, err := s.completer(ctx, s.cfg.Completion.Claims)
	if err != nil {
		return deps, fmt.Errorf("claims completer: %w", err)
	}
	metadata, err := s.completer(ctx, s.cfg.Completion.Metadata)
	if err != nil {
		return deps, fmt.Errorf("metadata completer: %w", err)
	}
	sel, err := s.selector(ctx)
	if err != nil {
		return deps, err
	}
	emb, err := s.embedder(ctx)
	if err != nil {
		return deps, err
	}
	rk, err := s.ranker(ctx)
	if err != nil {
		return deps, err
	}

	return pipeline.Deps{
		Converter: conv,
		Cleaner:   extract.NewCleaner(cleanup, 0, logger),
		Claims:    extract.NewClaimExtractor(claims, 0, logger),
		Metadata:  extract.NewMetadataExtractor(metadata, logger),
		Embedder:  emb,
		Ranker:    rk,
		Selector:  sel,
		Renderer:  report.Markdown{},
		Logger:    logger,
	}, nil
}

// newPipeline loads configuration and builds a pipeline. The caller must
// Close the returned services.
func newPipeline(ctx context.Context) (*pipeline.Pipeline, *services, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	svc := newServices(cfg)
	deps, err := svc.pipelineDeps(ctx)
	if err != nil {
		svc.Close()
		return nil, nil, err
	}
	p, err := pipeline.New(deps, pipeline.OptionsFromConfig(cfg))
	if err != nil {
		svc.Close()
		return nil, nil, err
	}
	return p, svc, nil
}
