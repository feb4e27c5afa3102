// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/citation-engine/internal/convert"
	"github.com/pdiddy/citation-engine/internal/retry"
	"github.com/pdiddy/citation-engine/internal/worker"
	"github.com/pdiddy/citation-engine/pkg/types"
)

var convertCmd = &cobra.Command{
	Use:   "convert [documents...]",
	Short: "Convert PDF or DOCX documents to Markdown",
	Long: `Convert writes <id>.md with YAML frontmatter for each document. The
backend is llamaparse (hosted parsing service), markitdown (container
image run with docker or podman), or local (built-in PDF text and DOCX
conversion). Documents already converted are skipped unless --force is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
			cfg.Conversion.Backend = types.ConversionBackend(backend)
		}
		force, _ := cmd.Flags().GetBool("force")

		conv, err := convert.New(cfg.Conversion, retry.NewPolicy(cfg.Retry), worker.LimiterFor(cfg.RateLimit))
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()
		result := convert.ConvertPaths(ctx, conv, args, cfg.Pipeline.OutputDir, force, cmd.OutOrStdout())
		if result.HasFailures() {
			return fmt.Errorf("%d document(s) failed conversion", result.Failed)
		}
		return nil
	},
}

func init() {
	convertCmd.Flags().String("backend", "", "conversion backend: llamaparse, markitdown, or local (default conversion.backend)")
	convertCmd.Flags().Bool("force", false, "reconvert documents that already have Markdown")

	rootCmd.AddCommand(convertCmd)
}
