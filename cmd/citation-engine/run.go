// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/citation-engine/internal/pipeline"
	"github.com/pdiddy/citation-engine/internal/report"
	"github.com/pdiddy/citation-engine/pkg/types"
)

var (
	succeeded = color.New(color.FgGreen).SprintFunc()
	partial   = color.New(color.FgYellow).SprintFunc()
	failed    = color.New(color.FgRed).SprintFunc()
)

func outcomeLabel(o types.Outcome) string {
	switch o {
	case types.OutcomeSucceeded:
		return succeeded(string(o))
	case types.OutcomePartial:
		return partial(string(o))
	default:
		return failed(string(o))
	}
}

// printEntry writes one status line per document.
func printEntry(w io.Writer, e types.ManifestEntry) {
	switch e.Outcome {
	case types.OutcomeFailed:
		fmt.Fprintf(w, "%-9s %s (%s)\n", outcomeLabel(e.Outcome), e.DocumentID, e.Error)
	default:
		fmt.Fprintf(w, "%-9s %s (%d claims, %d unresolved) -> %s\n", outcomeLabel(e.Outcome), e.DocumentID, e.Claims, e.Unresolved, e.ReportPath)
	}
}

// printManifest writes per-document lines and a summary.
func printManifest(w io.Writer, m types.Manifest) {
	for _, e := range m.Documents {
		printEntry(w, e)
	}
	fmt.Fprintf(w, "\nRun %s: %d succeeded, %d partial, %d failed (total: %d, %s)\n",
		m.RunID,
		m.Count(types.OutcomeSucceeded), m.Count(types.OutcomePartial), m.Count(types.OutcomeFailed),
		len(m.Documents), m.FinishedAt.Sub(m.StartedAt).Round(time.Millisecond))
}

func runDocuments(cmd *cobra.Command, paths []string) error {
	ctx, stop := signalContext()
	defer stop()

	p, svc, err := newPipeline(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	m, err := p.RunBatch(ctx, paths)
	printManifest(cmd.OutOrStdout(), m)
	if err != nil {
		return err
	}
	if n := m.Count(types.OutcomeFailed); n > 0 {
		return fmt.Errorf("%d document(s) failed", n)
	}
	return nil
}

var runCmd = &cobra.Command{
	Use:   "run [documents...]",
	Short: "Run the full pipeline on PDF or DOCX documents",
	Long: `Run converts each document, cleans the Markdown, extracts claims and
metadata, ranks reference propositions for every claim, selects citations,
and writes <id>_report.md with its intermediate artifacts to the output
directory. A manifest.json summarizes the run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocuments(cmd, args)
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch [input-dir]",
	Short: "Run the pipeline on every document in a directory",
	Long: `Batch processes each .pdf and .docx file directly inside the input
directory (pipeline.input_dir when omitted), running up to pipeline.workers
documents at a time.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := viper.GetString("pipeline.input_dir")
		if len(args) > 0 {
			dir = args[0]
		}
		paths, err := pipeline.ScanInputs(dir)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no documents in %s\n", dir)
			return nil
		}
		return runDocuments(cmd, paths)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [input-dir]",
	Short: "Process documents as they are added to a directory",
	Long: `Watch monitors the input directory and runs the pipeline on each new
or rewritten .pdf and .docx file once it has stopped changing. Documents
already present are processed first unless --skip-existing is set.
Interrupt to stop.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := viper.GetString("pipeline.input_dir")
		if len(args) > 0 {
			dir = args[0]
		}
		settle, _ := cmd.Flags().GetDuration("settle")
		skipExisting, _ := cmd.Flags().GetBool("skip-existing")

		ctx, stop := signalContext()
		defer stop()

		p, svc, err := newPipeline(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		out := cmd.OutOrStdout()
		if !skipExisting {
			paths, err := pipeline.ScanInputs(dir)
			if err != nil {
				return err
			}
			if len(paths) > 0 {
				m, err := p.RunBatch(ctx, paths)
				printManifest(out, m)
				if err != nil {
					return err
				}
			}
		}

		fmt.Fprintf(out, "watching %s (interrupt to stop)\n", dir)
		return p.Watch(ctx, dir, settle, func(r types.DocumentReport) {
			printEntry(out, pipeline.Entry(r))
		})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report [document-id]",
	Short: "Re-render a report from the artifacts of an earlier run",
	Long: `Report rebuilds <id>_report.md from <id>_metadata.json and
<id>_claim_matches.json in the output directory without calling any
external service. Use --check to list cited ids missing from the
knowledge base.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a := report.Artifacts{Dir: cfg.Pipeline.OutputDir, ID: args[0]}
		r, err := report.Rebuild(a)
		if err != nil {
			return err
		}
		md := report.Markdown{}.Render(r)

		if check, _ := cmd.Flags().GetBool("check"); check {
			if err := checkCitations(cmd, cfg, md); err != nil {
				return err
			}
		}

		if err := os.WriteFile(a.Report(), []byte(md), 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", filepath.Clean(a.Report()))
		return nil
	},
}

func init() {
	watchCmd.Flags().Duration("settle", pipeline.DefaultSettle, "quiet period before a new file is processed")
	watchCmd.Flags().Bool("skip-existing", false, "do not process documents already in the directory")

	reportCmd.Flags().Bool("check", false, "verify cited ids exist in the knowledge base")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(reportCmd)
}
