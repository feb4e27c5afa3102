// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/citation-engine/internal/knowledge"
	"github.com/pdiddy/citation-engine/internal/report"
	"github.com/pdiddy/citation-engine/pkg/types"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the reference proposition knowledge base",
	Long: `Knowledge manages the local SQLite database of pre-embedded reference
propositions: import CSV files, search them with full-text queries, export
them, or push them to a PostgreSQL pgvector table.`,
}

// openStore loads configuration and opens the local knowledge base.
func openStore() (*knowledge.Store, types.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	store, err := knowledge.NewStore(cfg.KnowledgeBase)
	return store, cfg, err
}

// --- import subcommand ---

var knowledgeImportCmd = &cobra.Command{
	Use:   "import [csv files...]",
	Short: "Import proposition CSV files into the knowledge base",
	Long: `Import reads CSV files with id, text, and embedding columns (plus
optional metadata and file_name) and stores them with a full-text index.
Files unchanged since their last import are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		failedFiles := 0
		for _, path := range args {
			summary, err := store.ImportCSV(context.Background(), path, out)
			if err != nil {
				fmt.Fprintf(out, "failed:  %s (%v)\n", path, err)
				failedFiles++
				continue
			}
			fmt.Fprintf(out, "%s: %d imported, %d skipped, %d failed\n",
				path, summary.Imported, summary.Skipped, summary.Failed)
		}
		if failedFiles > 0 {
			return fmt.Errorf("%d file(s) failed import", failedFiles)
		}
		return nil
	},
}

// --- retrieve subcommand ---

var knowledgeRetrieveCmd = &cobra.Command{
	Use:   "retrieve [query]",
	Short: "Search propositions with full-text search and filters",
	Long: `Retrieve searches proposition text using FTS5 full-text search,
filters by source file name or import source, or both.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		opts := queryOptsFromFlags(cmd, args)
		if opts.IsEmpty() {
			return fmt.Errorf("query or filter required: provide a search query, --file, or --source")
		}
		results, err := store.Retrieve(context.Background(), opts)
		if err != nil {
			return err
		}
		jsonOutput, _ := cmd.Flags().GetBool("json")
		return formatRetrieveOutput(cmd.OutOrStdout(), results, jsonOutput)
	},
}

func formatRetrieveOutput(w io.Writer, results []knowledge.QueryResult, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return nil
	}

	fmt.Fprintf(w, "%-4s  %-16s  %-60s  %s\n", "Rank", "ID", "Text", "File")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for i, r := range results {
		text := strings.Join(strings.Fields(r.Text), " ")
		if len(text) > 60 {
			text = text[:57] + "..."
		}
		file := r.FileName
		if len(file) > 24 {
			file = file[:21] + "..."
		}
		fmt.Fprintf(w, "%-4d  %-16s  %-60s  %s\n", i+1, r.ID, text, file)
	}
	fmt.Fprintf(w, "\n%d results\n", len(results))
	return nil
}

// --- export subcommand ---

var knowledgeExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export propositions to YAML, JSON, or CSV",
	Long: `Export writes propositions to knowledge/index/export.yaml, export.json,
or export.csv. YAML and JSON accept the retrieve filters for partial
exports and omit embeddings; CSV writes everything in the import format.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		opts := queryOptsFromFlags(cmd, args)
		var path string
		switch format {
		case "yaml", "":
			path, err = store.ExportYAML(ctx, opts)
		case "json":
			path, err = store.ExportJSON(ctx, opts)
		case "csv":
			path, err = store.ExportCSV(ctx)
		default:
			return fmt.Errorf("unsupported format %q: use yaml, json, or csv", format)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", path)
		return nil
	},
}

// --- stats subcommand ---

var knowledgeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the knowledge base",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		st, err := store.Stats(context.Background())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		fmt.Fprintf(out, "propositions: %d\n", st.Propositions)
		fmt.Fprintf(out, "dimension:    %d\n", st.Dimension)
		fmt.Fprintf(out, "file names:   %d\n", st.FileNames)
		fmt.Fprintf(out, "sources:      %s\n", strings.Join(st.Sources, ", "))
		return nil
	},
}

// --- push subcommand ---

var knowledgePushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload the knowledge base to a PostgreSQL pgvector table",
	Long: `Push creates the pgvector table named by knowledge_base.postgres_table
when missing and upserts every local proposition with its embedding. The
connection comes from knowledge_base.postgres_dsn or DATABASE_URL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		if cfg.KnowledgeBase.PostgresDSN == "" {
			return fmt.Errorf("knowledge_base.postgres_dsn is not set")
		}

		ctx, stop := signalContext()
		defer stop()

		props, err := store.Load(ctx)
		if err != nil {
			return err
		}
		if len(props) == 0 {
			return fmt.Errorf("knowledge base is empty")
		}

		remote, err := knowledge.OpenRemote(ctx, cfg.KnowledgeBase.PostgresDSN, cfg.KnowledgeBase.PostgresTable)
		if err != nil {
			return err
		}
		defer remote.Close()

		if err := remote.EnsureSchema(ctx, len(props[0].Embedding)); err != nil {
			return err
		}
		n, err := remote.Upload(ctx, props)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pushed %d propositions to %s\n", n, cfg.KnowledgeBase.PostgresTable)
		return nil
	},
}

// checkCitations reports cited ids in md that are missing from the local
// knowledge base.
func checkCitations(cmd *cobra.Command, cfg types.Config, md string) error {
	store, err := knowledge.NewStore(cfg.KnowledgeBase)
	if err != nil {
		return err
	}
	defer store.Close()

	idx, err := store.LoadIndex(context.Background())
	if err != nil {
		return err
	}
	missing := report.ValidateCitations(md, func(id string) bool {
		_, ok := idx.Get(id)
		return ok
	})
	if len(missing) > 0 {
		return fmt.Errorf("report cites %d unknown proposition(s): %s", len(missing), strings.Join(missing, ", "))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "all %d cited ids found\n", len(report.CitedIDs(md)))
	return nil
}

// --- shared helpers ---

func queryOptsFromFlags(cmd *cobra.Command, args []string) knowledge.QueryOptions {
	queryText, _ := cmd.Flags().GetString("query")
	if queryText == "" && len(args) > 0 {
		queryText = strings.Join(args, " ")
	}
	fileName, _ := cmd.Flags().GetString("file")
	source, _ := cmd.Flags().GetString("source")
	limit, _ := cmd.Flags().GetInt("limit")

	return knowledge.QueryOptions{
		Query:      queryText,
		FileName:   fileName,
		Source:     source,
		MaxResults: limit,
	}
}

func addFilterFlags(cmd *cobra.Command, limitUsage string) {
	cmd.Flags().String("query", "", "full-text search query")
	cmd.Flags().String("file", "", "filter by source file name")
	cmd.Flags().String("source", "", "filter by import source")
	cmd.Flags().Int("limit", 0, limitUsage)
}

func init() {
	knowledgeCmd.PersistentFlags().Int("max-results", 0, "default number of retrieve results (default knowledge_base.max_results)")
	bindFlag(knowledgeCmd.PersistentFlags().Lookup("max-results"), "knowledge_base.max_results")

	addFilterFlags(knowledgeRetrieveCmd, "maximum results (0 = use default)")
	knowledgeRetrieveCmd.Flags().Bool("json", false, "output results as JSON")

	knowledgeExportCmd.Flags().String("format", "yaml", "export format: yaml, json, or csv")
	addFilterFlags(knowledgeExportCmd, "maximum propositions to export (0 = all)")

	knowledgeStatsCmd.Flags().Bool("json", false, "output as JSON")

	knowledgeCmd.AddCommand(knowledgeImportCmd)
	knowledgeCmd.AddCommand(knowledgeRetrieveCmd)
	knowledgeCmd.AddCommand(knowledgeExportCmd)
	knowledgeCmd.AddCommand(knowledgeStatsCmd)
	knowledgeCmd.AddCommand(knowledgePushCmd)

	rootCmd.AddCommand(knowledgeCmd)
}
