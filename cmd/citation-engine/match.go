// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/citation-engine/pkg/types"
)

var matchCmd = &cobra.Command{
	Use:   "match [claim text]",
	Short: "Rank reference propositions for a single claim",
	Long: `Match embeds the claim text, ranks the knowledge base by cosine
similarity, and prints the top candidates. With --select the citation
selector also decides which candidates the claim should cite.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMatch,
}

func runMatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if k, _ := cmd.Flags().GetInt("k"); k > 0 {
		cfg.Matching.TopK = k
	}
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return fmt.Errorf("claim text is empty")
	}

	ctx, stop := signalContext()
	defer stop()

	svc := newServices(cfg)
	defer svc.Close()
	emb, err := svc.embedder(ctx)
	if err != nil {
		return err
	}
	rk, err := svc.ranker(ctx)
	if err != nil {
		return err
	}

	embedding, err := emb.Embed(ctx, text)
	if err != nil {
		return err
	}
	matches, err := rk.Rank(ctx, embedding, cfg.Matching.TopK)
	if err != nil {
		return err
	}

	claim := types.Claim{ID: "cli", Text: text, DocumentID: "cli"}
	result := struct {
		Claim    types.Claim             `json:"claim"`
		Matches  []types.Match           `json:"matches"`
		Decision *types.CitationDecision `json:"decision,omitempty"`
	}{Claim: claim, Matches: matches}

	if doSelect, _ := cmd.Flags().GetBool("select"); doSelect {
		sel, err := svc.selector(ctx)
		if err != nil {
			return err
		}
		d, err := sel.Select(ctx, claim, matches)
		if err != nil {
			logger.Warn().Err(err).Msg("citation selection failed")
		}
		result.Decision = &d
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printMatches(out, matches, result.Decision)
	return nil
}

func printMatches(w io.Writer, matches []types.Match, d *types.CitationDecision) {
	if len(matches) == 0 {
		fmt.Fprintln(w, types.NoStrongMatch)
		return
	}
	selected := map[string]bool{}
	if d != nil {
		for _, id := range d.SelectedIDs {
			selected[id] = true
		}
	}

	fmt.Fprintf(w, "%-4s  %-6s  %-16s  %s\n", "Rank", "Score", "ID", "Text")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for i, m := range matches {
		text := strings.Join(strings.Fields(m.Text), " ")
		if len(text) > 68 {
			text = text[:65] + "..."
		}
		mark := " "
		if selected[m.PropositionID] {
			mark = succeeded("*")
		}
		fmt.Fprintf(w, "%-4d  %.4f  %-16s %s%s\n", i+1, m.Score, m.PropositionID, mark, text)
	}

	if d == nil {
		return
	}
	fmt.Fprintln(w)
	switch {
	case d.Unresolved:
		fmt.Fprintf(w, "%s %s\n", failed("unresolved:"), d.Error)
	case d.Empty():
		fmt.Fprintln(w, types.NoStrongMatch)
	default:
		fmt.Fprintf(w, "selected %s (%s, %s, confidence %.2f)\n", strings.Join(d.SelectedIDs, ", "), d.Alignment, d.Source, d.Confidence)
	}
	if d.Rationale != "" && d.Rationale != types.NoStrongMatch {
		fmt.Fprintf(w, "rationale: %s\n", d.Rationale)
	}
}

func init() {
	matchCmd.Flags().Int("k", 0, "number of candidates (default matching.top_k)")
	matchCmd.Flags().Bool("select", false, "also run citation selection")
	matchCmd.Flags().Bool("json", false, "output as JSON")

	rootCmd.AddCommand(matchCmd)
}
