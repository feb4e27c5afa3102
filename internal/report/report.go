// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report renders per-document citation reports as Markdown and
// reads and writes the JSON and YAML artifacts of a pipeline run.
package report

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pdiddy/citation-engine/pkg/types"
)

// Markdown renders a DocumentReport. The zero value is ready to use.
type Markdown struct{}

// section groups claims that share an alignment heading.
type section struct {
	number  int
	heading string
	label   string
	empty   string
	claims  []claimEntry
}

type claimEntry struct {
	claim    types.Claim
	matches  []types.Match
	decision *types.CitationDecision
}

// Render produces the report: title, TL;DR summary, focus areas, then one
// section per alignment listing each claim with its ranked matches.
// Picks made by the score fallback carry no alignment and get their own
// section. Selected propositions are marked. Claims with no selection state
// types.NoStrongMatch; unresolved claims state the error.
func (Markdown) Render(r types.DocumentReport) string {
	meta := types.FallbackMetadata()
	if r.Metadata != nil {
		meta = *r.Metadata
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", orDefault(meta.Title, r.DocumentID))
	fmt.Fprintf(&b, "**TL;DR:**  \n%s\n\n", orDefault(meta.Summary, types.NotSpecified))
	fmt.Fprintf(&b, "**Focus Area:**  \n%s\n\n", orDefault(strings.Join(meta.FocusAreas, " | "), types.NotSpecified))
	b.WriteString("---\n\n")

	entries := pair(r)
	if len(entries) == 0 {
		b.WriteString("## No claims were extracted from this document.\n")
		return b.String()
	}

	sections := []*section{
		{number: 1, heading: "Aligned", label: "Aligned Matches", empty: "No aligned claims found."},
		{number: 2, heading: "Partially aligned", label: "Partially Aligned Matches", empty: "No partially aligned claims found."},
		{number: 3, heading: "Selected by score", label: "Matches"},
		{number: 4, heading: "Not aligned", label: "Matches", empty: "All claims are aligned or partially aligned."},
		{number: 5, heading: "Unresolved", label: "Matches"},
	}
	for _, e := range entries {
		s := sections[sectionIndex(e.decision)]
		s.claims = append(s.claims, e)
	}

	for _, s := range sections {
		if s.empty == "" && len(s.claims) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", s.heading)
		if len(s.claims) == 0 {
			fmt.Fprintf(&b, "%s\n\n", s.empty)
			continue
		}
		for i, e := range s.claims {
			writeClaim(&b, fmt.Sprintf("%d.%d", s.number, i+1), s.label, e)
		}
	}
	return b.String()
}

func writeClaim(b *strings.Builder, number, label string, e claimEntry) {
	fmt.Fprintf(b, "### Claim %s\n\n", number)
	fmt.Fprintf(b, "*%s*\n\n", strings.TrimSpace(e.claim.Text))

	d := e.decision
	switch {
	case d == nil:
		b.WriteString("Unresolved: no citation decision recorded\n\n")
	case d.Unresolved:
		fmt.Fprintf(b, "Unresolved: %s\n\n", orDefault(d.Error, "citation selection failed"))
	case d.Empty():
		fmt.Fprintf(b, "%s\n\n", types.NoStrongMatch)
	default:
		fmt.Fprintf(b, "**Selected:** %s (%s, confidence %.2f)\n\n", strings.Join(d.SelectedIDs, ", "), d.Source, d.Confidence)
		if d.Rationale != "" {
			fmt.Fprintf(b, "> %s\n\n", d.Rationale)
		}
	}
	if d != nil && !d.Unresolved && d.Error != "" {
		fmt.Fprintf(b, "Citation service unavailable, fallback applied: %s\n\n", d.Error)
	}

	fmt.Fprintf(b, "**%s:**  \n", label)
	if len(e.matches) == 0 {
		b.WriteString("- None found\n")
	}
	selected := map[string]bool{}
	if d != nil {
		for _, id := range d.SelectedIDs {
			selected[id] = true
		}
	}
	for _, m := range e.matches {
		fmt.Fprintf(b, "* %s (Similarity: %.2f) [ID: %s]", oneLine(m.Text), m.Score, m.PropositionID)
		if selected[m.PropositionID] {
			b.WriteString(" **(selected)**")
		}
		b.WriteString("\n")
	}
	b.WriteString("\n---\n\n")
}

// sectionIndex places a decision in the Aligned, Partially aligned,
// Selected by score, Not aligned or Unresolved section. A selection
// without an alignment verdict comes from the score fallback.
func sectionIndex(d *types.CitationDecision) int {
	switch {
	case d == nil || d.Unresolved:
		return 4
	case d.Empty():
		return 3
	case d.Alignment == types.AlignmentAligned:
		return 0
	case d.Alignment == types.AlignmentPartial:
		return 1
	default:
		return 2
	}
}

// pair joins ranked matches and decisions by claim id, in claim order.
// Claims that only appear in decisions are kept.
func pair(r types.DocumentReport) []claimEntry {
	byID := make(map[string]*claimEntry)
	var order []string
	add := func(c types.Claim) *claimEntry {
		if e, ok := byID[c.ID]; ok {
			return e
		}
		byID[c.ID] = &claimEntry{claim: c}
		order = append(order, c.ID)
		return byID[c.ID]
	}
	for _, cm := range r.Matches {
		add(cm.Claim).matches = cm.Matches
	}
	for i := range r.Decisions {
		add(r.Decisions[i].Claim).decision = &r.Decisions[i]
	}

	entries := make([]claimEntry, 0, len(order))
	for _, id := range order {
		entries = append(entries, *byID[id])
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].claim.Index < entries[j].claim.Index
	})
	return entries
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// citedIDPattern matches the proposition reference written after each
// match line.
var citedIDPattern = regexp.MustCompile(`\[ID: ([^\]]+)\]`)

// CitedIDs returns the proposition ids referenced in a rendered report, in
// order of first appearance.
func CitedIDs(md string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range citedIDPattern.FindAllStringSubmatch(md, -1) {
		id := strings.TrimSpace(m[1])
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// ValidateCitations returns the ids cited in md for which known reports
// false, sorted.
func ValidateCitations(md string, known func(id string) bool) []string {
	var missing []string
	for _, id := range CitedIDs(md) {
		if !known(id) {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing
}
