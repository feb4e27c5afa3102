// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"net/url"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/pdiddy/citation-engine/pkg/types"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Linkify))

// Links returns the link destinations in a Markdown document, grouped as
// internal (relative paths and anchors), external (http and https), and
// other (mailto, ftp, and anything else). Each group is in document order
// without repeats.
func Links(src string) types.Hyperlinks {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var links types.Hyperlinks
	seen := make(map[string]bool)
	add := func(dest string) {
		dest = strings.TrimSpace(dest)
		if dest == "" || seen[dest] {
			return
		}
		seen[dest] = true
		switch classifyLink(dest) {
		case linkInternal:
			links.Internal = append(links.Internal, dest)
		case linkExternal:
			links.External = append(links.External, dest)
		default:
			links.Other = append(links.Other, dest)
		}
	}

	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Link:
			add(string(node.Destination))
		case *ast.AutoLink:
			dest := string(node.URL(source))
			if node.AutoLinkType == ast.AutoLinkEmail && !strings.HasPrefix(dest, "mailto:") {
				dest = "mailto:" + dest
			}
			add(dest)
		}
		return ast.WalkContinue, nil
	})
	return links
}

type linkKind int

const (
	linkInternal linkKind = iota
	linkExternal
	linkOther
)

func classifyLink(dest string) linkKind {
	if strings.HasPrefix(dest, "#") {
		return linkInternal
	}
	u, err := url.Parse(dest)
	if err != nil {
		return linkOther
	}
	switch strings.ToLower(u.Scheme) {
	case "":
		if strings.HasPrefix(dest, "www.") {
			return linkExternal
		}
		return linkInternal
	case "http", "https":
		return linkExternal
	default:
		return linkOther
	}
}

// mergeLinks adds the links of b missing from a, dropping the
// NotSpecified placeholder once a real link exists.
func mergeLinks(a, b types.Hyperlinks) types.Hyperlinks {
	return types.Hyperlinks{
		Internal: mergeList(a.Internal, b.Internal),
		External: mergeList(a.External, b.External),
		Other:    mergeList(a.Other, b.Other),
	}
}

func mergeList(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" || s == types.NotSpecified || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
