// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/pdiddy/citation-engine/pkg/types"
)

// LocalConverter converts documents in process without external tools.
// PDF output is plain text per page and relies on the cleanup stage for
// structure; DOCX output keeps headings, lists, tables, and links.
type LocalConverter struct{}

// NewLocalConverter returns the built-in converter.
func NewLocalConverter() *LocalConverter { return &LocalConverter{} }

// Name returns "local".
func (l *LocalConverter) Name() string { return string(types.BackendLocal) }

// Convert dispatches on the detected format.
func (l *LocalConverter) Convert(ctx context.Context, path string) (string, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch format {
	case FormatDOCX:
		return convertDOCX(path)
	default:
		return convertPDF(ctx, path)
	}
}

var contentPageRe = regexp.MustCompile(`page_(\d+)`)

// convertPDF reads the document with pdfcpu, extracts each page's content
// stream, and recovers the text drawn by it. Pages are separated by
// <!-- page N --> markers.
func convertPDF(ctx context.Context, path string) (string, error) {
	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return "", &types.ParseError{Path: path, Reason: "unreadable pdf", Err: err}
	}
	if pdfCtx.PageCount == 0 {
		return "", &types.ParseError{Path: path, Reason: "pdf has no pages"}
	}

	outDir, err := os.MkdirTemp("", "citation-engine-pdf-*")
	if err != nil {
		return "", fmt.Errorf("creating temp directory: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(path, outDir, nil, conf); err != nil {
		return "", &types.ParseError{Path: path, Reason: "extracting page content", Err: err}
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", fmt.Errorf("reading extracted content: %w", err)
	}
	pages := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := contentPageRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		data, err := os.ReadFile(filepath.Join(outDir, e.Name()))
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		// A page can have several content streams.
		pages[n] += extractText(data)
	}

	nums := make([]int, 0, len(pages))
	for n := range pages {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var b strings.Builder
	for _, n := range nums {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text := strings.TrimSpace(pages[n])
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "<!-- page %d -->\n\n%s\n\n", n, text)
	}
	if b.Len() == 0 {
		return "", &types.ParseError{Path: path, Reason: "no extractable text (scanned or image-only pdf)"}
	}
	return b.String(), nil
}
