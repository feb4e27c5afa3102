// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convert turns PDF and Word documents into Markdown with a
// pluggable backend: a hosted parsing service, the markitdown container,
// or the built-in local converter.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pdiddy/citation-engine/internal/container"
	"github.com/pdiddy/citation-engine/internal/retry"
	"github.com/pdiddy/citation-engine/internal/worker"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// Format is a supported input document format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

var (
	magicPDF = []byte("%PDF-")
	magicZip = []byte("PK\x03\x04")
)

// DetectFormat checks the extension of path and that the file starts with
// the matching signature. Anything else is a *types.ParseError.
func DetectFormat(path string) (Format, error) {
	var format Format
	var magic []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		format, magic = FormatPDF, magicPDF
	case ".docx":
		format, magic = FormatDOCX, magicZip
	default:
		return "", &types.ParseError{Path: path, Reason: fmt.Sprintf("unsupported format %q", filepath.Ext(path))}
	}

	f, err := os.Open(path)
	if err != nil {
		return "", &types.ParseError{Path: path, Reason: "cannot open", Err: err}
	}
	defer f.Close()

	head := make([]byte, 1024)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", &types.ParseError{Path: path, Reason: "cannot read", Err: err}
	}
	head = head[:n]
	// PDF allows leading junk before the header within the first 1 KiB.
	if (format == FormatPDF && bytes.Contains(head, magic)) || bytes.HasPrefix(head, magic) {
		return format, nil
	}
	return "", &types.ParseError{Path: path, Reason: fmt.Sprintf("not a %s file", format)}
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// DocumentID derives the document id from its file name: the base name
// without extension, with runs of other characters replaced by "_".
func DocumentID(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	id := strings.Trim(unsafeIDChars.ReplaceAllString(base, "_"), "_")
	if id == "" {
		return "document"
	}
	return id
}

// Converter transforms a document file into Markdown text.
type Converter interface {
	// Convert reads the document at path and returns its Markdown content.
	Convert(ctx context.Context, path string) (string, error)

	// Name identifies the backend in logs and frontmatter.
	Name() string
}

// New returns the backend selected by cfg.Backend.
func New(cfg types.ConversionConfig, policy retry.Policy, limiter *worker.Limiter) (Converter, error) {
	switch cfg.Backend {
	case types.BackendLlamaParse:
		return NewLlamaParse(cfg, policy, limiter)
	case types.BackendMarkitdown:
		rt, err := container.Select(cfg.Runtime)
		if err != nil {
			return nil, err
		}
		return NewMarkitdownConverter(rt, cfg.Image)
	case types.BackendLocal, "":
		return NewLocalConverter(), nil
	default:
		return nil, fmt.Errorf("unknown conversion backend %q", cfg.Backend)
	}
}

// Result describes one converted document.
type Result struct {
	DocumentID   string
	SourcePath   string
	MarkdownPath string
	Markdown     string
}

// ConvertDocument checks the format of path, converts it, and writes
// <outDir>/<id>.md with YAML frontmatter. Result.Markdown is the body
// without frontmatter.
func ConvertDocument(ctx context.Context, c Converter, path, outDir string) (Result, error) {
	res := Result{DocumentID: DocumentID(path), SourcePath: path}
	if _, err := DetectFormat(path); err != nil {
		return res, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return res, fmt.Errorf("creating output directory: %w", err)
	}

	body, err := c.Convert(ctx, path)
	if err != nil {
		return res, err
	}
	if strings.TrimSpace(body) == "" {
		return res, &types.ParseError{Path: path, Reason: "no text content"}
	}

	res.Markdown = body
	res.MarkdownPath = filepath.Join(outDir, res.DocumentID+".md")
	content := addFrontmatter(res.DocumentID, path, c.Name(), body)
	if err := os.WriteFile(res.MarkdownPath, []byte(content), 0o644); err != nil {
		return res, fmt.Errorf("writing %s: %w", res.MarkdownPath, err)
	}
	return res, nil
}

// BatchResult holds the outcome of a batch conversion run.
type BatchResult struct {
	Converted int
	Skipped   int
	Failed    int
}

// Total returns the number of documents processed.
func (r BatchResult) Total() int {
	return r.Converted + r.Skipped + r.Failed
}

// HasFailures reports whether any document failed conversion.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

// ConvertPaths converts each document into outDir, printing per-file
// status to w. Documents whose Markdown already exists are skipped unless
// force is set.
func ConvertPaths(ctx context.Context, c Converter, paths []string, outDir string, force bool, w io.Writer) BatchResult {
	var result BatchResult
	for _, p := range paths {
		id := DocumentID(p)
		if !force {
			if _, err := os.Stat(filepath.Join(outDir, id+".md")); err == nil {
				fmt.Fprintf(w, "skipped: %s (already exists)\n", id)
				result.Skipped++
				continue
			}
		}
		if _, err := ConvertDocument(ctx, c, p, outDir); err != nil {
			fmt.Fprintf(w, "failed:  %s (%v)\n", id, err)
			result.Failed++
			continue
		}
		fmt.Fprintf(w, "converted: %s\n", id)
		result.Converted++
	}
	fmt.Fprintf(w, "\nBatch summary: %d converted, %d skipped, %d failed (total: %d)\n",
		result.Converted, result.Skipped, result.Failed, result.Total())
	return result
}

// addFrontmatter prepends YAML frontmatter to the converted Markdown.
func addFrontmatter(id, source, backend, body string) string {
	ts := time.Now().UTC().Format(time.RFC3339)
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "document_id: %q\n", id)
	fmt.Fprintf(&b, "source_file: %q\n", source)
	fmt.Fprintf(&b, "converter: %q\n", backend)
	fmt.Fprintf(&b, "converted_at: %q\n", ts)
	b.WriteString("---\n\n")
	b.WriteString(body)
	return b.String()
}

// StripFrontmatter removes a leading YAML frontmatter block.
func StripFrontmatter(md string) string {
	if !strings.HasPrefix(md, "---\n") {
		return md
	}
	end := strings.Index(md[4:], "\n---\n")
	if end < 0 {
		return md
	}
	return strings.TrimLeft(md[4+end+5:], "\n")
}
