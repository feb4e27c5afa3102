// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/pdiddy/citation-engine/internal/container"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// DefaultImage is used when no markitdown image is configured.
const DefaultImage = "markitdown:latest"

// MarkitdownConverter pipes documents through the markitdown container
// image. markitdown reads both PDF and DOCX from stdin.
type MarkitdownConverter struct {
	runtime container.Runtime
	image   string
}

// NewMarkitdownConverter returns a converter running image with rt. It
// fails when the image is not present locally.
func NewMarkitdownConverter(rt container.Runtime, image string) (*MarkitdownConverter, error) {
	if image == "" {
		image = DefaultImage
	}
	if err := rt.ImageExists(image); err != nil {
		return nil, fmt.Errorf("markitdown image not available in %s: %w", rt.Name(), err)
	}
	return &MarkitdownConverter{runtime: rt, image: image}, nil
}

// Name returns "markitdown".
func (m *MarkitdownConverter) Name() string { return string(types.BackendMarkitdown) }

// Convert runs the container on the document at path.
func (m *MarkitdownConverter) Convert(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &types.ParseError{Path: path, Reason: "cannot open", Err: err}
	}
	defer f.Close()

	var out bytes.Buffer
	if err := m.runtime.Run(ctx, m.image, f, &out); err != nil {
		return "", types.ConversionServiceError("markitdown", fmt.Errorf("converting %s: %w", path, err), false)
	}
	if out.Len() == 0 {
		return "", &types.ParseError{Path: path, Reason: "markitdown produced empty output"}
	}
	return out.String(), nil
}
