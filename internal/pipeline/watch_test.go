// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/citation-engine/pkg/types"
)

func TestIsInput(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"guide.pdf", true},
		{"/in/Grading.DOCX", true},
		{"notes.txt", false},
		{"~$draft.docx", false},
		{".hidden.pdf", false},
		{"archive.pdf.zip", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsInput(tt.path), tt.path)
	}
}

func TestScanInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.docx", "c.txt", ".d.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o755))

	got, err := ScanInputs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.docx"), filepath.Join(dir, "b.pdf")}, got)

	_, err = ScanInputs(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestWatch_ProcessesNewDocuments(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	watchDir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reports := make(chan types.DocumentReport, 4)
	done := make(chan error, 1)
	go func() {
		done <- p.Watch(ctx, watchDir, 50*time.Millisecond, func(r types.DocumentReport) { reports <- r })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(watchDir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(watchDir, "guide.pdf"), []byte("%PDF-1.4\n"), 0o644))

	select {
	case r := <-reports:
		assert.Equal(t, "guide", r.DocumentID)
		assert.Equal(t, types.OutcomeSucceeded, r.Outcome())
	case <-time.After(5 * time.Second):
		t.Fatal("document was not processed")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.Empty(t, reports)
}
