// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pdiddy/citation-engine/pkg/types"
)

// inputExtensions are the document types the pipeline accepts.
var inputExtensions = map[string]bool{".pdf": true, ".docx": true}

// DefaultSettle is how long a file must go unmodified before Watch
// processes it.
const DefaultSettle = 2 * time.Second

// IsInput reports whether path has a supported document extension.
func IsInput(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return false
	}
	return inputExtensions[strings.ToLower(filepath.Ext(path))]
}

// ScanInputs lists the supported documents directly inside dir, sorted
// by name.
func ScanInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading input directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsInput(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Watch processes documents created or rewritten in dir until ctx ends.
// A file is processed once it has been quiet for settle, so partially
// copied files are not picked up. Each finished report is passed to
// handle, which is called from one goroutine at a time.
func (p *Pipeline) Watch(ctx context.Context, dir string, settle time.Duration, handle func(types.DocumentReport)) error {
	if settle <= 0 {
		settle = DefaultSettle
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	p.log.Info().Str("dir", dir).Dur("settle", settle).Msg("watching for documents")

	type entry struct{ timer *time.Timer }
	var (
		mu      sync.Mutex
		pending = make(map[string]*entry)
		wg      sync.WaitGroup
		serial  sync.Mutex
	)
	defer func() {
		mu.Lock()
		for _, e := range pending {
			if e.timer.Stop() {
				wg.Done()
			}
		}
		mu.Unlock()
		wg.Wait()
	}()

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if e, ok := pending[path]; ok && e.timer.Stop() {
			e.timer.Reset(settle)
			return
		}
		e := &entry{}
		wg.Add(1)
		e.timer = time.AfterFunc(settle, func() {
			defer wg.Done()
			mu.Lock()
			if pending[path] == e {
				delete(pending, path)
			}
			mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			serial.Lock()
			defer serial.Unlock()
			handle(p.Run(ctx, path))
		})
		pending[path] = e
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !IsInput(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				schedule(event.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			p.log.Warn().Err(err).Msg("watcher error")
		}
	}
}
