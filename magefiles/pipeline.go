//go:build mage

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// cli runs the built binary with the given arguments.
func cli(args ...string) error {
	mg.Deps(Build)
	return sh.RunV("./bin/citation-engine", args...)
}

// Import loads every proposition CSV under knowledge/ into the knowledge base.
func Import() error {
	files, err := filepath.Glob("knowledge/*.csv")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no CSV files in knowledge/")
	}
	return cli(append([]string{"knowledge", "import"}, files...)...)
}

// Batch processes every document in input/ and writes reports to output/.
func Batch() error {
	return cli("batch", "input")
}

// Watch processes documents as they appear in input/.
func Watch() error {
	return cli("watch", "input")
}
