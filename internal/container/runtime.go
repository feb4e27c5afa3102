// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package container runs document conversion images with docker or podman.
// Conversion containers get no network, a read-only root filesystem, and
// talk to the caller only through stdin and stdout.
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Runtime names accepted by Select.
const (
	Auto   = "auto"
	Docker = "docker"
	Podman = "podman"
)

// stderrLimit bounds the container output quoted in errors.
const stderrLimit = 1024

// Runtime runs conversion images.
type Runtime interface {
	// Name returns "docker" or "podman".
	Name() string

	// Available reports whether the binary is on PATH and its daemon or
	// service answers.
	Available() bool

	// ImageExists returns nil when the image is present locally.
	ImageExists(image string) error

	// Run starts image, streams stdin into it, and copies its stdout.
	// Cancelling ctx kills the container process.
	Run(ctx context.Context, image string, stdin io.Reader, stdout io.Writer) error
}

// executor abstracts command execution for tests.
type executor interface {
	LookPath(file string) (string, error)
	RunSilent(name string, args ...string) error
	RunPiped(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error
}

type osExecutor struct{}

func (osExecutor) LookPath(file string) (string, error) { return exec.LookPath(file) }

func (osExecutor) RunSilent(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

func (osExecutor) RunPiped(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// cli is a Runtime driven through a docker-compatible command line.
type cli struct {
	bin        string
	imageCheck []string
	exec       executor
}

func (c *cli) Name() string { return c.bin }

func (c *cli) Available() bool {
	if _, err := c.exec.LookPath(c.bin); err != nil {
		return false
	}
	return c.exec.RunSilent(c.bin, "info") == nil
}

func (c *cli) ImageExists(image string) error {
	args := append(append([]string{}, c.imageCheck...), image)
	if err := c.exec.RunSilent(c.bin, args...); err != nil {
		return fmt.Errorf("image %s not found in %s: %w", image, c.bin, err)
	}
	return nil
}

func (c *cli) Run(ctx context.Context, image string, stdin io.Reader, stdout io.Writer) error {
	var stderr bytes.Buffer
	err := c.exec.RunPiped(ctx, c.bin, runArgs(image), stdin, stdout, &stderr)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("running %s in %s: %w", image, c.bin, ctx.Err())
	}
	if msg := tail(stderr.String()); msg != "" {
		return fmt.Errorf("running %s in %s: %w: %s", image, c.bin, err, msg)
	}
	return fmt.Errorf("running %s in %s: %w", image, c.bin, err)
}

// runArgs isolates a conversion container from the network and the host.
func runArgs(image string) []string {
	return []string{"run", "--rm", "-i", "--network", "none", "--read-only", image}
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrLimit {
		s = s[len(s)-stderrLimit:]
	}
	return s
}

func newDocker(e executor) *cli {
	return &cli{bin: Docker, imageCheck: []string{"image", "inspect"}, exec: e}
}

func newPodman(e executor) *cli {
	return &cli{bin: Podman, imageCheck: []string{"image", "exists"}, exec: e}
}

var defaultExec executor = osExecutor{}

// Select returns the named runtime when it is available. An empty name or
// "auto" picks docker, then podman.
func Select(name string) (Runtime, error) {
	return selectRuntime(defaultExec, name)
}

func selectRuntime(e executor, name string) (Runtime, error) {
	var candidates []*cli
	switch name {
	case "", Auto:
		candidates = []*cli{newDocker(e), newPodman(e)}
	case Docker:
		candidates = []*cli{newDocker(e)}
	case Podman:
		candidates = []*cli{newPodman(e)}
	default:
		return nil, fmt.Errorf("unknown container runtime %q: use auto, docker, or podman", name)
	}

	for _, c := range candidates {
		if c.Available() {
			return c, nil
		}
	}
	if len(candidates) == 1 {
		return nil, fmt.Errorf("container runtime %s is not installed or not running", name)
	}
	return nil, fmt.Errorf("no container runtime available: neither %s nor %s found or operational", Docker, Podman)
}
