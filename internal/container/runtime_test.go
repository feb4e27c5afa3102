// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package container

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeFunc func(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error

// mockExecutor answers LookPath and RunSilent from tables and delegates
// RunPiped to pipe.
type mockExecutor struct {
	bins map[string]bool
	cmds map[string]bool
	pipe pipeFunc
}

func (m *mockExecutor) LookPath(file string) (string, error) {
	if m.bins[file] {
		return "/usr/bin/" + file, nil
	}
	return "", errors.New("not found: " + file)
}

func (m *mockExecutor) RunSilent(name string, args ...string) error {
	key := name + " " + strings.Join(args, " ")
	if m.cmds[key] {
		return nil
	}
	return errors.New("command failed: " + key)
}

func (m *mockExecutor) RunPiped(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if m.pipe != nil {
		return m.pipe(ctx, name, args, stdin, stdout, stderr)
	}
	return nil
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name       string
		preference string
		bins       map[string]bool
		cmds       map[string]bool
		wantName   string
		wantErr    string
	}{
		{"docker available", "", map[string]bool{"docker": true}, map[string]bool{"docker info": true}, "docker", ""},
		{"podman when docker missing", Auto, map[string]bool{"podman": true}, map[string]bool{"podman info": true}, "podman", ""},
		{"docker daemon down", "", map[string]bool{"docker": true, "podman": true}, map[string]bool{"podman info": true}, "podman", ""},
		{"docker preferred", Auto, map[string]bool{"docker": true, "podman": true}, map[string]bool{"docker info": true, "podman info": true}, "docker", ""},
		{"podman requested", Podman, map[string]bool{"docker": true, "podman": true}, map[string]bool{"docker info": true, "podman info": true}, "podman", ""},
		{"requested runtime down", Docker, map[string]bool{"docker": true, "podman": true}, map[string]bool{"podman info": true}, "", "docker is not installed"},
		{"neither", "", nil, nil, "", "no container runtime available"},
		{"unknown", "containerd", nil, nil, "", "unknown container runtime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := selectRuntime(&mockExecutor{bins: tt.bins, cmds: tt.cmds}, tt.preference)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, rt.Name())
		})
	}
}

func TestImageExists(t *testing.T) {
	const image = "markitdown:latest"
	docker := newDocker(&mockExecutor{cmds: map[string]bool{"docker image inspect " + image: true}})
	assert.NoError(t, docker.ImageExists(image))

	podman := newPodman(&mockExecutor{cmds: map[string]bool{"podman image exists " + image: true}})
	assert.NoError(t, podman.ImageExists(image))

	err := newPodman(&mockExecutor{}).ImageExists(image)
	require.Error(t, err)
	assert.Contains(t, err.Error(), image)
}

func TestRun_PipesDocument(t *testing.T) {
	var gotArgs []string
	rt := newDocker(&mockExecutor{pipe: func(_ context.Context, name string, args []string, stdin io.Reader, stdout, _ io.Writer) error {
		gotArgs = append([]string{name}, args...)
		data, _ := io.ReadAll(stdin)
		_, _ = stdout.Write([]byte("# " + string(data)))
		return nil
	}})

	var out bytes.Buffer
	require.NoError(t, rt.Run(context.Background(), "markitdown:latest", strings.NewReader("Grading Handbook"), &out))
	assert.Equal(t, "# Grading Handbook", out.String())
	assert.Equal(t, []string{"docker", "run", "--rm", "-i", "--network", "none", "--read-only", "markitdown:latest"}, gotArgs)
}

func TestRun_ErrorIncludesStderr(t *testing.T) {
	rt := newPodman(&mockExecutor{pipe: func(_ context.Context, _ string, _ []string, _ io.Reader, _, stderr io.Writer) error {
		_, _ = stderr.Write([]byte("UnsupportedFormatException: not a pdf\n"))
		return errors.New("exit status 1")
	}})
	err := rt.Run(context.Background(), "markitdown:latest", strings.NewReader(""), io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 1")
	assert.Contains(t, err.Error(), "UnsupportedFormatException")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rt := newDocker(&mockExecutor{pipe: func(ctx context.Context, _ string, _ []string, _ io.Reader, _, _ io.Writer) error {
		return errors.New("signal: killed")
	}})
	err := rt.Run(ctx, "markitdown:latest", strings.NewReader(""), io.Discard)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_StderrTail(t *testing.T) {
	long := strings.Repeat("x", 2000) + "Traceback end"
	rt := newDocker(&mockExecutor{pipe: func(_ context.Context, _ string, _ []string, _ io.Reader, _, stderr io.Writer) error {
		_, _ = stderr.Write([]byte(long))
		return errors.New("exit status 2")
	}})
	err := rt.Run(context.Background(), "markitdown:latest", strings.NewReader(""), io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Traceback end")
	assert.Less(t, len(err.Error()), 1200)
}
