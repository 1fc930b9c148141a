//go:build integration

package tier1

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/schaermu/idxbackup/internal/testutil"
)

const defaultTimeout = 5 * time.Minute

// Harness builds the idxbackup binary and runs it against a scratch
// directory holding the source, index and target trees.
type Harness struct {
	t       *testing.T
	binary  string
	workDir string
}

// NewHarness creates a new test harness
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	workDir := t.TempDir()
	return &Harness{
		t:       t,
		binary:  filepath.Join(workDir, "bin", "idxbackup"),
		workDir: workDir,
	}
}

// BuildBinary compiles cmd/idxbackup into the work directory
func (h *Harness) BuildBinary(ctx context.Context) error {
	h.t.Helper()

	// Get absolute path to project root by finding go.mod
	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}
	h.t.Logf("Building %s from %s", h.binary, projectRoot)

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/idxbackup")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// Path returns the absolute path of rel inside the work directory
func (h *Harness) Path(rel string) string {
	return filepath.Join(h.workDir, filepath.FromSlash(rel))
}

// Run executes the binary with stdin as its input
func (h *Harness) Run(ctx context.Context, stdin string, args ...string) (string, string, int, error) {
	h.t.Helper()

	cmd := exec.CommandContext(ctx, h.binary, append([]string{"--log-level", "warn"}, args...)...)
	cmd.Dir = h.workDir
	cmd.Env = append(os.Environ(), "HOME="+h.workDir)
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes the binary and fails the test if it returns non-zero
func (h *Harness) MustRun(ctx context.Context, stdin string, args ...string) (string, string) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, stdin, args...)
	require.NoError(h.t, err, "exec failed")
	require.Zero(h.t, exitCode, "command failed\nstdout: %s\nstderr: %s\nargs: %v", stdout, stderr, args)
	return stdout, stderr
}

// WriteFile writes a file below the work directory
func (h *Harness) WriteFile(rel, content string) {
	h.t.Helper()
	testutil.WriteFile(h.t, h.Path(rel), content)
}

// ReadFile reads a file below the work directory
func (h *Harness) ReadFile(rel string) (string, error) {
	data, err := os.ReadFile(h.Path(rel))
	return string(data), err
}

// FileExists checks whether rel exists, without following symlinks
func (h *Harness) FileExists(rel string) bool {
	_, err := os.Lstat(h.Path(rel))
	return err == nil
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
