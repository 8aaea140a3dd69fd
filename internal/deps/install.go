// Package deps installs the tracer's runtime dependency when the tracer
// reports it missing.
package deps

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Package is the Python module the tracer imports.
const Package = "hunter"

// Runner executes a command and returns its combined output.
// This abstraction allows mocking in tests.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

// defaultRunner runs the command as a real subprocess.
func defaultRunner(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// Installer runs the dependency installation.
type Installer struct {
	Python  string   // interpreter used for pip; defaults to python3
	Command []string // full command override, e.g. ["uv", "pip", "install", "hunter"]
	Runner  Runner   // if nil, uses a real subprocess
	Timeout time.Duration
}

// Args returns the install command line.
func (in *Installer) Args() (string, []string) {
	if len(in.Command) > 0 {
		return in.Command[0], in.Command[1:]
	}
	python := in.Python
	if python == "" {
		python = "python3"
	}
	return python, []string{"-m", "pip", "install", "--user", Package}
}

// Install runs the install command and records success in the marker file.
func (in *Installer) Install(ctx context.Context) error {
	runner := in.Runner
	if runner == nil {
		runner = defaultRunner
	}
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args := in.Args()
	out, err := runner(ctx, name, args...)
	if err != nil {
		out = strings.TrimSpace(out)
		if out != "" {
			return fmt.Errorf("installing %s: %w: %s", Package, err, lastLine(out))
		}
		return fmt.Errorf("installing %s: %w", Package, err)
	}
	_ = writeMarker() // best-effort; the install itself succeeded
	return nil
}

// MarkerPath returns the file whose presence records a successful install.
func MarkerPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "wolf", "."+Package+"-installed"), nil
}

// IsInstalled reports whether a previous Install succeeded.
func IsInstalled() bool {
	path, err := MarkerPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func writeMarker() error {
	path, err := MarkerPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)+"\n"), 0o644)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
