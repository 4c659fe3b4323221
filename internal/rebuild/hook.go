// SPDX-License-Identifier: MPL-2.0

package rebuild

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/tzsync/tzsync/internal/tzdata"
)

const (
	// EnvVersion carries the active version.
	EnvVersion = "TZSYNC_VERSION"
	// EnvSnapshotDir carries the active snapshot directory.
	EnvSnapshotDir = "TZSYNC_SNAPSHOT_DIR"
	// EnvDataDir carries the data directory.
	EnvDataDir = "TZSYNC_DATA_DIR"

	// DefaultWorkDir is the working directory under the data directory used
	// when none is configured.
	DefaultWorkDir = "build"
)

var (
	// ErrInvalidCommand is returned when the command does not parse.
	ErrInvalidCommand = errors.New("invalid rebuild command")
	// ErrNoSnapshot is returned when Rebuild runs with nothing installed.
	ErrNoSnapshot = errors.New("no active tzdata snapshot")
)

type (
	// ExitError reports a non-zero exit status of the rebuild command.
	ExitError struct {
		Code int
	}

	// ShellHook runs a shell command against the active snapshot.
	ShellHook struct {
		prog     *syntax.File
		registry *tzdata.Registry
		dir      string
		environ  func() []string
		stdout   io.Writer
		stderr   io.Writer
		logger   *log.Logger
	}

	// Option configures a ShellHook during construction.
	Option func(*ShellHook)

	// Nop is the Rebuilder used when no command is configured.
	Nop struct{}
)

// Error implements the error interface.
func (e *ExitError) Error() string {
	return fmt.Sprintf("rebuild command exited with status %d", e.Code)
}

// WithDir sets the working directory; the default is DefaultWorkDir under
// the registry's data directory.
func WithDir(dir string) Option {
	return func(h *ShellHook) {
		if dir != "" {
			h.dir = dir
		}
	}
}

// WithOutput sends the command's stdout and stderr to the given writers
// instead of the logger.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(h *ShellHook) {
		h.stdout, h.stderr = stdout, stderr
	}
}

// WithEnviron sets the base environment source (default os.Environ).
func WithEnviron(environ func() []string) Option {
	return func(h *ShellHook) {
		h.environ = environ
	}
}

// WithLogger sets the logger for progress lines and, unless WithOutput is
// used, the command's output.
func WithLogger(l *log.Logger) Option {
	return func(h *ShellHook) {
		h.logger = l
	}
}

// New returns a ShellHook for command, or Nop when command is blank.
func New(command string, registry *tzdata.Registry, opts ...Option) (tzdata.Rebuilder, error) {
	if strings.TrimSpace(command) == "" {
		return Nop{}, nil
	}
	return NewShellHook(command, registry, opts...)
}

// NewShellHook parses command eagerly so configuration errors surface at
// startup rather than after an update.
func NewShellHook(command string, registry *tzdata.Registry, opts ...Option) (*ShellHook, error) {
	prog, err := syntax.NewParser().Parse(strings.NewReader(command), "rebuild")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	h := &ShellHook{
		prog:     prog,
		registry: registry,
		dir:      filepath.Join(registry.Dir(), DefaultWorkDir),
		environ:  os.Environ,
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Rebuild runs the command with the active version in its environment,
// creating the working directory first. A non-zero exit status is returned
// as *ExitError.
func (h *ShellHook) Rebuild(ctx context.Context) error {
	version, err := h.registry.Current()
	if err != nil {
		return fmt.Errorf("resolve active snapshot: %w", err)
	}
	if version == "" {
		return ErrNoSnapshot
	}

	env := append(h.environ(),
		EnvVersion+"="+version,
		EnvSnapshotDir+"="+h.registry.SnapshotPath(version),
		EnvDataDir+"="+h.registry.Dir(),
	)

	stdout, stderr := h.stdout, h.stderr
	var captured bytes.Buffer
	if stdout == nil {
		stdout = &captured
	}
	if stderr == nil {
		stderr = &captured
	}

	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return fmt.Errorf("create rebuild directory: %w", err)
	}

	runner, err := interp.New(
		interp.Dir(h.dir),
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, stdout, stderr),
	)
	if err != nil {
		return fmt.Errorf("failed to create interpreter: %w", err)
	}

	h.logger.Info("running rebuild command", "version", version, "dir", h.dir)
	runErr := runner.Run(ctx, h.prog)
	h.logOutput(&captured)

	if runErr != nil {
		var exitStatus interp.ExitStatus
		if errors.As(runErr, &exitStatus) {
			return &ExitError{Code: int(exitStatus)}
		}
		return fmt.Errorf("rebuild command failed: %w", runErr)
	}
	h.logger.Info("rebuild command finished", "version", version)
	return nil
}

func (h *ShellHook) logOutput(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			h.logger.Debug(line)
		}
	}
}

// Rebuild does nothing.
func (Nop) Rebuild(context.Context) error { return nil }
