// Package execrunner runs external helper programs and captures their output.
//
// Storage backends depend on the Runner interface rather than os/exec so the
// helper protocol can be tested without spawning processes.
package execrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/mitchellh/go-homedir"
)

// DefaultTimeout bounds a single helper invocation.
const DefaultTimeout = 10 * time.Second

// Runner runs one helper invocation with the given extra arguments and
// returns its standard output. stdin may be nil.
type Runner interface {
	Run(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error)

func (f RunnerFunc) Run(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error) {
	return f(ctx, stdin, args...)
}

// ExitError reports a helper that ran but exited with a non-zero code.
type ExitError struct {
	Path   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with code %d, but it produced no error message", e.Path, e.Code)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Path, e.Code, e.Stderr)
}

// CommandRunner runs a fixed command line plus per-call arguments.
type CommandRunner struct {
	path    string
	args    []string
	timeout time.Duration
}

// Compile-time check to ensure CommandRunner implements Runner
var _ Runner = (*CommandRunner)(nil)

// New parses commandLine with shell quoting rules. The executable may start
// with "~". A zero timeout selects DefaultTimeout.
func New(commandLine string, timeout time.Duration) (*CommandRunner, error) {
	words, err := shellwords.Parse(commandLine)
	if err != nil {
		return nil, fmt.Errorf("parsing helper command %q: %w", commandLine, err)
	}
	if len(words) == 0 {
		return nil, errors.New("helper command cannot be empty")
	}

	path, err := homedir.Expand(words[0])
	if err != nil {
		return nil, fmt.Errorf("expanding helper path: %w", err)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &CommandRunner{
		path:    path,
		args:    words[1:],
		timeout: timeout,
	}, nil
}

// Path returns the helper executable.
func (r *CommandRunner) Path() string {
	return r.path
}

// Run executes the helper and waits at most the configured timeout. Output
// of a failed invocation is discarded.
func (r *CommandRunner) Run(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	fullArgs := make([]string, 0, len(r.args)+len(args))
	fullArgs = append(fullArgs, r.args...)
	fullArgs = append(fullArgs, args...)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.path, fullArgs...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// don't wait on grandchildren holding the pipes open after a kill
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("running %s: %w", r.path, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, &ExitError{
			Path:   r.path,
			Code:   exitErr.ExitCode(),
			Stderr: strings.TrimSpace(stderr.String()),
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", r.path, err)
	}

	return stdout.Bytes(), nil
}
