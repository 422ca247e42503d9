// Package susanexec launches SUSAN executables as child processes, streaming
// their output into the bridge's logging facility. Every invocation blocks
// until the process exits; a non-zero exit code is surfaced as an ExitError
// and never retried.
package susanexec

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/emtools/susanbridge/internal/ctxlog"
	"github.com/emtools/susanbridge/internal/susan"
)

// Command describes a single external invocation.
type Command struct {
	Program string
	Args    []string
	Dir     string
	Env     []string
}

// Runner abstracts process execution so protocol handlers can be exercised
// without spawning anything.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExitError reports a SUSAN process that terminated with a non-zero code.
type ExitError struct {
	Program string
	Code    int
	Stderr  string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Program, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// stderrTail keeps the last lines of stderr for the error message.
const stderrTail = 20

// scanLimit bounds a single logged output line. Longer lines stop the
// scanner; the rest of the stream is then discarded so the child never
// blocks on a full pipe.
const scanLimit = 1024 * 1024

// Local runs commands on the local machine via os/exec.
type Local struct{}

// NewLocal creates a Runner backed by the local machine.
func NewLocal() *Local {
	return &Local{}
}

// Run starts the process and blocks until it finishes. Stdout lines are
// logged at info level, stderr at warn. Context cancellation kills the
// child; resource selection (GPUs, MPI) is the caller's configuration and
// is never managed here.
func (l *Local) Run(ctx context.Context, cmd Command) error {
	runID := uuid.New().String()[:8]
	logger := ctxlog.FromContext(ctx).With(
		"program", filepath.Base(cmd.Program),
		"run_id", runID,
	)

	binPath := cmd.Program
	if !filepath.IsAbs(binPath) {
		resolved, err := exec.LookPath(binPath)
		if err != nil {
			return susan.NewConfigError("program", "executable %q not found in PATH", binPath)
		}
		binPath = resolved
	}

	proc := exec.CommandContext(ctx, binPath, cmd.Args...)
	proc.Dir = cmd.Dir
	proc.Env = cmd.Env
	if proc.Env == nil {
		proc.Env = os.Environ()
	}

	stdout, err := proc.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	logger.Info("▶️ Launching external process", "args", strings.Join(cmd.Args, " "), "dir", cmd.Dir)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", cmd.Program, err)
	}

	var tail []string
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), scanLimit)
		for scanner.Scan() {
			logger.Info(scanner.Text())
		}
		drain(logger, stdout, scanner.Err())
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), scanLimit)
		for scanner.Scan() {
			line := scanner.Text()
			logger.Warn(line)
			mu.Lock()
			tail = append(tail, line)
			if len(tail) > stderrTail {
				tail = tail[1:]
			}
			mu.Unlock()
		}
		drain(logger, stderr, scanner.Err())
	}()

	wg.Wait()
	err = proc.Wait()

	if ctx.Err() != nil {
		logger.Warn("External process cancelled")
		return ctx.Err()
	}
	if err != nil {
		code := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		logger.Error("External process failed", "exit_code", code)
		return &ExitError{
			Program: filepath.Base(cmd.Program),
			Code:    code,
			Stderr:  strings.Join(tail, "\n"),
		}
	}

	logger.Info("✅ External process finished")
	return nil
}

// drain empties the rest of a pipe after a scanner error so Wait can
// complete even when the child keeps writing.
func drain(logger *slog.Logger, r io.Reader, err error) {
	if err == nil {
		return
	}
	logger.Warn("Output stream truncated", "error", err)
	io.Copy(io.Discard, r)
}
