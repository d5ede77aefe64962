// Package exec runs host commands on behalf of evaluated programs with a
// timeout, an output cap and a blocklist.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// ErrBlocked is returned for commands on the blocklist.
var ErrBlocked = errors.New("command blocked")

type Result struct {
	Stdout string
	Stderr string
	Code   int
}

// OutputTruncatedError is returned alongside a partial Result when a stream
// exceeded MaxOutput.
type OutputTruncatedError struct {
	Limit int
}

func (e OutputTruncatedError) Error() string {
	return fmt.Sprintf("output truncated at %d bytes", e.Limit)
}

type SafeExecutor struct {
	Timeout   time.Duration
	MaxOutput int
	Blocklist []string
}

// Run executes cmd without a caller context. See RunContext.
func (e *SafeExecutor) Run(cmd string, args []string) (*Result, error) {
	return e.RunContext(context.Background(), cmd, args)
}

// RunContext executes cmd with args. With no args cmd is handed to the
// platform shell. The process is killed when ctx is done or Timeout elapses.
func (e *SafeExecutor) RunContext(ctx context.Context, cmd string, args []string) (*Result, error) {
	if cmd == "" {
		return nil, errors.New("command is required")
	}
	if e.isBlocked(cmd) {
		return nil, fmt.Errorf("%w: %s", ErrBlocked, cmd)
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	var command *exec.Cmd
	if len(args) == 0 {
		shell := ShellCommand(cmd)
		command = exec.CommandContext(ctx, shell.Path, shell.Args[1:]...)
	} else {
		command = exec.CommandContext(ctx, cmd, args...)
	}

	stdoutBuf := &limitedBuffer{limit: e.MaxOutput}
	stderrBuf := &limitedBuffer{limit: e.MaxOutput}
	command.Stdout = stdoutBuf
	command.Stderr = stderrBuf

	err := command.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("run %s: %w", cmd, ctxErr)
	}
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}
		exitCode = exitErr.ExitCode()
	}

	res := &Result{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String(), Code: exitCode}
	if stdoutBuf.truncated || stderrBuf.truncated {
		return res, OutputTruncatedError{Limit: e.MaxOutput}
	}
	return res, nil
}

func ShellCommand(command string) *exec.Cmd {
	switch runtime.GOOS {
	case "windows":
		return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", command)
	default:
		return exec.Command("sh", "-c", command)
	}
}

// isBlocked matches the program name of cmd, with or without its directory.
func (e *SafeExecutor) isBlocked(cmd string) bool {
	if len(e.Blocklist) == 0 {
		return false
	}
	program := cmd
	if fields := strings.Fields(cmd); len(fields) > 0 {
		program = fields[0]
	}
	base := filepath.Base(program)
	for _, blocked := range e.Blocklist {
		if strings.EqualFold(blocked, program) || strings.EqualFold(blocked, base) {
			return true
		}
	}
	return false
}

type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if l.limit <= 0 {
		return l.buf.Write(p)
	}
	remaining := l.limit - l.buf.Len()
	if remaining <= 0 {
		l.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		l.truncated = true
		_, _ = l.buf.Write(p[:remaining])
		return len(p), nil
	}
	return l.buf.Write(p)
}

func (l *limitedBuffer) String() string {
	return l.buf.String()
}

var _ io.Writer = (*limitedBuffer)(nil)
