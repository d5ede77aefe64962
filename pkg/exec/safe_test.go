package exec

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestSafeExecutorBlocklist(t *testing.T) {
	exec := &SafeExecutor{Blocklist: []string{"rm"}}
	for _, cmd := range []string{"rm -rf /tmp/x", "/bin/rm", "RM"} {
		_, err := exec.Run(cmd, nil)
		if !errors.Is(err, ErrBlocked) {
			t.Fatalf("%q: expected blocked error, got %v", cmd, err)
		}
	}
	if exec.isBlocked("rmdir x") {
		t.Fatalf("rmdir should not match rm")
	}
}

func TestSafeExecutorTimeout(t *testing.T) {
	exec := &SafeExecutor{Timeout: 50 * time.Millisecond}
	cmd := "sleep 1"
	if runtime.GOOS == "windows" {
		cmd = "Start-Sleep -Seconds 1"
	}
	start := time.Now()
	_, err := exec.Run(cmd, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout did not trigger quickly")
	}
}

func TestSafeExecutorContextCancel(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh sleep")
	}
	exec := &SafeExecutor{}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	_, err := exec.RunContext(ctx, "sleep", []string{"2"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestSafeExecutorOutputTruncation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("output truncation test uses sh printf")
	}
	exec := &SafeExecutor{MaxOutput: 10}
	res, err := exec.Run("printf '123456789012345'", nil)
	var truncated OutputTruncatedError
	if !errors.As(err, &truncated) {
		t.Fatalf("expected OutputTruncatedError, got %T", err)
	}
	if truncated.Limit != 10 {
		t.Fatalf("limit = %d", truncated.Limit)
	}
	if len(res.Stdout) != 10 {
		t.Fatalf("expected truncated stdout length 10, got %d", len(res.Stdout))
	}
}

func TestSafeExecutorExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh exit")
	}
	exec := &SafeExecutor{Timeout: 2 * time.Second}
	res, err := exec.Run("exit 3", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != 3 {
		t.Fatalf("code = %d", res.Code)
	}
}

func TestSafeExecutorSuccess(t *testing.T) {
	exec := &SafeExecutor{Timeout: 2 * time.Second}
	res, err := exec.Run("echo hello", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Stdout, "hello") {
		t.Fatalf("unexpected stdout: %q", res.Stdout)
	}
}
