package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	policy := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(policy, []byte("allowed_local: [add]\n"), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	data := "policy: " + policy + "\ntimeout: 250ms\noutput: discard\ncommandBlocklist: [rm]\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("FENCE_LOG_LEVEL", "debug")
	t.Setenv("FENCE_TIMEOUT", "1500")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PolicyPath != policy || cfg.Output != "discard" || cfg.Blocklist[0] != "rm" {
		t.Fatalf("file settings not applied: %+v", cfg)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	if cfg.Timeout != 1500*time.Millisecond {
		t.Fatalf("timeout = %s", cfg.Timeout)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Timeout != 5*time.Second || cfg.Output != "default" {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"output: somewhere\n":           "unknown output",
		"policy: /nonexistent/p.yaml\n": "does not exist",
		"timeout: -1s\n":                "must be positive",
	}
	for data, want := range cases {
		path := filepath.Join(dir, "config.yaml")
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("%q: error = %v, want %q", data, err, want)
		}
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("FENCE_CONFIG", "/tmp/fence.yaml")
	if got := DefaultConfigPath(); got != "/tmp/fence.yaml" {
		t.Fatalf("path = %q", got)
	}
}
