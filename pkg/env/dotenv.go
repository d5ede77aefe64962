// Package env applies settings from .env files to the process environment.
package env

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Prefix limits which variables a .env file may set for fence.
const Prefix = "FENCE_"

// LoadFromDir applies the .env file in dir, if any.
func LoadFromDir(dir string) ([]string, error) {
	return Load(filepath.Join(dir, ".env"), Prefix)
}

// Load sets every variable from path whose name starts with prefix and is
// not already set. A missing file is not an error. It returns the names it
// set.
func Load(path, prefix string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var applied []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, val, ok := parseLine(scanner.Text())
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return applied, err
		}
		applied = append(applied, key)
	}
	return applied, scanner.Err()
}

func parseLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	return key, strings.Trim(strings.TrimSpace(val), `"'`), true
}
