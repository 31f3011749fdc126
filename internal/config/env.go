package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// LoadEnvFile sets an environment variable for each "KEY=value" line in
// path. The bridge calls it with ".env" before Load so a container can
// keep its HDHR_BRIDGE_* settings in one file; a missing file is fine.
// Blank lines and #-comments are skipped, values may be single- or
// double-quoted.
func LoadEnvFile(path string) error {
	path = filepath.Clean(path)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		value = unquoteEnv(value)
		os.Setenv(key, value)
	}
	return sc.Err()
}

func unquoteEnv(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}
