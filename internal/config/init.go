package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// WriteDefault atomically writes the built-in default config to
// workDir/.cowblock.hujson, failing if the file already exists.
func WriteDefault(workDir string) (string, error) {
	path := filepath.Join(workDir, FileName)

	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config: %s already exists", path)
	}

	body, err := Format(Default())
	if err != nil {
		return "", err
	}

	if err := atomic.WriteFile(path, strings.NewReader(body)); err != nil {
		return "", fmt.Errorf("config: writing %s: %w", path, err)
	}

	return path, nil
}
