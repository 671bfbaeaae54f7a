// Package config loads the project-level .cowblock.hujson file that
// supplies defaults for block size and sidecar placement so invocations
// don't have to repeat them on every command line.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// FileName is the default config file name, looked up in the working
// directory.
const FileName = ".cowblock.hujson"

// Config holds the defaults read from .cowblock.hujson.
type Config struct {
	BlockSize      uint32 `json:"block_size,omitempty"` //nolint:tagliatelle // snake_case for config file
	DiffName       string `json:"diff_name,omitempty"`
	ExtraName      string `json:"extra_name,omitempty"`
	SyncEveryWrite bool   `json:"sync_every_write,omitempty"`
}

var errConfigFileNotFound = errors.New("config: file not found")

// Default returns the built-in defaults used when no config file exists.
func Default() Config {
	return Config{
		BlockSize: 4096,
		DiffName:  "cow-diff",
		ExtraName: "cow-extra",
	}
}

// Load reads the project config at workDir/.cowblock.hujson if it exists,
// merging it over [Default]. A missing file is not an error; an explicit
// configPath that doesn't exist is.
func Load(workDir, configPath string) (Config, error) {
	cfg := Default()

	path := configPath
	mustExist := configPath != ""

	if path == "" {
		path = filepath.Join(workDir, FileName)
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) {
			if mustExist {
				return Config{}, fmt.Errorf("%w: %s", errConfigFileNotFound, path)
			}

			return cfg, nil
		}

		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	fileCfg, err := parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return merge(cfg, fileCfg), nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.BlockSize != 0 {
		base.BlockSize = overlay.BlockSize
	}

	if overlay.DiffName != "" {
		base.DiffName = overlay.DiffName
	}

	if overlay.ExtraName != "" {
		base.ExtraName = overlay.ExtraName
	}

	if overlay.SyncEveryWrite {
		base.SyncEveryWrite = overlay.SyncEveryWrite
	}

	return base
}

// Format returns cfg as indented JSON suitable for writing as a fresh config
// file.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("config: formatting: %w", err)
	}

	return string(data) + "\n", nil
}
