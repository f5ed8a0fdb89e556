// Package config loads workspace settings from the control directory.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"drift/internal/errors"
)

type Config struct {
	// Author stamps commits when -author is not given.
	Author string `json:"author"`

	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string `json:"log_level"`

	Store struct {
		// CacheSize is the number of blobs kept in memory.
		CacheSize int `json:"cache_size"`
		// MinCompress is the blob size in bytes below which compression
		// is skipped.
		MinCompress int `json:"min_compress"`
	} `json:"store"`

	Watch struct {
		// DebounceMs is how long the workspace must stay quiet before an
		// auto-commit fires.
		DebounceMs int `json:"debounce_ms"`
	} `json:"watch"`
}

func Default() *Config {
	c := &Config{Author: "unknown", LogLevel: "warn"}
	c.Store.CacheSize = 512
	c.Store.MinCompress = 1024
	c.Watch.DebounceMs = 500
	return c
}

const fileName = "config.json"

// Load reads metaDir/config.json, falling back to defaults for a missing
// file and for any field left unset.
func Load(metaDir string) (*Config, error) {
	c := Default()

	file, err := os.Open(filepath.Join(metaDir, fileName))
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, errors.BackingStore("opening config", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(c); err != nil {
		return nil, errors.BackingStore("parsing config", err)
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.Store.CacheSize == 0 {
		c.Store.CacheSize = 512
	}
	if c.Store.MinCompress == 0 {
		c.Store.MinCompress = 1024
	}
	if c.Watch.DebounceMs == 0 {
		c.Watch.DebounceMs = 500
	}
	return c, nil
}

// Save writes the config back to the control directory.
func (c *Config) Save(metaDir string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.BackingStore("encoding config", err)
	}
	if err := os.WriteFile(filepath.Join(metaDir, fileName), data, 0644); err != nil {
		return errors.BackingStore("writing config", err)
	}
	return nil
}
