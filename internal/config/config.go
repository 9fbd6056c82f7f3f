// Package config loads ntagctl's YAML configuration file, layering
// cobra flag overrides on top of it the way the rest of the toolkit's
// per-tool config packages do.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of ntagctl.yaml.
type Config struct {
	Reader   ReaderConfig   `yaml:"reader"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	SDM      SDMConfig      `yaml:"sdm"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
}

type ReaderConfig struct {
	Index  *int `yaml:"index"`
	Escape bool `yaml:"escape"`
}

type LedgerConfig struct {
	Path string `yaml:"path"`
}

type SDMConfig struct {
	BaseURL        string `yaml:"base_url"`
	UIDPlaceholder string `yaml:"uid_placeholder"`
	CtrPlaceholder string `yaml:"ctr_placeholder"`
	MACPlaceholder string `yaml:"mac_placeholder"`
}

type RuntimeConfig struct {
	LogFormat string `yaml:"log_format"` // "text" or "json"
	Verbose   bool   `yaml:"verbose"`
}

// Load reads and validates a YAML config file, resolving a relative
// ledger path against the config file's own directory.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with the toolkit's baseline defaults, used
// when no --config flag is given.
func Default() *Config {
	return &Config{
		Reader:  ReaderConfig{Index: nil, Escape: false},
		Ledger:  LedgerConfig{Path: "ledger.csv"},
		Runtime: RuntimeConfig{LogFormat: "text"},
	}
}

func (c *Config) Validate() error {
	if c.Runtime.LogFormat != "" && c.Runtime.LogFormat != "text" && c.Runtime.LogFormat != "json" {
		return fmt.Errorf("config.runtime.log_format must be \"text\" or \"json\"")
	}
	if c.SDM.BaseURL != "" {
		parsed, err := url.Parse(c.SDM.BaseURL)
		if err != nil {
			return fmt.Errorf("config.sdm.base_url is invalid: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("config.sdm.base_url must be absolute (include scheme and host)")
		}
	}
	return nil
}

func (c *Config) resolvePaths(configPath string) {
	dir := filepath.Dir(configPath)
	c.Ledger.Path = resolvePath(dir, c.Ledger.Path)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}
