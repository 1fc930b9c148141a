package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the complete idxbackup configuration
type Config struct {
	Paths    PathsConfig `yaml:"paths"`
	Settings Settings    `yaml:"settings"`
}

// PathsConfig configures the trees taking part in a backup
type PathsConfig struct {
	Source string `yaml:"source"`
	Index  string `yaml:"index"`
	// Target is optional; without it only the index is updated.
	Target     string `yaml:"target"`
	IgnoreFile string `yaml:"ignore_file"`
}

// Load reads and parses the configuration file, applies overrides in order
// and validates the result. An empty path starts from an empty configuration.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		var err error
		if cfg, err = read(path); err != nil {
			return nil, err
		}
	}

	for _, override := range overrides {
		override(cfg)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func read(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Paths.Source = os.ExpandEnv(c.Paths.Source)
	c.Paths.Index = os.ExpandEnv(c.Paths.Index)
	c.Paths.Target = os.ExpandEnv(c.Paths.Target)
	c.Paths.IgnoreFile = os.ExpandEnv(c.Paths.IgnoreFile)
}

// applyDefaults normalizes the configured paths.
func (c *Config) applyDefaults() {
	for _, p := range []*string{&c.Paths.Source, &c.Paths.Index, &c.Paths.Target, &c.Paths.IgnoreFile} {
		if *p != "" {
			*p = filepath.Clean(*p)
		}
	}
}

// Resolve makes every configured path absolute, interpreting relative paths
// against cwd.
func (c *Config) Resolve(cwd string) {
	for _, p := range []*string{&c.Paths.Source, &c.Paths.Index, &c.Paths.Target, &c.Paths.IgnoreFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(cwd, *p)
		}
	}
	c.applyDefaults()
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate paths
	if c.Paths.Source == "" {
		return fmt.Errorf("paths.source is required")
	}
	if c.Paths.Index == "" {
		return fmt.Errorf("paths.index is required")
	}

	// Ensure paths are absolute
	if !filepath.IsAbs(c.Paths.Source) {
		return fmt.Errorf("paths.source must be an absolute path: %s", c.Paths.Source)
	}
	if !filepath.IsAbs(c.Paths.Index) {
		return fmt.Errorf("paths.index must be an absolute path: %s", c.Paths.Index)
	}
	if c.Paths.Target != "" && !filepath.IsAbs(c.Paths.Target) {
		return fmt.Errorf("paths.target must be an absolute path: %s", c.Paths.Target)
	}

	// The trees must be distinct
	if c.Paths.Index == c.Paths.Source {
		return fmt.Errorf("paths.index must differ from paths.source")
	}
	if c.Paths.Target != "" {
		if c.Paths.Target == c.Paths.Source {
			return fmt.Errorf("paths.target must differ from paths.source")
		}
		if c.Paths.Target == c.Paths.Index {
			return fmt.Errorf("paths.target must differ from paths.index")
		}
	}

	return nil
}

// HasTarget reports whether a backup target is configured
func (c *Config) HasTarget() bool {
	return c.Paths.Target != ""
}
