package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const configPathEnv = "TAMIAS_CONFIG"

// EnvLookup resolves environment variables; os.LookupEnv by default.
type EnvLookup func(string) (string, bool)

// DefaultEnvLookup reads from the process environment.
var DefaultEnvLookup EnvLookup = os.LookupEnv

type loadOptions struct {
	configPath string
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	homeDir    func() (string, error)
}

// Option customizes Load.
type Option func(*loadOptions)

// WithConfigPath loads from an explicit path.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

// WithEnv overrides environment lookup (tests).
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		if lookup != nil {
			o.envLookup = lookup
		}
	}
}

// ResolveConfigPath returns $TAMIAS_CONFIG or ~/.tamias/config.yaml.
func ResolveConfigPath(lookup EnvLookup, homeDir func() (string, error)) string {
	if lookup == nil {
		lookup = DefaultEnvLookup
	}
	if value, ok := lookup(configPathEnv); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	if homeDir == nil {
		homeDir = os.UserHomeDir
	}
	home, err := homeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".tamias", "config.yaml")
}

// Load reads, interpolates and defaults the configuration. A missing file
// yields the default configuration.
func Load(opts ...Option) (*Config, string, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}

	path := strings.TrimSpace(options.configPath)
	if path == "" {
		path = ResolveConfigPath(options.envLookup, options.homeDir)
	}

	cfg := &Config{}
	if path != "" {
		data, err := options.readFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, path, fmt.Errorf("read config file: %w", err)
		case len(bytes.TrimSpace(data)) > 0:
			if err := Parse(data, cfg, options.envLookup); err != nil {
				return nil, path, err
			}
		}
	}

	ApplyDefaults(cfg)
	if _, err := Validate(cfg); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Parse decodes YAML into cfg after expanding ${VAR} references.
func Parse(data []byte, cfg *Config, lookup EnvLookup) error {
	if lookup == nil {
		lookup = DefaultEnvLookup
	}
	expanded := expandEnv(string(data), lookup)
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// expandEnv replaces ${VAR} occurrences; bare $VAR is left untouched so
// values such as API keys containing '$' survive.
func expandEnv(value string, lookup EnvLookup) string {
	if !strings.Contains(value, "${") {
		return value
	}
	var out strings.Builder
	for {
		start := strings.Index(value, "${")
		if start < 0 {
			out.WriteString(value)
			break
		}
		end := strings.Index(value[start:], "}")
		if end < 0 {
			out.WriteString(value)
			break
		}
		out.WriteString(value[:start])
		name := value[start+2 : start+end]
		if resolved, ok := lookup(name); ok {
			out.WriteString(resolved)
		}
		value = value[start+end+1:]
	}
	return out.String()
}
