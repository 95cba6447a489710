// Package config implements the Config Store (C1) and Keys Store (C2):
// file-backed, human-readable YAML documents, loaded at process start and
// saved explicitly on mutation. ${VAR} environment expansion is applied
// to the config document on load; the keys document is read as written.
package config

import (
	"fmt"
	"os"
	"regexp"
	"sync"

	"go.yaml.in/yaml/v3"

	core "github.com/go-lcgw/lcgw/internal"
)

// Config is the main provider/alias/template configuration document.
type Config struct {
	path      string
	mu        sync.RWMutex
	Providers []core.Provider `yaml:"providers"`
	Aliases   []core.Alias    `yaml:"aliases"`
	Templates map[string]string `yaml:"templates"` // name -> prompt body, for "t:<name>" expansion
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values,
// leaving unmatched names untouched.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(name); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses the config file at path. Defaults are set
// before unmarshalling so YAML only overrides what it specifies; a
// missing file yields an empty, ready-to-use Config bound to path (so a
// subsequent Save creates it).
func Load(path string) (*Config, error) {
	cfg := &Config{
		path:      path,
		Templates: map[string]string{},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, &core.ConfigError{Op: "load", Err: err}
	}
	data = expandEnv(data)

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &core.ConfigError{Op: "parse", Err: err}
	}
	if cfg.Templates == nil {
		cfg.Templates = map[string]string{}
	}
	return cfg, nil
}

// Save atomically rewrites the config file (write-temp-then-rename).
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return atomicWriteYAML(c.path, c)
}

func atomicWriteYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return &core.ConfigError{Op: "marshal", Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &core.ConfigError{Op: "write", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &core.ConfigError{Op: "rename", Err: err}
	}
	return nil
}

// GetProvider returns the named provider, or a ConfigError if absent.
func (c *Config) GetProvider(name string) (*core.Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			p := c.Providers[i]
			return &p, nil
		}
	}
	return nil, &core.ConfigError{Op: "get_provider", Err: fmt.Errorf("provider %q not found", name)}
}

// PutProvider inserts or replaces a provider definition.
func (c *Config) PutProvider(p core.Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Providers {
		if c.Providers[i].Name == p.Name {
			c.Providers[i] = p
			return
		}
	}
	c.Providers = append(c.Providers, p)
}

// AddAlias registers an alias. The target provider is not validated
// here; ResolveAlias reports the error at lookup time, per spec's
// "unknown alias target format" ConfigError.
func (c *Config) AddAlias(a core.Alias) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Aliases = append(c.Aliases, a)
}

// ResolveAlias returns the (provider, model) an alias name targets.
func (c *Config) ResolveAlias(name string) (provider, model string, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.Aliases {
		if a.Name == name {
			if _, perr := c.getProviderLocked(a.Provider); perr != nil {
				return "", "", &core.ConfigError{Op: "resolve_alias", Err: fmt.Errorf("alias %q references unknown provider %q", name, a.Provider)}
			}
			return a.Provider, a.Model, nil
		}
	}
	return "", "", &core.ConfigError{Op: "resolve_alias", Err: fmt.Errorf("alias %q not found", name)}
}

func (c *Config) getProviderLocked(name string) (*core.Provider, error) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], nil
		}
	}
	return nil, fmt.Errorf("provider %q not found", name)
}

// AddTemplate registers a named prompt template body.
func (c *Config) AddTemplate(name, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Templates[name] = body
}

// ExpandPrompt expands a "t:<name>" prompt reference to its registered
// body; any other string passes through unchanged.
func (c *Config) ExpandPrompt(prompt string) string {
	const prefix = "t:"
	if len(prompt) <= len(prefix) || prompt[:len(prefix)] != prefix {
		return prompt
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if body, ok := c.Templates[prompt[len(prefix):]]; ok {
		return body
	}
	return prompt
}
