package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent relay configuration stored as config.toml
// in the .relay/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version int           `toml:"version"`
	Proxy   ProxyConfig   `toml:"proxy"`
	Backend BackendConfig `toml:"backend"`
	Prompt  PromptConfig  `toml:"prompt"`
	Metrics MetricsConfig `toml:"metrics"`
	Log     LogConfig     `toml:"log"`
	Client  ClientConfig  `toml:"client"`
}

// ProxyConfig holds settings of the inbound side of the relay.
type ProxyConfig struct {
	Listen string `toml:"listen,omitempty"`

	// Prefix is prepended to /chat/completions to form the inbound path.
	Prefix    string `toml:"prefix,omitempty"`
	StaticDir string `toml:"static_dir,omitempty"`
}

// BackendConfig holds settings of the inference backend.
type BackendConfig struct {
	URL          string `toml:"url,omitempty"`
	Kind         string `toml:"kind,omitempty"`
	Model        string `toml:"model,omitempty"`
	APIKey       string `toml:"api_key,omitempty"`
	ForwardProxy string `toml:"forward_proxy,omitempty"`
	ProxyFromEnv bool   `toml:"proxy_from_env,omitempty"`
}

// PromptConfig holds the system prompt settings. File takes precedence over
// Text.
type PromptConfig struct {
	Text  string `toml:"text,omitempty"`
	File  string `toml:"file,omitempty"`
	Watch bool   `toml:"watch,omitempty"`
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled,omitempty"`
	Path    string `toml:"path,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level,omitempty"`

	// Format is one of pretty, text or json.
	Format string `toml:"format,omitempty"`

	// File, if set, additionally receives JSON records. Relative paths are
	// resolved against the .relay/ directory.
	File string `toml:"file,omitempty"`
}

// ClientConfig holds settings for CLI commands that connect to a running
// relay (e.g. relay chat). ProxyTarget is a full URL (scheme + host + port).
type ClientConfig struct {
	ProxyTarget string `toml:"proxy_target,omitempty"`
	Model       string `toml:"model,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func boolKey(key string, field func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			*field(c) = b
			return nil
		},
	}
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"proxy.listen":           stringKey(func(c *Config) *string { return &c.Proxy.Listen }),
	"proxy.prefix":           stringKey(func(c *Config) *string { return &c.Proxy.Prefix }),
	"proxy.static_dir":       stringKey(func(c *Config) *string { return &c.Proxy.StaticDir }),
	"backend.url":            stringKey(func(c *Config) *string { return &c.Backend.URL }),
	"backend.kind":           stringKey(func(c *Config) *string { return &c.Backend.Kind }),
	"backend.model":          stringKey(func(c *Config) *string { return &c.Backend.Model }),
	"backend.api_key":        stringKey(func(c *Config) *string { return &c.Backend.APIKey }),
	"backend.forward_proxy":  stringKey(func(c *Config) *string { return &c.Backend.ForwardProxy }),
	"backend.proxy_from_env": boolKey("backend.proxy_from_env", func(c *Config) *bool { return &c.Backend.ProxyFromEnv }),
	"prompt.text":            stringKey(func(c *Config) *string { return &c.Prompt.Text }),
	"prompt.file":            stringKey(func(c *Config) *string { return &c.Prompt.File }),
	"prompt.watch":           boolKey("prompt.watch", func(c *Config) *bool { return &c.Prompt.Watch }),
	"metrics.enabled":        boolKey("metrics.enabled", func(c *Config) *bool { return &c.Metrics.Enabled }),
	"metrics.path":           stringKey(func(c *Config) *string { return &c.Metrics.Path }),
	"log.level":              stringKey(func(c *Config) *string { return &c.Log.Level }),
	"log.format":             stringKey(func(c *Config) *string { return &c.Log.Format }),
	"log.file":               stringKey(func(c *Config) *string { return &c.Log.File }),
	"client.proxy_target":    stringKey(func(c *Config) *string { return &c.Client.ProxyTarget }),
	"client.model":           stringKey(func(c *Config) *string { return &c.Client.Model }),
}

// orderedKeys lists configKeys in TOML section order.
var orderedKeys = []string{
	"proxy.listen",
	"proxy.prefix",
	"proxy.static_dir",
	"backend.url",
	"backend.kind",
	"backend.model",
	"backend.api_key",
	"backend.forward_proxy",
	"backend.proxy_from_env",
	"prompt.text",
	"prompt.file",
	"prompt.watch",
	"metrics.enabled",
	"metrics.path",
	"log.level",
	"log.format",
	"log.file",
	"client.proxy_target",
	"client.model",
}
