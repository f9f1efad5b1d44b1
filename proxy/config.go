package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/papercomputeco/relay/pkg/backend"
)

// DefaultInboundPath is the path clients post chat completions to.
const DefaultInboundPath = "/chat/completions"

// ErrMissingAPIKey is returned when the backend kind requires an API key and
// none was configured.
var ErrMissingAPIKey = errors.New("backend requires an API key")

// Config is the immutable configuration of a ReverseProxy. It is built once
// by NewConfig and shared by pointer between the sessions of a server.
type Config struct {
	target       backend.Target
	kind         BackendKind
	model        string
	apiKey       string
	systemPrompt string
	inboundPath  string

	forwardProxy *url.URL
	proxyFromEnv bool
}

// Option configures a Config built by NewConfig.
type Option func(*Config) error

// WithModel overrides the model sent to the backend. For llama-style
// backends an empty model passes the client's choice through.
func WithModel(model string) Option {
	return func(c *Config) error {
		c.model = strings.TrimSpace(model)
		return nil
	}
}

// WithAPIKey sets the bearer token sent to the backend.
func WithAPIKey(key string) Option {
	return func(c *Config) error {
		c.apiKey = strings.TrimSpace(key)
		return nil
	}
}

// WithSystemPrompt sets the system message prepended to every conversation.
// An empty prompt disables injection.
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) error {
		c.systemPrompt = prompt
		return nil
	}
}

// WithForwardProxy tunnels backend connections through the http:// proxy
// at raw. An empty string leaves tunnelling off.
func WithForwardProxy(raw string) Option {
	return func(c *Config) error {
		if raw == "" {
			c.forwardProxy = nil
			return nil
		}
		u, err := backend.ParseForwardProxy(raw)
		if err != nil {
			return err
		}
		c.forwardProxy = u
		return nil
	}
}

// WithProxyFromEnvironment resolves the forward proxy from HTTP_PROXY,
// HTTPS_PROXY and NO_PROXY when no explicit forward proxy is set.
func WithProxyFromEnvironment(enabled bool) Option {
	return func(c *Config) error {
		c.proxyFromEnv = enabled
		return nil
	}
}

// WithInboundPath sets the path clients post chat completions to.
func WithInboundPath(path string) Option {
	return func(c *Config) error {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("inbound path %q must start with /", path)
		}
		c.inboundPath = path
		return nil
	}
}

// NewConfig validates and builds a Config for the backend at backendURL.
func NewConfig(backendURL string, kind BackendKind, opts ...Option) (*Config, error) {
	target, err := backend.ParseTarget(backendURL)
	if err != nil {
		return nil, fmt.Errorf("backend URL: %w", err)
	}

	c := &Config{
		target:      target,
		kind:        kind,
		inboundPath: DefaultInboundPath,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if kind.RequiresAuth() && c.apiKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingAPIKey, kind)
	}

	return c, nil
}

// Target returns the backend location.
func (c *Config) Target() backend.Target { return c.target }

// Kind returns the backend flavour.
func (c *Config) Kind() BackendKind { return c.kind }

// Model returns the configured model override, or the kind's default.
func (c *Config) Model() string {
	if c.model != "" {
		return c.model
	}
	return c.kind.DefaultModel()
}

// APIKey returns the bearer token, or "".
func (c *Config) APIKey() string { return c.apiKey }

// SystemPrompt returns the injected system prompt, or "".
func (c *Config) SystemPrompt() string { return c.systemPrompt }

// InboundPath returns the path clients post to.
func (c *Config) InboundPath() string { return c.inboundPath }

// ForwardProxy returns the explicit forward proxy, or nil.
func (c *Config) ForwardProxy() *url.URL { return c.forwardProxy }

// ProxyFromEnvironment reports whether the forward proxy is taken from the
// environment.
func (c *Config) ProxyFromEnvironment() bool { return c.proxyFromEnv }

// resolveModel returns the model to send given the client's choice.
func (c *Config) resolveModel(client string) string {
	if m := c.Model(); m != "" {
		return m
	}
	return client
}

// withSystemPrompt returns a copy of c using prompt.
func (c *Config) withSystemPrompt(prompt string) *Config {
	if prompt == c.systemPrompt {
		return c
	}
	cp := *c
	cp.systemPrompt = prompt
	return &cp
}
