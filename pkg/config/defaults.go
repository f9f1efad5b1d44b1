package config

const (
	defaultProxyListen = ":4000"

	defaultBackendURL  = "http://127.0.0.1:8080"
	defaultBackendKind = "llama"

	defaultMetricsPath = "/metrics"

	defaultLogLevel  = "info"
	defaultLogFormat = "pretty"

	defaultClientProxyTarget = "http://localhost:4000"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Proxy: ProxyConfig{
			Listen: defaultProxyListen,
		},
		Backend: BackendConfig{
			URL:  defaultBackendURL,
			Kind: defaultBackendKind,
		},
		Metrics: MetricsConfig{
			Path: defaultMetricsPath,
		},
		Log: LogConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Client: ClientConfig{
			ProxyTarget: defaultClientProxyTarget,
		},
	}
}
