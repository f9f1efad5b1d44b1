package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --model
// on both "relay serve" and "relay chat").
type Flag struct {
	// Name is the long flag name (e.g. "backend").
	Name string

	// Shorthand is the one-letter short flag (e.g. "b"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "backend.url").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddBoolFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagListen       = "listen"
	FlagPrefix       = "prefix"
	FlagStaticDir    = "static-dir"
	FlagBackend      = "backend"
	FlagKind         = "kind"
	FlagModel        = "model"
	FlagAPIKey       = "api-key"
	FlagForwardProxy = "forward-proxy"
	FlagProxyFromEnv = "proxy-from-env"
	FlagSystemPrompt = "system-prompt"
	FlagPromptFile   = "prompt-file"
	FlagWatchPrompt  = "watch-prompt"
	FlagMetrics      = "metrics"
	FlagMetricsPath  = "metrics-path"
	FlagLogLevel     = "log-level"
	FlagLogFormat    = "log-format"
	FlagLogFile      = "log-file"
	FlagProxyTarget  = "proxy-target"
	FlagClientModel  = "client-model"
)

// Flags is the registry of every relay flag.
var Flags = FlagSet{
	FlagListen:       {Name: "listen", Shorthand: "l", ViperKey: "proxy.listen", Description: "Address for the relay to listen on"},
	FlagPrefix:       {Name: "prefix", ViperKey: "proxy.prefix", Description: "Path prefix of the chat completions endpoint (e.g. /api)"},
	FlagStaticDir:    {Name: "static-dir", ViperKey: "proxy.static_dir", Description: "Directory of static files to serve (default: none)"},
	FlagBackend:      {Name: "backend", Shorthand: "b", ViperKey: "backend.url", Description: "Inference backend URL"},
	FlagKind:         {Name: "kind", Shorthand: "k", ViperKey: "backend.kind", Description: "Backend API flavour (llama, openai)"},
	FlagModel:        {Name: "model", Shorthand: "m", ViperKey: "backend.model", Description: "Model sent to the backend (default: the client's, or gpt-4o-mini for openai)"},
	FlagAPIKey:       {Name: "api-key", ViperKey: "backend.api_key", Description: "Bearer token for the backend"},
	FlagForwardProxy: {Name: "forward-proxy", ViperKey: "backend.forward_proxy", Description: "http:// proxy to tunnel backend connections through"},
	FlagProxyFromEnv: {Name: "proxy-from-env", ViperKey: "backend.proxy_from_env", Description: "Take the forward proxy from HTTP_PROXY, HTTPS_PROXY and NO_PROXY"},
	FlagSystemPrompt: {Name: "system-prompt", ViperKey: "prompt.text", Description: "System prompt prepended to every conversation"},
	FlagPromptFile:   {Name: "prompt-file", ViperKey: "prompt.file", Description: "File holding the system prompt; takes precedence over --system-prompt"},
	FlagWatchPrompt:  {Name: "watch-prompt", ViperKey: "prompt.watch", Description: "Reload the prompt file when it changes"},
	FlagMetrics:      {Name: "metrics", ViperKey: "metrics.enabled", Description: "Serve Prometheus metrics"},
	FlagMetricsPath:  {Name: "metrics-path", ViperKey: "metrics.path", Description: "Path of the metrics endpoint"},
	FlagLogLevel:     {Name: "log-level", ViperKey: "log.level", Description: "Log level (debug, info, warn, error)"},
	FlagLogFormat:    {Name: "log-format", ViperKey: "log.format", Description: "Console log format (pretty, text, json)"},
	FlagLogFile:      {Name: "log-file", ViperKey: "log.file", Description: "File that additionally receives JSON log records"},
	FlagProxyTarget:  {Name: "proxy-target", Shorthand: "p", ViperKey: "client.proxy_target", Description: "URL of the running relay"},
	FlagClientModel:  {Name: "model", Shorthand: "m", ViperKey: "client.model", Description: "Model named in chat requests"},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddBoolFlag registers a bool flag on cmd from the given FlagSet.
func AddBoolFlag(cmd *cobra.Command, fs FlagSet, key string, target *bool) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultBool(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().BoolVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().BoolVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultBool returns the default bool value for a viper key from NewDefaultConfig.
func defaultBool(viperKey string) bool {
	v := viper.New()
	setViperDefaults(v)
	return v.GetBool(viperKey)
}
