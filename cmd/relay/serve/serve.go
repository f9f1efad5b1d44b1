// Package servecmder provides the serve command, which runs the relay.
package servecmder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/dotdir"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/metrics"
	"github.com/papercomputeco/relay/pkg/prompt"
	"github.com/papercomputeco/relay/proxy"
)

// openAIKeyEnv is read when an openai backend has no configured API key.
const openAIKeyEnv = "OPENAI_API_KEY"

type serveCommander struct {
	configDir string
	debug     bool

	// Flag targets. The values are read back through viper.
	listen       string
	prefix       string
	staticDir    string
	backendURL   string
	kind         string
	model        string
	apiKey       string
	forwardProxy string
	proxyFromEnv bool
	systemPrompt string
	promptFile   string
	watchPrompt  bool
	metrics      bool
	metricsPath  string
	logLevel     string
	logFormat    string
	logFile      string

	viper  *viper.Viper
	logger *slog.Logger
}

var serveFlags = []string{
	config.FlagListen,
	config.FlagPrefix,
	config.FlagStaticDir,
	config.FlagBackend,
	config.FlagKind,
	config.FlagModel,
	config.FlagAPIKey,
	config.FlagForwardProxy,
	config.FlagProxyFromEnv,
	config.FlagSystemPrompt,
	config.FlagPromptFile,
	config.FlagWatchPrompt,
	config.FlagMetrics,
	config.FlagMetricsPath,
	config.FlagLogLevel,
	config.FlagLogFormat,
	config.FlagLogFile,
}

const serveLongDesc string = `Run the relay.

The relay accepts chat completion requests on <prefix>/chat/completions and
forwards them to the configured backend, a local llama.cpp-style server or
the OpenAI API. Streamed responses are relayed event by event. Each client
connection keeps its own persistent connection to the backend.

Every flag can also be set in .relay/config.toml or through a RELAY_
environment variable (e.g. RELAY_BACKEND_URL). Flags take precedence over
the environment, which takes precedence over the config file.

Examples:
  relay serve --backend http://127.0.0.1:8080
  relay serve --kind openai --backend https://api.openai.com --model gpt-4o
  relay serve --prompt-file ./prompt.txt --watch-prompt --static-dir ./public`

const serveShortDesc string = "Run the relay"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.Flags, serveFlags)
			cmder.viper = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			cfg, err := config.Unmarshal(cmder.viper)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			return cmder.run(cmd.Context(), cfg)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagPrefix, &cmder.prefix)
	config.AddStringFlag(cmd, config.Flags, config.FlagStaticDir, &cmder.staticDir)
	config.AddStringFlag(cmd, config.Flags, config.FlagBackend, &cmder.backendURL)
	config.AddStringFlag(cmd, config.Flags, config.FlagKind, &cmder.kind)
	config.AddStringFlag(cmd, config.Flags, config.FlagModel, &cmder.model)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIKey, &cmder.apiKey)
	config.AddStringFlag(cmd, config.Flags, config.FlagForwardProxy, &cmder.forwardProxy)
	config.AddBoolFlag(cmd, config.Flags, config.FlagProxyFromEnv, &cmder.proxyFromEnv)
	config.AddStringFlag(cmd, config.Flags, config.FlagSystemPrompt, &cmder.systemPrompt)
	config.AddStringFlag(cmd, config.Flags, config.FlagPromptFile, &cmder.promptFile)
	config.AddBoolFlag(cmd, config.Flags, config.FlagWatchPrompt, &cmder.watchPrompt)
	config.AddBoolFlag(cmd, config.Flags, config.FlagMetrics, &cmder.metrics)
	config.AddStringFlag(cmd, config.Flags, config.FlagMetricsPath, &cmder.metricsPath)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogLevel, &cmder.logLevel)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogFormat, &cmder.logFormat)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogFile, &cmder.logFile)

	return cmd
}

func (c *serveCommander) run(ctx context.Context, cfg *config.Config) error {
	var fileWriter io.Writer
	logFile, err := c.openLogFile(cfg.Log.File)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
		fileWriter = logFile
	}

	c.logger, err = newLogger(cfg.Log, c.debug, os.Stdout, fileWriter)
	if err != nil {
		return err
	}

	proxyConfig, err := newProxyConfig(cfg)
	if err != nil {
		return fmt.Errorf("configuring relay: %w", err)
	}

	prompts, err := c.newPromptSource(cfg.Prompt)
	if err != nil {
		return err
	}

	opts := []proxy.ServerOption{
		proxy.WithLogger(c.logger),
		proxy.WithPromptSource(prompts),
	}
	serverConfig := proxy.ServerConfig{
		ListenAddr: cfg.Proxy.Listen,
		StaticDir:  cfg.Proxy.StaticDir,
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, proxy.WithMetrics(metrics.NewCollector()))
		serverConfig.MetricsPath = cfg.Metrics.Path
	}

	server, err := proxy.NewServer(serverConfig, proxyConfig, opts...)
	if err != nil {
		return fmt.Errorf("creating relay server: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Run(); err != nil {
			return fmt.Errorf("relay server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		c.logger.Info("shutting down")
		return server.Close()
	})
	if cfg.Prompt.File != "" && cfg.Prompt.Watch {
		g.Go(func() error {
			return prompts.Watch(ctx)
		})
	}

	return g.Wait()
}

// openLogFile opens the JSON log file, resolving relative paths against the
// .relay/ directory. Returns nil when no file is configured.
func (c *serveCommander) openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}

	resolved, err := dotdir.NewManager().Resolve(path, c.configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving log file: %w", err)
	}

	f, err := os.OpenFile(resolved, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

// newLogger builds the console logger in the configured format. When file
// is set, records are also written to it as JSON.
func newLogger(cfg config.LogConfig, debug bool, console, file io.Writer) (*slog.Logger, error) {
	opts := []logger.Option{
		logger.WithWriter(console),
		logger.WithLevel(cfg.Level),
	}
	if debug {
		opts = append(opts, logger.WithDebug(true))
	}

	switch cfg.Format {
	case "", "pretty":
		opts = append(opts, logger.WithPretty(true))
	case "json":
		opts = append(opts, logger.WithJSON(true))
	case "text":
	default:
		return nil, fmt.Errorf("unknown log format %q: expected pretty, text or json", cfg.Format)
	}

	l := logger.New(opts...)
	if file == nil {
		return l, nil
	}

	fileOpts := []logger.Option{
		logger.WithWriter(file),
		logger.WithJSON(true),
		logger.WithLevel(cfg.Level),
	}
	if debug {
		fileOpts = append(fileOpts, logger.WithDebug(true))
	}
	return logger.Multi(l, logger.New(fileOpts...)), nil
}

// newProxyConfig maps the relay configuration onto a proxy.Config.
func newProxyConfig(cfg *config.Config) (*proxy.Config, error) {
	kind, err := proxy.ParseBackendKind(cfg.Backend.Kind)
	if err != nil {
		return nil, err
	}

	apiKey := cfg.Backend.APIKey
	if apiKey == "" && kind == proxy.OpenAIStyle {
		apiKey = os.Getenv(openAIKeyEnv)
	}

	return proxy.NewConfig(cfg.Backend.URL, kind,
		proxy.WithModel(cfg.Backend.Model),
		proxy.WithAPIKey(apiKey),
		proxy.WithForwardProxy(cfg.Backend.ForwardProxy),
		proxy.WithProxyFromEnvironment(cfg.Backend.ProxyFromEnv),
		proxy.WithInboundPath(cfg.Proxy.Prefix+proxy.DefaultInboundPath),
	)
}

// newPromptSource returns the file-backed prompt when a prompt file is
// configured, and the fixed prompt text otherwise.
func (c *serveCommander) newPromptSource(cfg config.PromptConfig) (*prompt.Source, error) {
	if cfg.File == "" {
		return prompt.NewStatic(cfg.Text), nil
	}

	src, err := prompt.NewFileSource(cfg.File, prompt.WithLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("loading system prompt: %w", err)
	}
	c.logger.Info("loaded system prompt", "path", src.Path(), "watch", cfg.Watch)
	return src, nil
}
