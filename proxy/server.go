package proxy

import (
	"errors"
	"log/slog"
	"net"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"

	"github.com/papercomputeco/relay/pkg/metrics"
	"github.com/papercomputeco/relay/proxy/header"
)

// ServerConfig configures the inbound side of the relay.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":4000").
	ListenAddr string

	// StaticDir, if set, is served for every path other than the completion
	// and metrics endpoints. Otherwise those paths get 404.
	StaticDir string

	// MetricsPath, if set with a metrics collector, serves Prometheus
	// metrics.
	MetricsPath string
}

// PromptSource supplies the current system prompt. Each new client session
// takes a snapshot of it.
type PromptSource interface {
	Current() string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics records metrics on m and serves them at the configured path.
func WithMetrics(m *metrics.Collector) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithDialer replaces the backend dialer.
func WithDialer(d Dialer) ServerOption {
	return func(s *Server) {
		s.dialer = d
	}
}

// WithPromptSource overrides the configured system prompt with the
// source's prompt at the time each session starts.
func WithPromptSource(src PromptSource) ServerOption {
	return func(s *Server) {
		s.prompts = src
	}
}

// Server accepts client connections and gives each its own ReverseProxy.
type Server struct {
	config *ServerConfig
	proxy  *Config

	app      *fiber.App
	sessions *sessions
	headers  *header.Handler

	logger  *slog.Logger
	metrics *metrics.Collector
	dialer  Dialer
	prompts PromptSource
}

// NewServer builds the relay's fiber app. Routes, in order:
//
//	POST <inbound path>   chat completions, proxied to the backend
//	GET  <metrics path>   Prometheus metrics
//	*                     static files, or 404
func NewServer(config ServerConfig, proxyConfig *Config, opts ...ServerOption) (*Server, error) {
	if proxyConfig == nil {
		return nil, errors.New("proxy config is required")
	}

	s := &Server{
		config:  &config,
		proxy:   proxyConfig,
		headers: header.NewHandler(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.sessions = newSessions(s.newSession, s.metrics)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StrictRouting:         true,
		CaseSensitive:         true,
		ErrorHandler:          s.handleError,
	})
	app.Server().ConnState = s.sessions.connState(app.Server().ConnState)

	inbound := proxyConfig.InboundPath()
	metricsPath := ""
	if s.metrics != nil {
		metricsPath = config.MetricsPath
	}

	// Compress file responses only. Event streams must reach the client
	// chunk by chunk.
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == inbound || (metricsPath != "" && c.Path() == metricsPath)
		},
	}))

	app.Post(inbound, s.handleCompletion)

	if metricsPath != "" {
		app.Get(metricsPath, adaptor.HTTPHandler(s.metrics.Handler()))
	}

	if config.StaticDir != "" {
		for _, h := range staticFiles(config.StaticDir) {
			app.Use(h)
		}
	}
	app.Use(func(c *fiber.Ctx) error {
		return fiber.ErrNotFound
	})

	s.app = app
	return s, nil
}

func (s *Server) newSession() *ReverseProxy {
	cfg := s.proxy
	if s.prompts != nil {
		cfg = cfg.withSystemPrompt(s.prompts.Current())
	}
	return NewReverseProxy(cfg, s.dialer, s.logger, s.metrics)
}

// Run starts the server on the configured listen address.
func (s *Server) Run() error {
	s.logger.Info("starting relay server",
		"listen", s.config.ListenAddr,
		"backend", s.proxy.Target().String(),
		"kind", s.proxy.Kind().String(),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// RunWithListener starts the server using the provided listener.
func (s *Server) RunWithListener(listener net.Listener) error {
	s.logger.Info("starting relay server",
		"listen", listener.Addr().String(),
		"backend", s.proxy.Target().String(),
		"kind", s.proxy.Kind().String(),
	)
	return s.app.Listener(listener)
}

// Close closes every session's backend connection, ending streams in
// flight, then shuts the server down.
func (s *Server) Close() error {
	s.sessions.closeAll()
	return s.app.Shutdown()
}

func (s *Server) handleCompletion(c *fiber.Ctx) error {
	id := s.headers.RequestID(c)
	c.Set(header.RequestIDHeader, id)
	logger := s.logger.With("request_id", id)

	rp := s.sessions.get(c.Context().Conn())
	resp, err := rp.Handle(c.UserContext(), &Request{
		Path:     c.Path(),
		RawQuery: string(c.Request().URI().QueryString()),
		Body:     c.Body(),
	})
	if err != nil {
		logger.Error("chat completion failed", "error", err)
		return err
	}

	s.headers.SetClientResponseHeaders(c, resp.ContentType, resp.Stream != nil)
	c.Status(resp.StatusCode)

	if resp.Stream != nil {
		logger.Debug("streaming chat completion")
		// Unknown size (-1) makes fasthttp use chunked encoding and flush
		// after every write to the pipe.
		c.Context().Response.SetBodyStream(resp.Stream, -1)
		return nil
	}
	return c.Send(resp.Body)
}

// handleError turns handler errors into plain-text responses. Failed
// completions become 500 with the error text; the client connection stays
// open.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).Send(nil)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
}
