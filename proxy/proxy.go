// Package proxy provides a streaming chat-completion reverse proxy in front
// of an OpenAI-compatible or llama.cpp-style inference backend.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/papercomputeco/relay/pkg/backend"
	"github.com/papercomputeco/relay/pkg/metrics"
	"github.com/papercomputeco/relay/proxy/header"
)

// Dialer opens backend connections.
type Dialer interface {
	Dial(ctx context.Context, target backend.Target) (*backend.Conn, error)
}

// ReverseProxy relays chat completions of one client session to the backend
// over at most one backend connection, which it opens on first use and
// replaces once it is observed dead.
type ReverseProxy struct {
	config  *Config
	dialer  Dialer
	logger  *slog.Logger
	metrics *metrics.Collector
	headers *header.Handler

	// mu makes checking and replacing conn atomic. It is not held while a
	// request is in flight.
	mu   sync.Mutex
	conn *backend.Conn
}

// NewReverseProxy creates a ReverseProxy. A nil dialer dials directly or
// through the forward proxy set in config.
func NewReverseProxy(config *Config, dialer Dialer, logger *slog.Logger, m *metrics.Collector) *ReverseProxy {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if dialer == nil {
		dialer = &backend.Dialer{
			ForwardProxy:         config.forwardProxy,
			ProxyFromEnvironment: config.proxyFromEnv,
			Logger:               logger,
			Metrics:              m,
		}
	}
	return &ReverseProxy{
		config:  config,
		dialer:  dialer,
		logger:  logger,
		metrics: m,
		headers: header.NewHandler(),
	}
}

// Config returns the configuration the proxy was built with.
func (p *ReverseProxy) Config() *Config {
	return p.config
}

// Handle converts in, sends it to the backend and converts the response.
// Cancelling ctx before the backend's response headers arrive aborts the
// backend connection; after that the response stream is governed only by
// its reader.
func (p *ReverseProxy) Handle(ctx context.Context, in *Request) (*Response, error) {
	start := time.Now()
	kind := p.config.kind.String()

	req, chat, err := p.backendRequest(ctx, in)
	if err != nil {
		p.metrics.RecordRequest(kind, false, metrics.OutcomeError, time.Since(start))
		return nil, err
	}
	stream := chat.IsStream()

	logger := p.logger.With("model", chat.Model, "stream", stream)
	logger.Debug("forwarding chat request",
		"messages", len(chat.Messages),
		"url", req.URL.String(),
	)

	resp, err := p.send(ctx, req)
	if err != nil {
		p.metrics.RecordRequest(kind, stream, metrics.OutcomeError, time.Since(start))
		return nil, err
	}

	out, err := p.convertResponse(resp, stream, logger)
	switch err.(type) {
	case nil:
		p.metrics.RecordRequest(kind, stream, metrics.OutcomeOK, time.Since(start))
	case *StatusError:
		p.metrics.RecordRequest(kind, stream, metrics.OutcomeBackendStatus, time.Since(start))
	default:
		p.metrics.RecordRequest(kind, stream, metrics.OutcomeError, time.Since(start))
	}
	return out, err
}

// send dispatches req on the current connection, dialing a new one if there
// is none or it has died.
func (p *ReverseProxy) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	conn, err := p.connection(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := conn.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sending request to %s: %w", p.config.target, err)
	}
	return resp, nil
}

func (p *ReverseProxy) connection(ctx context.Context) (*backend.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil && !p.conn.Closed() {
		return p.conn, nil
	}
	if p.conn != nil {
		p.logger.Debug("replacing dead backend connection", "cause", p.conn.Err())
	}

	conn, err := p.dialer.Dial(ctx, p.config.target)
	if err != nil {
		return nil, fmt.Errorf("connecting to backend %s: %w", p.config.target, err)
	}
	p.conn = conn
	return conn, nil
}

// Close closes the backend connection, if any. A stream still being read
// fails.
func (p *ReverseProxy) Close() error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}
