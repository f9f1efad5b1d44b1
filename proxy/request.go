package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/papercomputeco/relay/pkg/llm"
)

// Request is an inbound chat completion request with its body fully read.
type Request struct {
	Path     string
	RawQuery string
	Body     []byte
}

// backendRequest converts in into the request sent to the backend. The
// returned chat request is what the backend will see.
func (p *ReverseProxy) backendRequest(ctx context.Context, in *Request) (*http.Request, *llm.ChatRequest, error) {
	cfg := p.config
	if in.Path != cfg.inboundPath {
		return nil, nil, fmt.Errorf("%w %q", ErrUnsupportedPath, in.Path)
	}

	var chat llm.ChatRequest
	if err := json.Unmarshal(in.Body, &chat); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if cfg.systemPrompt != "" {
		messages := make([]llm.ChatMessage, 0, len(chat.Messages)+1)
		messages = append(messages, llm.NewSystemMessage(cfg.systemPrompt))
		chat.Messages = append(messages, chat.Messages...)
	}

	stream := chat.IsStream()
	chat.Stream = &stream
	chat.Model = cfg.resolveModel(chat.Model)

	body, err := json.Marshal(chat)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding backend request: %w", err)
	}

	u := cfg.target.URL()
	u.Path = cfg.kind.CompletionPath()
	u.RawQuery = in.RawQuery

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("building backend request: %w", err)
	}
	p.headers.SetBackendRequestHeaders(req, cfg.apiKey)

	return req, &chat, nil
}
