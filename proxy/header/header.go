// Package header applies the relay's header policy.
//
// The relay sits between a client and a backend like so:
//
//	Client <--> relay <--> Backend (llama.cpp or OpenAI)
//
// and each leg gets its own headers. Nothing the client sends is forwarded to
// the backend, and nothing the backend sends is copied back to the client.
package header

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// RequestIDHeader carries the id the relay logs each request under.
const RequestIDHeader = "X-Request-Id"

// Handler manages headers on both legs.
type Handler struct{}

// NewHandler creates a new header Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// SetBackendRequestHeaders replaces the headers of req with the fixed set the
// backend sees: Host, Accept, Content-Type and, when apiKey is non-empty,
// a bearer Authorization.
func (h *Handler) SetBackendRequestHeaders(req *http.Request, apiKey string) {
	req.Host = req.URL.Host
	req.Header = http.Header{
		"Accept":       {"application/json"},
		"Content-Type": {"application/json"},

		// A present but empty value suppresses net/http's default.
		"User-Agent": nil,
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

// SetClientResponseHeaders sets the headers of a converted response.
// Streamed responses are marked uncacheable and unbuffered for
// intermediaries.
func (h *Handler) SetClientResponseHeaders(c *fiber.Ctx, contentType string, stream bool) {
	c.Set(fiber.HeaderContentType, contentType)
	if stream {
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set("X-Accel-Buffering", "no")
	}
}

// RequestID returns the client's X-Request-Id when it is a UUID, and a fresh
// one otherwise.
func (h *Handler) RequestID(c *fiber.Ctx) string {
	if id := c.Get(RequestIDHeader); id != "" {
		if parsed, err := uuid.Parse(id); err == nil {
			return parsed.String()
		}
	}
	return uuid.NewString()
}
