package proxy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownBackendKind is returned by ParseBackendKind for unrecognized
// names.
var ErrUnknownBackendKind = errors.New("unknown backend kind")

// BackendKind selects the API flavour spoken by the backend.
type BackendKind int

const (
	// LlamaStyle is a local llama.cpp-style server.
	LlamaStyle BackendKind = iota

	// OpenAIStyle is the OpenAI cloud API or a compatible service.
	OpenAIStyle
)

// ParseBackendKind parses "llama" (also "llama.cpp", "llamacpp") or
// "openai", ignoring case.
func ParseBackendKind(s string) (BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "llama", "llama.cpp", "llamacpp":
		return LlamaStyle, nil
	case "openai":
		return OpenAIStyle, nil
	default:
		return 0, fmt.Errorf("%w %q: expected llama or openai", ErrUnknownBackendKind, s)
	}
}

func (k BackendKind) String() string {
	switch k {
	case LlamaStyle:
		return "llama"
	case OpenAIStyle:
		return "openai"
	default:
		return fmt.Sprintf("BackendKind(%d)", int(k))
	}
}

// CompletionPath is the backend path chat completions are posted to.
func (k BackendKind) CompletionPath() string {
	if k == OpenAIStyle {
		return "/v1/chat/completions"
	}
	return "/chat/completions"
}

// DefaultModel is the model sent when none is configured. Empty means the
// client's model is passed through.
func (k BackendKind) DefaultModel() string {
	if k == OpenAIStyle {
		return "gpt-4o-mini"
	}
	return ""
}

// RequiresAuth reports whether an API key must be configured.
func (k BackendKind) RequiresAuth() bool {
	return k == OpenAIStyle
}
