package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrMissingField is returned when decoding a request without one of its
// required fields.
var ErrMissingField = errors.New("missing required field")

// ChatRequest is a chat completion request.
//
// Fields other than model, messages and stream (temperature, max_tokens,
// tools, ...) are kept verbatim in Extra and written back on encode, so they
// reach the backend untouched.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   *bool         `json:"stream,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// IsStream reports whether the request asks for a streamed response.
func (r *ChatRequest) IsStream() bool {
	return r.Stream != nil && *r.Stream
}

// UnmarshalJSON decodes a request, requiring model and messages.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errors.New("chat request must be a JSON object")
	}

	var req ChatRequest
	for _, name := range []string{"model", "messages"} {
		if _, ok := fields[name]; !ok {
			return fmt.Errorf("%w %q", ErrMissingField, name)
		}
	}
	if err := json.Unmarshal(fields["model"], &req.Model); err != nil {
		return fmt.Errorf("decoding model: %w", err)
	}
	if err := json.Unmarshal(fields["messages"], &req.Messages); err != nil {
		return fmt.Errorf("decoding messages: %w", err)
	}
	if raw, ok := fields["stream"]; ok {
		if err := json.Unmarshal(raw, &req.Stream); err != nil {
			return fmt.Errorf("decoding stream: %w", err)
		}
	}

	delete(fields, "model")
	delete(fields, "messages")
	delete(fields, "stream")
	if len(fields) > 0 {
		req.Extra = fields
	}

	*r = req
	return nil
}

// MarshalJSON encodes model, messages and stream first, then the extra
// fields in key order.
func (r ChatRequest) MarshalJSON() ([]byte, error) {
	type known struct {
		Model    string        `json:"model"`
		Messages []ChatMessage `json:"messages"`
		Stream   *bool         `json:"stream,omitempty"`
	}

	messages := r.Messages
	if messages == nil {
		messages = []ChatMessage{}
	}
	head, err := json.Marshal(known{Model: r.Model, Messages: messages, Stream: r.Stream})
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return head, nil
	}

	var buf bytes.Buffer
	buf.Write(head[:len(head)-1])
	for _, name := range slices.Sorted(maps.Keys(r.Extra)) {
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(r.Extra[name])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
