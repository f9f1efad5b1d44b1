package llm

import (
	"encoding/json"
	"errors"
)

// ErrNoChoices is returned when decoding a completion without choices.
var ErrNoChoices = errors.New("completion has no choices")

// ChatResponse is a non-streamed chat completion. Only the choices are
// relayed to clients.
type ChatResponse struct {
	Choices []Choice `json:"choices"`
}

// Choice is one completion candidate.
type Choice struct {
	Message      ChatMessage `json:"message"`
	Index        *int        `json:"index"`
	FinishReason *string     `json:"finish_reason"`
}

// UnmarshalJSON decodes a response, requiring at least one choice. Fields
// other than choices are dropped.
func (r *ChatResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		Choices []Choice `json:"choices"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Choices) == 0 {
		return ErrNoChoices
	}
	r.Choices = raw.Choices
	return nil
}
