package llm

// StreamDone is the data payload of the terminal event in a streamed
// completion.
const StreamDone = "[DONE]"

// StreamChunk is the JSON payload of one streamed completion event.
type StreamChunk struct {
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice is the incremental update to one completion candidate.
type StreamChoice struct {
	Delta        Delta   `json:"delta"`
	Index        *int    `json:"index"`
	FinishReason *string `json:"finish_reason"`
}

// Delta carries the content appended by a chunk. Role usually appears on the
// first chunk only.
type Delta struct {
	Content *string `json:"content"`
	Role    *string `json:"role"`
}

// FillFinalRole sets the role of every choice that finishes without one to
// assistant. llama.cpp omits it on the final delta.
func (c *StreamChunk) FillFinalRole() {
	for i := range c.Choices {
		choice := &c.Choices[i]
		if choice.FinishReason != nil && choice.Delta.Role == nil {
			role := RoleAssistant
			choice.Delta.Role = &role
		}
	}
}
