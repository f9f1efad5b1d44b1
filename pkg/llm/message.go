// Package llm defines the chat-completion wire types shared by clients, the
// proxy and both backend flavours.
package llm

// Roles used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single message in a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewSystemMessage returns a system message with the given prompt.
func NewSystemMessage(prompt string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: prompt}
}
