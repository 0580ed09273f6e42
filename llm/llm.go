// Package llm defines the chat-model contract the extraction and agent
// layers program against, plus helpers for structured JSON output.
// Provider adapters live in the subpackages.
package llm

import "context"

// Message is a single turn in a conversation.
type Message struct {
	Role    string
	Content string
}

// Standard role constants shared across providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOut is a completed model response.
type ChatOut struct {
	Text string
	// Model names the model that produced the text.
	Model string
}

// ChatModel is the provider-neutral chat contract.
type ChatModel interface {
	// Chat sends the conversation and returns the model's reply. Errors are
	// typed through the faults taxonomy: rate_limit, transient, llm_error.
	Chat(ctx context.Context, messages []Message) (ChatOut, error)

	// Name identifies the underlying model for audit records.
	Name() string
}

// System and User build single-role messages.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message   { return Message{Role: RoleUser, Content: content} }
