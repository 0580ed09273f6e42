// Package google adapts the Gemini API to the llm.ChatModel contract.
package google

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/llm"
)

const defaultModel = "gemini-1.5-flash"

// ChatModel is a Gemini-backed llm.ChatModel. The genai client wants a
// context at construction, so a fresh client is opened per call and closed
// on return.
type ChatModel struct {
	apiKey string
	model  string
}

// New creates a Gemini chat model. An empty model name selects the default.
func New(apiKey, model string) *ChatModel {
	if model == "" {
		model = defaultModel
	}
	return &ChatModel{apiKey: apiKey, model: model}
}

// Name implements llm.ChatModel.
func (m *ChatModel) Name() string { return m.model }

// Chat implements llm.ChatModel. System turns become the model's system
// instruction; the remaining turns are concatenated as text parts.
func (m *ChatModel) Chat(ctx context.Context, messages []llm.Message) (llm.ChatOut, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(m.apiKey))
	if err != nil {
		return llm.ChatOut{}, faults.Wrap(faults.KindTransient, m.model,
			fmt.Errorf("failed to create genai client: %w", err))
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(m.model)

	system, parts := buildParts(messages)
	if system != nil {
		genModel.SystemInstruction = system
	}

	resp, err := genModel.GenerateContent(ctx, parts...)
	if err != nil {
		return llm.ChatOut{}, faults.Wrap(faults.KindLLM, m.model, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return llm.ChatOut{}, faults.New(faults.KindLLM, m.model, "empty candidate set")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			if text != "" {
				text += "\n"
			}
			text += string(t)
		}
	}
	if text == "" {
		return llm.ChatOut{}, faults.New(faults.KindLLM, m.model, "no text parts in candidate")
	}
	return llm.ChatOut{Text: text, Model: m.model}, nil
}

// buildParts splits system turns into a system instruction and flattens the
// rest into text parts.
func buildParts(messages []llm.Message) (*genai.Content, []genai.Part) {
	var system *genai.Content
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			system = &genai.Content{Parts: []genai.Part{genai.Text(msg.Content)}}
			continue
		}
		parts = append(parts, genai.Text(msg.Content))
	}
	return system, parts
}
