// Package anthropic adapts the Anthropic Messages API to the llm.ChatModel
// contract.
package anthropic

import (
	"context"
	"errors"

	ant "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/llm"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
)

// ChatModel is an Anthropic-backed llm.ChatModel.
type ChatModel struct {
	client    *ant.Client
	model     string
	maxTokens int64
}

// New creates an Anthropic chat model. An empty model name selects the
// default. Extra request options allow overriding the base URL.
func New(apiKey, model string, opts ...option.RequestOption) *ChatModel {
	if model == "" {
		model = defaultModel
	}
	client := ant.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &ChatModel{client: &client, model: model, maxTokens: defaultMaxTokens}
}

// Name implements llm.ChatModel.
func (m *ChatModel) Name() string { return m.model }

// Chat implements llm.ChatModel. System turns travel in the dedicated
// system field the API requires.
func (m *ChatModel) Chat(ctx context.Context, messages []llm.Message) (llm.ChatOut, error) {
	var system []ant.TextBlockParam
	converted := make([]ant.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, ant.TextBlockParam{Text: msg.Content})
		case llm.RoleAssistant:
			converted = append(converted, ant.NewAssistantMessage(ant.NewTextBlock(msg.Content)))
		default:
			converted = append(converted, ant.NewUserMessage(ant.NewTextBlock(msg.Content)))
		}
	}

	params := ant.MessageNewParams{
		Model:     ant.Model(m.model),
		MaxTokens: m.maxTokens,
		Messages:  converted,
	}
	if len(system) > 0 {
		params.System = system
	}

	message, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return llm.ChatOut{}, mapError(m.model, err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return llm.ChatOut{}, faults.New(faults.KindLLM, m.model, "empty message content")
	}
	return llm.ChatOut{Text: text, Model: m.model}, nil
}

func mapError(model string, err error) error {
	var apiErr *ant.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return faults.Wrap(faults.KindRateLimit, model, err)
		case apiErr.StatusCode >= 500:
			return faults.Wrap(faults.KindTransient, model, err)
		}
	}
	return faults.Wrap(faults.KindLLM, model, err)
}
