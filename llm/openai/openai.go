// Package openai adapts the OpenAI chat API to the llm.ChatModel contract.
package openai

import (
	"context"
	"errors"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/llm"
)

const defaultModel = "gpt-4o-mini"

// ChatModel is an OpenAI-backed llm.ChatModel. The underlying client is
// safe for concurrent use.
type ChatModel struct {
	client   *oai.Client
	model    string
	jsonMode bool
	reqOpts  []option.RequestOption
}

// Option configures a ChatModel.
type Option func(*ChatModel)

// WithJSONMode requests a JSON-object response format on every call.
func WithJSONMode() Option {
	return func(m *ChatModel) { m.jsonMode = true }
}

// WithRequestOptions passes extra client options, e.g. a base URL.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(m *ChatModel) { m.reqOpts = append(m.reqOpts, opts...) }
}

// New creates an OpenAI chat model. An empty model name selects the default.
func New(apiKey, model string, opts ...Option) *ChatModel {
	if model == "" {
		model = defaultModel
	}
	m := &ChatModel{model: model}
	for _, opt := range opts {
		opt(m)
	}
	client := oai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, m.reqOpts...)...)
	m.client = &client
	return m
}

// Name implements llm.ChatModel.
func (m *ChatModel) Name() string { return m.model }

// Chat implements llm.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []llm.Message) (llm.ChatOut, error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.model),
		Messages: convertMessages(messages),
	}
	if m.jsonMode {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: oai.Ptr(shared.NewResponseFormatJSONObjectParam()),
		}
	}

	completion, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.ChatOut{}, mapError(m.model, err)
	}
	if len(completion.Choices) == 0 {
		return llm.ChatOut{}, faults.New(faults.KindLLM, m.model, "empty completion")
	}
	return llm.ChatOut{
		Text:  completion.Choices[0].Message.Content,
		Model: m.model,
	}, nil
}

func convertMessages(messages []llm.Message) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, oai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			out = append(out, oai.AssistantMessage(msg.Content))
		default:
			out = append(out, oai.UserMessage(msg.Content))
		}
	}
	return out
}

func mapError(model string, err error) error {
	var apiErr *oai.Error
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
