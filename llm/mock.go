package llm

import (
	"context"
	"sync"
)

// Mock is a test ChatModel with scripted responses. Each call returns the
// next response in order; once exhausted, the last repeats. Safe for
// concurrent use.
type Mock struct {
	Responses []ChatOut
	Err       error

	mu    sync.Mutex
	index int
	calls [][]Message
}

// Chat implements ChatModel.
func (m *Mock) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messages)
	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{Model: m.Name()}, nil
	}
	i := m.index
	if i >= len(m.Responses) {
		i = len(m.Responses) - 1
	}
	m.index++
	return m.Responses[i], nil
}

// Name implements ChatModel.
func (m *Mock) Name() string { return "mock" }

// Calls returns the recorded conversations.
func (m *Mock) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount reports how many times Chat ran.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
