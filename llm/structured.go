package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/djjay0131/agentic-kg/faults"
)

// StripFences removes markdown code-fence markers from a model reply,
// keeping the fenced body. Replies without fences pass through trimmed.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag on the opening fence line.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if first == "" || !strings.ContainsAny(first, "{}[]") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ExtractJSON locates the outermost JSON value in a model reply. Models
// often wrap JSON in prose or fences; this takes the span from the first
// opening brace or bracket to its matching close.
func ExtractJSON(s string) string {
	s = StripFences(s)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}
	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case inString:
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// Structured asks the model and decodes its reply into T. A reply without
// decodable JSON is an llm_error, which the retry engine treats as
// retryable.
func Structured[T any](ctx context.Context, m ChatModel, messages []Message) (T, error) {
	var out T
	reply, err := m.Chat(ctx, messages)
	if err != nil {
		return out, err
	}
	raw := ExtractJSON(reply.Text)
	if raw == "" {
		return out, faults.New(faults.KindLLM, m.Name(), "reply contains no JSON")
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, faults.Wrap(faults.KindLLM, m.Name(), err)
	}
	return out, nil
}
