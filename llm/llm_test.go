package llm

import (
	"context"
	"testing"

	"github.com/djjay0131/agentic-kg/faults"
)

func TestStripFences(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no lang", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"inline fence", "```{\"a\":1}```", `{"a":1}`},
		{"surrounding space", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripFences(tc.in); got != tc.want {
				t.Errorf("StripFences(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"prose wrapped", `Here you go: {"a":1}. Enjoy!`, `{"a":1}`},
		{"nested", `{"a":{"b":[1,2]}}`, `{"a":{"b":[1,2]}}`},
		{"array", `result: [1,2,3] done`, `[1,2,3]`},
		{"brace in string", `{"a":"}"}`, `{"a":"}"}`},
		{"no json", `sorry, I cannot help`, ``},
		{"unbalanced", `{"a":1`, ``},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractJSON(tc.in); got != tc.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestStructured(t *testing.T) {
	type verdict struct {
		Decision   string  `json:"decision"`
		Confidence float64 `json:"confidence"`
	}

	t.Run("decodes fenced reply", func(t *testing.T) {
		m := &Mock{Responses: []ChatOut{{Text: "```json\n{\"decision\":\"link\",\"confidence\":0.9}\n```"}}}
		v, err := Structured[verdict](context.Background(), m, []Message{User("go")})
		if err != nil {
			t.Fatal(err)
		}
		if v.Decision != "link" || v.Confidence != 0.9 {
			t.Errorf("v = %+v", v)
		}
	})

	t.Run("non-json reply is llm_error", func(t *testing.T) {
		m := &Mock{Responses: []ChatOut{{Text: "I am not able to answer."}}}
		_, err := Structured[verdict](context.Background(), m, []Message{User("go")})
		if !faults.Is(err, faults.KindLLM) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("malformed json is llm_error", func(t *testing.T) {
		m := &Mock{Responses: []ChatOut{{Text: `{"decision": link}`}}}
		_, err := Structured[verdict](context.Background(), m, []Message{User("go")})
		if !faults.Is(err, faults.KindLLM) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestMockSequences(t *testing.T) {
	m := &Mock{Responses: []ChatOut{{Text: "one"}, {Text: "two"}}}
	ctx := context.Background()
	for _, want := range []string{"one", "two", "two"} {
		out, err := m.Chat(ctx, []Message{User("x")})
		if err != nil {
			t.Fatal(err)
		}
		if out.Text != want {
			t.Errorf("got %q, want %q", out.Text, want)
		}
	}
	if m.CallCount() != 3 {
		t.Errorf("calls = %d", m.CallCount())
	}
}
