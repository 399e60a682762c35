package llm

import (
	"errors"
	"strings"
	"testing"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"bare object with padding", "  {\"a\":1}  ", 1},
		{"fenced json block", "intro ```json\n{\"a\":1}\n``` outro", 1},
		{"fenced block without language", "```\n{\"a\":2}\n```", 2},
		{"uppercase fence tag", "```JSON\n{\"a\":3}\n```", 3},
		{"prose around object", "Here you go: {\"a\":4} hope it helps", 4},
		{"trailing stray fence", "{\"a\":5}\n```", 5},
		{"nested object", "note {\"a\":6,\"b\":{\"c\":[1,2]}} end", 6},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseJSON(tc.raw)
			if err != nil {
				t.Fatalf("ParseJSON(%q): %v", tc.raw, err)
			}
			if got["a"] != tc.want {
				t.Fatalf("a = %v, want %v", got["a"], tc.want)
			}
		})
	}
}

func TestParseJSONFailures(t *testing.T) {
	if _, err := ParseJSON("no json here"); !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
	if _, err := ParseJSON("   "); !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON for empty output, got %v", err)
	}
	if _, err := ParseJSON("{\"a\": oops}"); !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("expected ErrInvalidJSON, got %v", err)
	}
}

func TestDecodeJSON(t *testing.T) {
	type cleaned struct {
		CleanedText string `json:"cleaned_text"`
	}
	got, err := DecodeJSON[cleaned]("```json\n{\"cleaned_text\": \"hello world\"}\n```")
	if err != nil {
		t.Fatal(err)
	}
	if got.CleanedText != "hello world" {
		t.Fatalf("CleanedText = %q", got.CleanedText)
	}
}

func TestBuildPromptSections(t *testing.T) {
	p := BuildPrompt(TaskQueryRefine, `{"question":"E3"}`)
	for _, want := range []string{"[TASK_ID]\n1\n", "[TASK_DESC]", "[INPUT]\n{\"question\":\"E3\"}", "[OUTPUT_FORMAT]", "normalized_query"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
