package llm

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string // if non-empty, check this key exists in parsed JSON
		wantErr bool
	}{
		{
			name:    "plain JSON",
			input:   `{"invariants": []}`,
			wantKey: "invariants",
		},
		{
			name:    "markdown code block",
			input:   "```json\n{\"invariants\": []}\n```",
			wantKey: "invariants",
		},
		{
			name:    "markdown block with trailing prose",
			input:   "```json\n{\"invariants\": []}\n```\n\nThe spec compiled cleanly.",
			wantKey: "invariants",
		},
		{
			name:    "JS comments outside strings",
			input:   "{\n  \"scope_themes\": [\n    \"auth\"  // primary theme\n  ]\n}",
			wantKey: "scope_themes",
		},
		{
			name:    "trailing commas",
			input:   "{\n  \"gaps\": [\n    \"one\",\n    \"two\",\n  ],\n}",
			wantKey: "gaps",
		},
		{
			name:    "URL in string not stripped",
			input:   `{"source": "http://example.com/spec"}`,
			wantKey: "source",
		},
		{
			name:    "escaped quote before comment",
			input:   "{\"excerpt\": \"say \\\"no\\\"\"} // note",
			wantKey: "excerpt",
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
		},
		{
			name:    "no JSON at all",
			input:   "This is just prose with no JSON.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractJSON(tt.input)

			if tt.wantErr {
				if result != "" {
					t.Errorf("expected no JSON, got %q", result)
				}
				return
			}

			var parsed map[string]any
			if err := json.Unmarshal([]byte(result), &parsed); err != nil {
				t.Fatalf("extracted JSON does not parse: %v\n%s", err, result)
			}
			if _, ok := parsed[tt.wantKey]; !ok {
				t.Errorf("key %q missing from parsed JSON: %s", tt.wantKey, result)
			}
		})
	}
}
