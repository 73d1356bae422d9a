package textutil

import (
	"strings"
	"testing"
)

func TestStripReasoningSegment(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no segment", "just an answer", "just an answer"},
		{"leading segment", "<think>pondering</think>the answer", "the answer"},
		{"multiple segments", "<think>a</think>first<think>b</think> second", "first second"},
		{"segment only", "<think>all reasoning</think>", ""},
		{"surrounding whitespace trimmed", "  <think>x</think>  answer  ", "answer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StripReasoningSegment(tt.input)
			if err != nil {
				t.Fatalf("StripReasoningSegment(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("StripReasoningSegment(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStripReasoningSegmentUnterminated(t *testing.T) {
	if _, err := StripReasoningSegment("<think>never closed, answer follows"); err == nil {
		t.Fatal("StripReasoningSegment() accepted an unterminated segment")
	}
}

func TestExtractPromptTag(t *testing.T) {
	got, err := ExtractPromptTag("Here is my reasoning.\n<prompt>a red bicycle, golden hour</prompt>\nDone.")
	if err != nil {
		t.Fatalf("ExtractPromptTag() error: %v", err)
	}
	if got != "a red bicycle, golden hour" {
		t.Errorf("ExtractPromptTag() = %q", got)
	}
}

func TestExtractPromptTagErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing tag", "no tags here at all"},
		{"unterminated tag", "<prompt>never closed"},
		{"empty tag", "<prompt>   </prompt>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ExtractPromptTag(tt.input); err == nil {
				t.Errorf("ExtractPromptTag(%q) succeeded, want error", tt.input)
			}
		})
	}
}

func TestSplitTaggedPrompt(t *testing.T) {
	raw := "<think>internal notes</think>The goal needs warm light and shallow depth.\n" +
		"<prompt>a ceramic teapot, studio lighting, f/1.8</prompt>"

	analysis, prompt, err := SplitTaggedPrompt(raw)
	if err != nil {
		t.Fatalf("SplitTaggedPrompt() error: %v", err)
	}
	if prompt != "a ceramic teapot, studio lighting, f/1.8" {
		t.Errorf("prompt = %q", prompt)
	}
	if !strings.Contains(analysis, "warm light") {
		t.Errorf("analysis = %q, want the pre-tag text", analysis)
	}
	if strings.Contains(analysis, "internal notes") {
		t.Errorf("analysis = %q, reasoning segment leaked through", analysis)
	}
	if strings.Contains(analysis, "<prompt>") {
		t.Errorf("analysis = %q, contains the prompt tag", analysis)
	}
}

func TestSplitTaggedPromptMissingTag(t *testing.T) {
	if _, _, err := SplitTaggedPrompt("analysis without any tagged prompt"); err == nil {
		t.Fatal("SplitTaggedPrompt() accepted output without a prompt tag")
	}
}
