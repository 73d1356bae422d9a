package textutil

import (
	"testing"
)

func TestParseScore(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  float64
		ok    bool
	}{
		{"bare number", "85", 85, true},
		{"bare float", "72.5", 72.5, true},
		{"score colon", "The composition works well.\nSCORE: 78", 78, true},
		{"score equals lowercase", "overall score = 64 out of 100", 64, true},
		{"slash hundred", "I would rate this 88/100 for goal alignment.", 88, true},
		{"slash hundred spaced", "Rating: 91 / 100", 91, true},
		{"json fragment", `{"score": 45.5, "critique": "too dark"}`, 45.5, true},
		{"zero", "SCORE: 0", 0, true},
		{"hundred", "SCORE: 100", 100, true},
		{"over range absent", "SCORE: 150", 0, false},
		{"no number", "this image captures the goal nicely", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseScore(tt.input)
			if ok != tt.ok {
				t.Fatalf("ParseScore(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("ParseScore(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
