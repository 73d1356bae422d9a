package textutil

import (
	"regexp"
	"strconv"
	"strings"
)

// Score extraction patterns, tried in order. Vision models phrase their
// verdict inconsistently even when told to end with "SCORE: N".
var scorePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)score\s*[:=]\s*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(\d+(?:\.\d+)?)\s*/\s*100`),
	regexp.MustCompile(`(?i)"score"\s*:\s*(\d+(?:\.\d+)?)`),
}

// ParseScore extracts an alignment score in [0,100] from free-form critique
// text. The second return value reports whether a usable score was found.
//
// Out-of-range or non-numeric values are treated as absent rather than
// clamped: an absent score must never satisfy a success condition, so lenient
// recovery here would let a garbled evaluation terminate a run early.
func ParseScore(text string) (float64, bool) {
	text = strings.TrimSpace(text)

	// A bare number is accepted when it is the entire payload.
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return validateScore(v)
	}

	for _, re := range scorePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			return validateScore(v)
		}
	}
	return 0, false
}

func validateScore(v float64) (float64, bool) {
	if v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}
