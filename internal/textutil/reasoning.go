// Package textutil post-processes raw text model output: stripping delimited
// internal-reasoning segments, extracting tagged prompt payloads, and parsing
// numeric scores out of free-form critiques.
package textutil

import (
	"fmt"
	"strings"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"

	promptOpen  = "<prompt>"
	promptClose = "</prompt>"
)

// StripReasoningSegment removes <think>...</think> blocks that reasoning
// models prepend to their answers, leaving only the user-facing text.
//
// An opening tag without a matching close tag means the model's output was
// cut off mid-reasoning and the whole payload is suspect; in that case an
// error is returned rather than a silently truncated result.
func StripReasoningSegment(text string) (string, error) {
	for {
		open := strings.Index(text, thinkOpen)
		if open == -1 {
			return strings.TrimSpace(text), nil
		}
		rest := text[open+len(thinkOpen):]
		end := strings.Index(rest, thinkClose)
		if end == -1 {
			return "", fmt.Errorf("unterminated %s segment at offset %d", thinkOpen, open)
		}
		text = text[:open] + rest[end+len(thinkClose):]
	}
}

// SplitTaggedPrompt strips the reasoning segment from raw model output and
// separates the analysis text from the tagged prompt: the analysis is
// everything before the <prompt> tag, the prompt is the tag's content.
func SplitTaggedPrompt(raw string) (analysis, prompt string, err error) {
	cleaned, err := StripReasoningSegment(raw)
	if err != nil {
		return "", "", err
	}
	prompt, err = ExtractPromptTag(cleaned)
	if err != nil {
		return "", "", err
	}

	analysis = cleaned
	if idx := strings.Index(cleaned, promptOpen); idx >= 0 {
		analysis = strings.TrimSpace(cleaned[:idx])
	}
	return analysis, prompt, nil
}

// ExtractPromptTag returns the content between <prompt> and </prompt> tags.
// Text models are instructed to wrap the usable prompt in these tags so the
// surrounding chain-of-thought can be discarded.
func ExtractPromptTag(text string) (string, error) {
	open := strings.Index(text, promptOpen)
	if open == -1 {
		return "", fmt.Errorf("no %s tag found in response", promptOpen)
	}
	rest := text[open+len(promptOpen):]
	end := strings.Index(rest, promptClose)
	if end == -1 {
		return "", fmt.Errorf("unterminated %s tag", promptOpen)
	}

	prompt := strings.TrimSpace(rest[:end])
	if prompt == "" {
		return "", fmt.Errorf("empty %s tag in response", promptOpen)
	}
	return prompt, nil
}
