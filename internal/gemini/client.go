// Package gemini implements the Evaluator and Refiner contracts on the
// Gemini API. The evaluator sends the generated image inline and asks for a
// structured JSON verdict; the refiner uses the shared tagged-prompt
// convention so reasoning text never leaks into the next generation.
package gemini

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/imageloop/imageloop/internal/assets"
	"github.com/imageloop/imageloop/internal/jsonutil"
	"github.com/imageloop/imageloop/internal/provider"
	"github.com/imageloop/imageloop/internal/textutil"
)

// Gemini model IDs. gemini-3-flash-preview balances speed and quality for
// both the vision verdict and the prompt rewriting.
const (
	DefaultTextModel   = "gemini-3-flash-preview"
	DefaultVisionModel = "gemini-3-flash-preview"
)

// Client wraps a genai.Client for the evaluation and refinement roles.
type Client struct {
	client      *genai.Client
	textModel   string
	visionModel string
	prompts     *assets.PromptSet
}

// NewClient creates a Gemini-backed evaluator/refiner. Empty model names
// fall back to the defaults.
func NewClient(ctx context.Context, apiKey, textModel, visionModel string, prompts *assets.PromptSet) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	if textModel == "" {
		textModel = DefaultTextModel
	}
	if visionModel == "" {
		visionModel = DefaultVisionModel
	}
	return &Client{
		client:      client,
		textModel:   textModel,
		visionModel: visionModel,
		prompts:     prompts,
	}, nil
}

// verdict is the structured evaluation output requested from the model.
type verdict struct {
	Score    float64 `json:"score"`
	Critique string  `json:"critique"`
}

// Evaluate sends the image and the analysis prompt to the vision model.
// The model is asked for a JSON verdict; if the response is not parsable
// JSON, a score is salvaged from the text where possible, and otherwise the
// score is reported absent.
func (c *Client) Evaluate(ctx context.Context, image provider.ImageRef, goal string) (*provider.Evaluation, error) {
	data, err := os.ReadFile(string(image))
	if err != nil {
		return nil, &provider.EvaluationError{Err: fmt.Errorf("read image %s: %w", image, err)}
	}

	prompt := c.prompts.RenderAnalysis(goal) +
		"\n\nRespond with ONLY a JSON object: {\"score\": <number 0-100>, \"critique\": \"<your full assessment>\"}"

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.AnalysisSystemPrompt}},
		},
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeTypeFor(string(image)), Data: data}},
			{Text: prompt},
		},
	}}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.visionModel, contents, config)
	if err != nil {
		return nil, &provider.EvaluationError{Err: fmt.Errorf("generate content: %w", err)}
	}
	if resp == nil {
		return nil, &provider.EvaluationError{Err: fmt.Errorf("empty response from Gemini API")}
	}

	text := resp.Text()
	log.Debug().
		Str("model", c.visionModel).
		Int("response_length", len(text)).
		Dur("duration", time.Since(start)).
		Msg("Gemini evaluation complete")

	if v, err := jsonutil.ParseJSON[verdict](text); err == nil {
		eval := &provider.Evaluation{Critique: v.Critique}
		if v.Score >= 0 && v.Score <= 100 {
			score := v.Score
			eval.Score = &score
		}
		return eval, nil
	}

	// Not the JSON we asked for. Keep the critique text and salvage a score
	// only if one is unambiguously present.
	eval := &provider.Evaluation{Critique: strings.TrimSpace(text)}
	if score, ok := textutil.ParseScore(text); ok {
		eval.Score = &score
	} else {
		log.Warn().Str("model", c.visionModel).Msg("Evaluation response had no parsable verdict")
	}
	return eval, nil
}

// UnderstandGoal runs the one-time goal analysis on the text model.
func (c *Client) UnderstandGoal(ctx context.Context, goal string) (string, string, error) {
	raw, err := c.generateText(ctx, assets.GoalUnderstandingSystemPrompt, c.prompts.RenderGoalUnderstanding(goal))
	if err != nil {
		return "", "", &provider.RefinementError{Err: err}
	}

	analysis, prompt, err := textutil.SplitTaggedPrompt(raw)
	if err != nil {
		return "", "", &provider.RefinementError{Err: err}
	}
	return analysis, prompt, nil
}

// Refine rewrites the prompt from the critique.
func (c *Client) Refine(ctx context.Context, goal, priorPrompt, critique string) (string, error) {
	raw, err := c.generateText(ctx, assets.RefineSystemPrompt, c.prompts.RenderRefine(goal, priorPrompt, critique))
	if err != nil {
		return "", &provider.RefinementError{Err: err}
	}

	cleaned, err := textutil.StripReasoningSegment(raw)
	if err != nil {
		return "", &provider.RefinementError{Err: err}
	}
	prompt, err := textutil.ExtractPromptTag(cleaned)
	if err != nil {
		return "", &provider.RefinementError{Err: err}
	}
	return prompt, nil
}

func (c *Client) generateText(ctx context.Context, system, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		},
		Temperature: genai.Ptr[float32](0.7),
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.textModel, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("empty response from Gemini API")
	}

	text := resp.Text()
	log.Debug().
		Str("model", c.textModel).
		Int("response_length", len(text)).
		Dur("duration", time.Since(start)).
		Msg("Gemini text generation complete")

	return text, nil
}

// mimeTypeFor maps generated image extensions to MIME types. Generation
// backends produce PNG by default.
func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
