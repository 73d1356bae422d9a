// Package ollama implements the Evaluator and Refiner contracts against a
// local Ollama endpoint: a vision model judges generated images and a text
// model rewrites prompts.
package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/imageloop/imageloop/internal/assets"
	"github.com/imageloop/imageloop/internal/provider"
	"github.com/imageloop/imageloop/internal/textutil"
)

// Client talks to one Ollama endpoint.
type Client struct {
	baseURL     string
	visionModel string
	textModel   string
	prompts     *assets.PromptSet
	httpClient  *http.Client

	// unloadAfterUse frees the model between calls so the generation backend
	// can have the GPU back while the next image renders.
	unloadAfterUse bool
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	VisionModel    string
	TextModel      string
	RequestTimeout time.Duration
	UnloadAfterUse bool
}

// NewClient creates an Ollama client.
func NewClient(opts Options, prompts *assets.PromptSet) *Client {
	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		visionModel:    opts.VisionModel,
		textModel:      opts.TextModel,
		prompts:        prompts,
		unloadAfterUse: opts.UnloadAfterUse,
		httpClient: &http.Client{
			Timeout: opts.RequestTimeout,
		},
	}
}

// --- REST API request/response types ---

type generateRequest struct {
	Model     string          `json:"model"`
	Prompt    string          `json:"prompt"`
	System    string          `json:"system,omitempty"`
	Images    []string        `json:"images,omitempty"` // base64
	Stream    bool            `json:"stream"`
	Options   generateOptions `json:"options"`
	KeepAlive *int            `json:"keep_alive,omitempty"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// generate performs one non-streaming completion call.
func (c *Client) generate(ctx context.Context, model, system, prompt string, images []string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:   model,
		Prompt:  prompt,
		System:  system,
		Images:  images,
		Stream:  false,
		Options: generateOptions{Temperature: 0.7},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var gen generateResponse
	if err := json.Unmarshal(respBody, &gen); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if gen.Error != "" {
		return "", fmt.Errorf("API error: %s", gen.Error)
	}

	log.Debug().
		Str("model", model).
		Int("response_length", len(gen.Response)).
		Dur("duration", time.Since(start)).
		Msg("Ollama generation complete")

	if c.unloadAfterUse {
		c.unload(ctx, model)
	}

	return gen.Response, nil
}

// unload asks Ollama to drop the model from memory. Failures are logged and
// otherwise ignored; the next call simply pays the load cost again.
func (c *Client) unload(ctx context.Context, model string) {
	zero := 0
	body, _ := json.Marshal(generateRequest{Model: model, KeepAlive: &zero})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("model", model).Msg("Failed to unload Ollama model")
		return
	}
	resp.Body.Close()
	log.Debug().Str("model", model).Msg("Ollama model unloaded")
}

// Evaluate sends the image to the vision model and parses the score out of
// the critique. A critique without a usable number yields an absent score,
// not an error.
func (c *Client) Evaluate(ctx context.Context, image provider.ImageRef, goal string) (*provider.Evaluation, error) {
	data, err := os.ReadFile(string(image))
	if err != nil {
		return nil, &provider.EvaluationError{Err: fmt.Errorf("read image %s: %w", image, err)}
	}

	prompt := c.prompts.RenderAnalysis(goal) +
		"\n\nEnd your response with a line of the form:\nSCORE: <number from 0 to 100>"

	raw, err := c.generate(ctx, c.visionModel, assets.AnalysisSystemPrompt, prompt,
		[]string{base64.StdEncoding.EncodeToString(data)})
	if err != nil {
		return nil, &provider.EvaluationError{Err: err}
	}

	critique, err := textutil.StripReasoningSegment(raw)
	if err != nil {
		return nil, &provider.EvaluationError{Err: err}
	}

	eval := &provider.Evaluation{Critique: critique}
	if score, ok := textutil.ParseScore(critique); ok {
		eval.Score = &score
	} else {
		log.Warn().Str("model", c.visionModel).Msg("Evaluation critique contained no usable score")
	}
	return eval, nil
}

// UnderstandGoal runs the one-time goal analysis and extracts the initial
// prompt from the tagged section of the response.
func (c *Client) UnderstandGoal(ctx context.Context, goal string) (string, string, error) {
	raw, err := c.generate(ctx, c.textModel, assets.GoalUnderstandingSystemPrompt,
		c.prompts.RenderGoalUnderstanding(goal), nil)
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
	raw, err := c.generate(ctx, c.textModel, assets.RefineSystemPrompt,
		c.prompts.RenderRefine(goal, priorPrompt, critique), nil)
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

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
