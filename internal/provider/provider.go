// Package provider defines the narrow contracts the refinement loop consumes
// from its external collaborators: an image generation backend and the
// vision/text models that evaluate results and rewrite prompts.
//
// The orchestrator depends only on these interfaces. One implementation
// exists per backend (internal/comfy for generation, internal/gemini and
// internal/ollama for evaluation and refinement), and tests substitute fakes.
package provider

import (
	"context"
	"time"

	"github.com/imageloop/imageloop/internal/workflow"
)

// JobHandle identifies a queued generation job on the backend.
type JobHandle string

// ImageRef is an opaque handle to a produced image — a local path once the
// generator has downloaded the result.
type ImageRef string

// Generator submits a workflow graph to an image generation backend and
// waits for the produced image. Submit queues the job; AwaitResult blocks up
// to timeout for completion. Failures are reported as *GenerationError so the
// caller can distinguish retryable backend trouble from everything else.
type Generator interface {
	Submit(ctx context.Context, graph workflow.Graph) (JobHandle, error)
	AwaitResult(ctx context.Context, handle JobHandle, timeout time.Duration) (ImageRef, error)
}

// Evaluation is the outcome of judging one image against the goal.
// Score is nil when the evaluator's verdict had no usable number in it —
// an absent score never counts as success.
type Evaluation struct {
	Score    *float64
	Critique string
}

// Evaluator scores a generated image against the natural-language goal.
type Evaluator interface {
	Evaluate(ctx context.Context, image ImageRef, goal string) (*Evaluation, error)
}

// Refiner produces prompts: an initial prompt derived from the goal, and a
// rewritten prompt from the previous prompt plus the evaluator's critique.
type Refiner interface {
	UnderstandGoal(ctx context.Context, goal string) (analysis, initialPrompt string, err error)
	Refine(ctx context.Context, goal, priorPrompt, critique string) (string, error)
}
