// Package engine drives one refinement session: generate an image, judge it
// against the goal, rewrite the prompt, repeat until the score clears the
// threshold or the iteration budget runs out.
//
// The orchestrator owns its run's state for the duration of Execute. All
// visible mutation goes through the run registry, whose append is the atomic
// unit pollers observe. Iterations are strictly sequential: an image's score
// must be known before the next prompt exists.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/imageloop/imageloop/internal/provider"
	"github.com/imageloop/imageloop/internal/run"
	"github.com/imageloop/imageloop/internal/workflow"
)

// Options bounds and tunes one run.
type Options struct {
	// GenerationRetries is the attempt budget per iteration; exhaustion
	// fails the run.
	GenerationRetries int
	// GenerationTimeout bounds each wait for the backend to produce an image.
	GenerationTimeout time.Duration
	// MaxEvalFailures caps consecutive evaluator failures before the run
	// fails instead of looping blind.
	MaxEvalFailures int
	// Seed overrides per-iteration seed selection; nil draws fresh random
	// seeds. Tests use this for reproducibility.
	Seed func() uint64
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.GenerationRetries <= 0 {
		opts.GenerationRetries = 2
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 5 * time.Minute
	}
	if opts.MaxEvalFailures <= 0 {
		opts.MaxEvalFailures = 3
	}
	if opts.Seed == nil {
		opts.Seed = workflow.NewSeed
	}
	return opts
}

// Orchestrator executes one run against its collaborators.
type Orchestrator struct {
	registry  *run.Registry
	runID     string
	template  *workflow.Template
	generator provider.Generator
	evaluator provider.Evaluator
	// refiner is optional: without one, iteration 1 uses the raw goal and
	// later iterations reuse the previous prompt.
	refiner   provider.Refiner
	artifacts *run.ArtifactWriter
	opts      Options
}

// New wires an orchestrator for the run already registered under runID.
func New(
	registry *run.Registry,
	runID string,
	template *workflow.Template,
	generator provider.Generator,
	evaluator provider.Evaluator,
	refiner provider.Refiner,
	artifacts *run.ArtifactWriter,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		registry:  registry,
		runID:     runID,
		template:  template,
		generator: generator,
		evaluator: evaluator,
		refiner:   refiner,
		artifacts: artifacts,
		opts:      opts.withDefaults(),
	}
}

// Execute runs the loop to a terminal state. The returned error is non-nil
// exactly when the run finishes failed; the reason is also recorded on the
// run and visible through the status interface.
func (o *Orchestrator) Execute(ctx context.Context) error {
	r := o.registry.Snapshot(o.runID)
	if r == nil {
		return fmt.Errorf("unknown run %s", o.runID)
	}
	if r.Status.Terminal() {
		return fmt.Errorf("run %s already %s", o.runID, r.Status)
	}

	// A zero-iteration run completes without touching any provider.
	if r.MaxIterations == 0 {
		o.registry.SetStatus(o.runID, run.StatusDone, "")
		o.writeSummary()
		log.Info().Str("run", o.runID).Msg("Run complete with zero iterations")
		return nil
	}

	o.registry.SetStatus(o.runID, run.StatusRunning, "")

	prompt := o.initialPrompt(ctx, r.Goal)
	evalFailStreak := 0

	for index := 1; ; index++ {
		// Cancellation is honored only here, between iterations, so a torn
		// iteration is never left behind.
		if err := ctx.Err(); err != nil {
			return o.fail(fmt.Errorf("run canceled before iteration %d: %w", index, err))
		}

		log.Info().
			Str("run", o.runID).
			Int("iteration", index).
			Msg("Starting iteration")

		image, err := o.generate(ctx, prompt, index)
		if err != nil {
			// Retry budget exhausted. The run fails with the current
			// iteration absent from history; nothing is fabricated.
			return o.fail(fmt.Errorf("iteration %d: %w", index, err))
		}

		eval, evalErr := o.evaluator.Evaluate(ctx, image, r.Goal)
		if evalErr != nil {
			evalFailStreak++
			log.Warn().Err(evalErr).
				Str("run", o.runID).
				Int("iteration", index).
				Int("consecutive_failures", evalFailStreak).
				Msg("Evaluation failed, recording iteration without a score")
			eval = &provider.Evaluation{}
		} else {
			evalFailStreak = 0
		}

		it := run.Iteration{
			Index:     index,
			Prompt:    prompt,
			ImagePath: string(image),
			Score:     eval.Score,
			Critique:  eval.Critique,
			Timestamp: time.Now(),
		}

		// An absent score never satisfies the success condition.
		success := eval.Score != nil && *eval.Score >= r.SuccessThreshold
		exhausted := index == r.MaxIterations

		if success || exhausted {
			o.registry.Append(o.runID, it)
			o.writeIteration(it, "")
			o.registry.SetStatus(o.runID, run.StatusDone, "")
			o.writeSummary()

			evt := log.Info().
				Str("run", o.runID).
				Int("iterations", index)
			if eval.Score != nil {
				evt = evt.Float64("score", *eval.Score)
			}
			evt.Bool("threshold_met", success).Msg("Run complete")
			return nil
		}

		if evalFailStreak >= o.opts.MaxEvalFailures {
			o.registry.Append(o.runID, it)
			o.writeIteration(it, "")
			return o.fail(fmt.Errorf("evaluator failed %d consecutive iterations: %w", evalFailStreak, evalErr))
		}

		next, refineErr := o.refine(ctx, r.Goal, prompt, eval.Critique)
		if refineErr != nil {
			// Malformed refiner output is contained: reuse the prior prompt
			// and record the failure on the iteration.
			log.Warn().Err(refineErr).
				Str("run", o.runID).
				Int("iteration", index).
				Msg("Refinement failed, reusing prior prompt")
			it.RefineError = refineErr.Error()
			next = prompt
		}

		o.registry.Append(o.runID, it)
		o.writeIteration(it, next)
		prompt = next
	}
}

// initialPrompt derives iteration 1's prompt. With a refiner configured, a
// one-time goal-understanding call produces it; otherwise (or if that call
// fails) the raw goal is used.
func (o *Orchestrator) initialPrompt(ctx context.Context, goal string) string {
	if o.refiner == nil {
		return goal
	}

	analysis, prompt, err := o.refiner.UnderstandGoal(ctx, goal)
	if err != nil {
		log.Warn().Err(err).Str("run", o.runID).Msg("Goal understanding failed, using raw goal as initial prompt")
		return goal
	}

	log.Info().
		Str("run", o.runID).
		Int("analysis_length", len(analysis)).
		Msg("Goal understood")
	if o.artifacts != nil {
		if err := o.artifacts.WriteGoalAnalysis(goal, analysis, prompt); err != nil {
			log.Warn().Err(err).Msg("Failed to write goal analysis artifact")
		}
	}
	return prompt
}

// generate binds the prompt and a fresh seed into a private copy of the
// template and drives the backend, retrying within the attempt budget.
func (o *Orchestrator) generate(ctx context.Context, prompt string, index int) (provider.ImageRef, error) {
	var lastErr error

	for attempt := 1; attempt <= o.opts.GenerationRetries; attempt++ {
		seed := o.opts.Seed()
		graph := o.template.Instantiate(prompt, seed, fmt.Sprintf("iteration_%d", index))

		log.Debug().
			Str("run", o.runID).
			Int("iteration", index).
			Int("attempt", attempt).
			Uint64("seed", seed).
			Msg("Submitting workflow")

		handle, err := o.generator.Submit(ctx, graph)
		if err == nil {
			var image provider.ImageRef
			image, err = o.generator.AwaitResult(ctx, handle, o.opts.GenerationTimeout)
			if err == nil {
				return image, nil
			}
		}

		lastErr = err
		log.Warn().Err(err).
			Str("run", o.runID).
			Int("iteration", index).
			Int("attempt", attempt).
			Int("budget", o.opts.GenerationRetries).
			Msg("Generation attempt failed")
	}

	return "", fmt.Errorf("generation failed after %d attempts: %w", o.opts.GenerationRetries, lastErr)
}

// refine obtains the next prompt, or echoes the current one when no refiner
// is configured.
func (o *Orchestrator) refine(ctx context.Context, goal, prompt, critique string) (string, error) {
	if o.refiner == nil {
		return prompt, nil
	}
	return o.refiner.Refine(ctx, goal, prompt, critique)
}

// fail records the terminal failure with its human-readable reason.
func (o *Orchestrator) fail(err error) error {
	o.registry.SetStatus(o.runID, run.StatusFailed, err.Error())
	o.writeSummary()
	log.Error().Err(err).Str("run", o.runID).Msg("Run failed")
	return err
}

func (o *Orchestrator) writeIteration(it run.Iteration, promptAfter string) {
	if o.artifacts == nil {
		return
	}
	if err := o.artifacts.WriteIteration(it, promptAfter); err != nil {
		log.Warn().Err(err).Int("iteration", it.Index).Msg("Failed to write iteration artifact")
	}
}

func (o *Orchestrator) writeSummary() {
	if o.artifacts == nil {
		return
	}
	if r := o.registry.Snapshot(o.runID); r != nil {
		if err := o.artifacts.WriteSummary(r); err != nil {
			log.Warn().Err(err).Msg("Failed to write run summary artifact")
		}
	}
}
