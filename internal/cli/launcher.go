// Package cli wires configuration into running components. All three entry
// points (the CLI, the web server, and the MCP server) build a Launcher and
// start runs through it, so provider selection and run setup live in exactly
// one place.
package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/imageloop/imageloop/internal/assets"
	"github.com/imageloop/imageloop/internal/auth"
	"github.com/imageloop/imageloop/internal/comfy"
	"github.com/imageloop/imageloop/internal/config"
	"github.com/imageloop/imageloop/internal/engine"
	"github.com/imageloop/imageloop/internal/gemini"
	"github.com/imageloop/imageloop/internal/ollama"
	"github.com/imageloop/imageloop/internal/provider"
	"github.com/imageloop/imageloop/internal/run"
	"github.com/imageloop/imageloop/internal/s3mirror"
	"github.com/imageloop/imageloop/internal/workflow"
)

// modelClient is implemented by every provider backend: the same client
// serves both the evaluation and refinement roles.
type modelClient interface {
	provider.Evaluator
	provider.Refiner
}

// Launcher holds the long-lived collaborators shared by every run.
type Launcher struct {
	Config    *config.Config
	Registry  *run.Registry
	Template  *workflow.Template
	evaluator provider.Evaluator
	refiner   provider.Refiner
	mirror    *s3mirror.Mirror
}

// NewLauncher loads the workflow template, parses prompt templates, and
// connects the configured providers. Structural template problems and missing
// credentials surface here, before any run starts.
func NewLauncher(ctx context.Context, cfg *config.Config) (*Launcher, error) {
	template, err := workflow.LoadFile(cfg.ComfyUI.WorkflowTemplate)
	if err != nil {
		return nil, err
	}

	prompts, err := assets.NewPromptSet(
		cfg.Prompts.GoalUnderstanding,
		cfg.Prompts.Analysis,
		cfg.Prompts.Refine,
	)
	if err != nil {
		return nil, err
	}

	evaluator, refiner, err := buildProviders(ctx, cfg, prompts)
	if err != nil {
		return nil, err
	}

	var mirror *s3mirror.Mirror
	if cfg.Archive.Bucket != "" {
		mirror, err = s3mirror.New(ctx, cfg.Archive.Bucket, cfg.Archive.Prefix, cfg.Archive.Region)
		if err != nil {
			return nil, err
		}
	}

	return &Launcher{
		Config:    cfg,
		Registry:  run.NewRegistry(),
		Template:  template,
		evaluator: evaluator,
		refiner:   refiner,
		mirror:    mirror,
	}, nil
}

// buildProviders resolves the evaluation and text roles to backend clients.
// When both roles name the same provider they share one client.
func buildProviders(ctx context.Context, cfg *config.Config, prompts *assets.PromptSet) (provider.Evaluator, provider.Refiner, error) {
	cache := make(map[string]modelClient, 2)

	clientFor := func(name string) (modelClient, error) {
		if c, ok := cache[name]; ok {
			return c, nil
		}
		var c modelClient
		switch name {
		case "ollama":
			c = ollama.NewClient(ollama.Options{
				BaseURL:        cfg.Ollama.APIURL,
				VisionModel:    cfg.Ollama.VisionModel,
				TextModel:      cfg.Ollama.TextModel,
				RequestTimeout: cfg.Ollama.RequestTimeout.Std(),
				UnloadAfterUse: cfg.Ollama.UnloadAfterUse,
			}, prompts)
		case "gemini":
			key, err := auth.GetAPIKey(cfg.Gemini.APIKey)
			if err != nil {
				return nil, err
			}
			c, err = gemini.NewClient(ctx, key, cfg.Gemini.TextModel, cfg.Gemini.VisionModel, prompts)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unsupported provider %q", name)
		}
		cache[name] = c
		return c, nil
	}

	evaluator, err := clientFor(cfg.Evaluation.Provider)
	if err != nil {
		return nil, nil, fmt.Errorf("evaluation provider: %w", err)
	}
	refiner, err := clientFor(cfg.Text.Provider)
	if err != nil {
		return nil, nil, fmt.Errorf("text provider: %w", err)
	}

	log.Info().
		Str("evaluation", cfg.Evaluation.Provider).
		Str("text", cfg.Text.Provider).
		Msg("Providers connected")

	return evaluator, refiner, nil
}

// Launch registers a run and builds its orchestrator. The caller decides
// whether Execute runs synchronously (CLI) or in a goroutine (web, MCP).
// maxIterations and successThreshold override the configured values.
func (l *Launcher) Launch(name, goal string, maxIterations int, successThreshold float64) (*run.Run, *engine.Orchestrator, error) {
	r := l.Registry.Create(name, goal, maxIterations, successThreshold)

	artifacts, err := run.NewArtifactWriter(l.Config.RunsDirectory, name)
	if err != nil {
		l.Registry.SetStatus(r.ID, run.StatusFailed, err.Error())
		return nil, nil, err
	}

	// Each run gets its own generator client so downloaded images land in the
	// run's generations directory.
	generator := comfy.NewClient(
		l.Config.ComfyUI.APIURL,
		artifacts.GenerationsDir(),
		l.Config.ComfyUI.PollInterval.Std(),
	)

	orch := engine.New(l.Registry, r.ID, l.Template, generator, l.evaluator, l.refiner, artifacts, engine.Options{
		GenerationRetries: l.Config.Iterations.GenerationRetries,
		GenerationTimeout: l.Config.ComfyUI.GenerationTimeout.Std(),
		MaxEvalFailures:   l.Config.Iterations.MaxEvalFailures,
	})

	log.Info().
		Str("run", r.ID).
		Str("name", name).
		Int("max_iterations", maxIterations).
		Float64("success_threshold", successThreshold).
		Msg("Run launched")

	return r, orch, nil
}

// Archive mirrors a finished run's artifacts to S3 when archiving is
// configured; otherwise it is a no-op.
func (l *Launcher) Archive(ctx context.Context, runName string) {
	if l.mirror == nil {
		return
	}
	dir := filepath.Join(l.Config.RunsDirectory, runName)
	if err := l.mirror.MirrorRun(ctx, dir, runName); err != nil {
		log.Warn().Err(err).Str("run_name", runName).Msg("Failed to mirror run to S3")
	}
}
