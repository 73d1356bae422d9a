package run

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// ArtifactWriter persists the structured audit trail of a run under its own
// directory:
//
//	<runs>/<name>/generations/   one image per completed iteration
//	<runs>/<name>/logs/          goal analysis + per-iteration JSON logs
//	<runs>/<name>/run.json       final summary for UI replay
type ArtifactWriter struct {
	dir string
}

// NewArtifactWriter creates the run directory layout.
func NewArtifactWriter(runsDir, runName string) (*ArtifactWriter, error) {
	dir := filepath.Join(runsDir, runName)
	for _, d := range []string{dir, filepath.Join(dir, "generations"), filepath.Join(dir, "logs")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create run directory %s: %w", d, err)
		}
	}
	return &ArtifactWriter{dir: dir}, nil
}

// Dir returns the run's root directory.
func (w *ArtifactWriter) Dir() string { return w.dir }

// GenerationsDir returns the directory generated images are downloaded into.
func (w *ArtifactWriter) GenerationsDir() string {
	return filepath.Join(w.dir, "generations")
}

// goalAnalysisLog mirrors the goal_analysis.json layout used by run viewers.
type goalAnalysisLog struct {
	Goal          string    `json:"goal"`
	Analysis      string    `json:"analysis"`
	InitialPrompt string    `json:"initial_prompt"`
	Timestamp     time.Time `json:"timestamp"`
}

// WriteGoalAnalysis records the one-time goal-understanding step.
func (w *ArtifactWriter) WriteGoalAnalysis(goal, analysis, initialPrompt string) error {
	return w.writeJSON(filepath.Join(w.dir, "logs", "goal_analysis.json"), goalAnalysisLog{
		Goal:          goal,
		Analysis:      analysis,
		InitialPrompt: initialPrompt,
		Timestamp:     time.Now(),
	})
}

// iterationLog is the per-iteration audit record.
type iterationLog struct {
	Iteration    int       `json:"iteration"`
	PromptBefore string    `json:"prompt_before"`
	Score        *float64  `json:"score,omitempty"`
	Critique     string    `json:"critique,omitempty"`
	PromptAfter  string    `json:"prompt_after,omitempty"`
	RefineError  string    `json:"refine_error,omitempty"`
	ImagePath    string    `json:"image_path"`
	Timestamp    time.Time `json:"timestamp"`
}

// WriteIteration records one completed cycle. promptAfter is the refined
// prompt that will seed the next iteration; empty on the final iteration.
func (w *ArtifactWriter) WriteIteration(it Iteration, promptAfter string) error {
	name := fmt.Sprintf("iteration_%d.json", it.Index)
	return w.writeJSON(filepath.Join(w.dir, "logs", name), iterationLog{
		Iteration:    it.Index,
		PromptBefore: it.Prompt,
		Score:        it.Score,
		Critique:     it.Critique,
		PromptAfter:  promptAfter,
		RefineError:  it.RefineError,
		ImagePath:    it.ImagePath,
		Timestamp:    it.Timestamp,
	})
}

// WriteSummary records the final run state.
func (w *ArtifactWriter) WriteSummary(r *Run) error {
	return w.writeJSON(filepath.Join(w.dir, "run.json"), r)
}

func (w *ArtifactWriter) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("Wrote run artifact")
	return nil
}
