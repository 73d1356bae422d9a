// Package assets provides the embedded prompt templates for the
// goal-understanding, analysis, and refinement steps.
//
// System prompts are static; user prompts are text/template bodies rendered
// with the run's goal and iteration context. Every template can be overridden
// from the configuration file.
package assets

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"
)

// GoalUnderstandingSystemPrompt instructs the text model to analyze the goal
// and emit the initial prompt inside <prompt></prompt> tags.
//
//go:embed prompts/goal-understanding-system.txt
var GoalUnderstandingSystemPrompt string

// AnalysisSystemPrompt instructs the vision model how to judge an image
// against the goal.
//
//go:embed prompts/analysis-system.txt
var AnalysisSystemPrompt string

// RefineSystemPrompt instructs the text model to rewrite the prompt from the
// critique, with the result inside <prompt></prompt> tags.
//
//go:embed prompts/refine-system.txt
var RefineSystemPrompt string

//go:embed prompts/goal-understanding.txt
var goalUnderstandingTemplate string

//go:embed prompts/analysis.txt
var analysisTemplate string

//go:embed prompts/refine.txt
var refineTemplate string

// PromptData holds the variables available to the user prompt templates.
type PromptData struct {
	Goal        string
	PriorPrompt string
	Critique    string
}

// PromptSet is the parsed trio of user prompt templates used by one run.
type PromptSet struct {
	goal     *template.Template
	analysis *template.Template
	refine   *template.Template
}

// NewPromptSet parses the prompt templates, substituting any non-empty
// override for the embedded default. Malformed overrides fail here, at
// startup, rather than mid-run.
func NewPromptSet(goalOverride, analysisOverride, refineOverride string) (*PromptSet, error) {
	goal, err := parsePrompt("goal_understanding", goalOverride, goalUnderstandingTemplate)
	if err != nil {
		return nil, err
	}
	analysis, err := parsePrompt("analysis", analysisOverride, analysisTemplate)
	if err != nil {
		return nil, err
	}
	refine, err := parsePrompt("refine", refineOverride, refineTemplate)
	if err != nil {
		return nil, err
	}
	return &PromptSet{goal: goal, analysis: analysis, refine: refine}, nil
}

func parsePrompt(name, override, fallback string) (*template.Template, error) {
	body := fallback
	if override != "" {
		body = override
	}
	tmpl, err := template.New(name).Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s prompt template: %w", name, err)
	}
	return tmpl, nil
}

// RenderGoalUnderstanding renders the goal-understanding user prompt.
func (p *PromptSet) RenderGoalUnderstanding(goal string) string {
	return render(p.goal, PromptData{Goal: goal})
}

// RenderAnalysis renders the image analysis user prompt.
func (p *PromptSet) RenderAnalysis(goal string) string {
	return render(p.analysis, PromptData{Goal: goal})
}

// RenderRefine renders the prompt-refinement user prompt.
func (p *PromptSet) RenderRefine(goal, priorPrompt, critique string) string {
	return render(p.refine, PromptData{Goal: goal, PriorPrompt: priorPrompt, Critique: critique})
}

func render(tmpl *template.Template, data PromptData) string {
	var buf bytes.Buffer
	// Execution cannot fail for these templates: the data type is fixed and
	// parse errors were rejected at construction.
	_ = tmpl.Execute(&buf, data)
	return buf.String()
}
