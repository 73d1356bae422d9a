package assets

import (
	"strings"
	"testing"
)

func TestEmbeddedPromptsPresent(t *testing.T) {
	for name, s := range map[string]string{
		"goal understanding system": GoalUnderstandingSystemPrompt,
		"analysis system":           AnalysisSystemPrompt,
		"refine system":             RefineSystemPrompt,
	} {
		if strings.TrimSpace(s) == "" {
			t.Errorf("%s prompt is empty", name)
		}
	}
}

func TestRenderDefaults(t *testing.T) {
	prompts, err := NewPromptSet("", "", "")
	if err != nil {
		t.Fatalf("NewPromptSet() error: %v", err)
	}

	goal := "a lighthouse in a storm"
	if got := prompts.RenderGoalUnderstanding(goal); !strings.Contains(got, goal) {
		t.Errorf("goal understanding prompt does not mention the goal:\n%s", got)
	}
	if got := prompts.RenderAnalysis(goal); !strings.Contains(got, goal) {
		t.Errorf("analysis prompt does not mention the goal:\n%s", got)
	}

	refined := prompts.RenderRefine(goal, "prior prompt text", "waves too calm")
	for _, want := range []string{goal, "prior prompt text", "waves too calm"} {
		if !strings.Contains(refined, want) {
			t.Errorf("refine prompt missing %q:\n%s", want, refined)
		}
	}
}

func TestOverrideReplacesTemplate(t *testing.T) {
	prompts, err := NewPromptSet("", "", "Fix this: {{.Critique}}")
	if err != nil {
		t.Fatalf("NewPromptSet() error: %v", err)
	}

	got := prompts.RenderRefine("goal", "prior", "the horizon is tilted")
	if got != "Fix this: the horizon is tilted" {
		t.Errorf("refine prompt = %q, want override output", got)
	}
}

func TestMalformedOverrideFailsAtConstruction(t *testing.T) {
	if _, err := NewPromptSet("", "{{.Unclosed", ""); err == nil {
		t.Fatal("NewPromptSet() accepted a malformed template")
	}
}
