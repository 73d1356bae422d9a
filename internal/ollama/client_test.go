package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/imageloop/imageloop/internal/assets"
	"github.com/imageloop/imageloop/internal/provider"
)

func testPrompts(t *testing.T) *assets.PromptSet {
	t.Helper()
	prompts, err := assets.NewPromptSet("", "", "")
	if err != nil {
		t.Fatalf("NewPromptSet() error: %v", err)
	}
	return prompts
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c := NewClient(Options{
		BaseURL:        ts.URL,
		VisionModel:    "llava",
		TextModel:      "llama3",
		RequestTimeout: 5 * time.Second,
	}, testPrompts(t))
	return c, ts
}

func writeTestImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.png")
	if err := os.WriteFile(path, []byte("fake-png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEvaluateParsesScore(t *testing.T) {
	var gotReq generateRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(generateResponse{
			Response: "The bicycle is present but the light is midday, not sunset.\nSCORE: 55",
		})
	})

	imagePath := writeTestImage(t)
	eval, err := c.Evaluate(context.Background(), provider.ImageRef(imagePath), "a red bicycle at sunset")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	if eval.Score == nil || *eval.Score != 55 {
		t.Errorf("score = %v, want 55", eval.Score)
	}
	if eval.Critique == "" {
		t.Error("critique is empty")
	}
	if gotReq.Model != "llava" {
		t.Errorf("model = %q, want llava", gotReq.Model)
	}
	if gotReq.Stream {
		t.Error("request asked for streaming")
	}
	if len(gotReq.Images) != 1 {
		t.Fatalf("request carried %d images, want 1", len(gotReq.Images))
	}
	decoded, err := base64.StdEncoding.DecodeString(gotReq.Images[0])
	if err != nil || string(decoded) != "fake-png-bytes" {
		t.Error("image was not base64-encoded file content")
	}
}

func TestEvaluateAbsentScore(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{
			Response: "A lovely image that matches the goal in most respects.",
		})
	})

	eval, err := c.Evaluate(context.Background(), provider.ImageRef(writeTestImage(t)), "goal")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if eval.Score != nil {
		t.Errorf("score = %v, want absent", *eval.Score)
	}
	if eval.Critique == "" {
		t.Error("critique should still carry the model's text")
	}
}

func TestEvaluateAPIError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Error: "model not found"})
	})

	_, err := c.Evaluate(context.Background(), provider.ImageRef(writeTestImage(t)), "goal")
	var evalErr *provider.EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("Evaluate() error = %v, want *EvaluationError", err)
	}
}

func TestEvaluateMissingImage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected when the image file is unreadable")
	})

	_, err := c.Evaluate(context.Background(), "/does/not/exist.png", "goal")
	var evalErr *provider.EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("Evaluate() error = %v, want *EvaluationError", err)
	}
}

func TestUnderstandGoal(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{
			Response: "<think>planning</think>Key elements: subject, mood, light.\n" +
				"<prompt>a red bicycle against a brick wall, golden hour, 85mm</prompt>",
		})
	})

	analysis, prompt, err := c.UnderstandGoal(context.Background(), "a red bicycle at sunset")
	if err != nil {
		t.Fatalf("UnderstandGoal() error: %v", err)
	}
	if prompt != "a red bicycle against a brick wall, golden hour, 85mm" {
		t.Errorf("prompt = %q", prompt)
	}
	if analysis == "" {
		t.Error("analysis is empty")
	}
}

func TestUnderstandGoalMalformedResponse(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: "no tags at all"})
	})

	_, _, err := c.UnderstandGoal(context.Background(), "goal")
	var refErr *provider.RefinementError
	if !errors.As(err, &refErr) {
		t.Fatalf("UnderstandGoal() error = %v, want *RefinementError", err)
	}
}

func TestRefine(t *testing.T) {
	var gotReq generateRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(generateResponse{
			Response: "<prompt>a red bicycle, warm rim light, deeper shadows</prompt>",
		})
	})

	prompt, err := c.Refine(context.Background(), "goal", "prior prompt", "light is flat")
	if err != nil {
		t.Fatalf("Refine() error: %v", err)
	}
	if prompt != "a red bicycle, warm rim light, deeper shadows" {
		t.Errorf("prompt = %q", prompt)
	}
	if gotReq.Model != "llama3" {
		t.Errorf("model = %q, want llama3", gotReq.Model)
	}
}

func TestRefineUnterminatedReasoning(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: "<think>cut off mid-thought"})
	})

	_, err := c.Refine(context.Background(), "goal", "prior", "critique")
	var refErr *provider.RefinementError
	if !errors.As(err, &refErr) {
		t.Fatalf("Refine() error = %v, want *RefinementError", err)
	}
}

func TestUnloadAfterUse(t *testing.T) {
	var requests []generateRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		json.NewDecoder(r.Body).Decode(&req)
		requests = append(requests, req)
		json.NewEncoder(w).Encode(generateResponse{
			Response: "<prompt>refined</prompt>",
		})
	}))
	t.Cleanup(ts.Close)

	c := NewClient(Options{
		BaseURL:        ts.URL,
		VisionModel:    "llava",
		TextModel:      "llama3",
		RequestTimeout: 5 * time.Second,
		UnloadAfterUse: true,
	}, testPrompts(t))

	if _, err := c.Refine(context.Background(), "goal", "prior", "critique"); err != nil {
		t.Fatalf("Refine() error: %v", err)
	}

	if len(requests) != 2 {
		t.Fatalf("got %d requests, want generate + unload", len(requests))
	}
	unload := requests[1]
	if unload.KeepAlive == nil || *unload.KeepAlive != 0 {
		t.Errorf("unload keep_alive = %v, want 0", unload.KeepAlive)
	}
	if unload.Model != "llama3" {
		t.Errorf("unload model = %q, want llama3", unload.Model)
	}
}
