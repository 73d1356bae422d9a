package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/imageloop/imageloop/internal/provider"
	"github.com/imageloop/imageloop/internal/workflow"
)

func testGraph(t *testing.T) workflow.Graph {
	t.Helper()
	g, err := workflow.Parse([]byte(`{
		"1": {"class_type": "CLIPTextEncode", "inputs": {"text": "a prompt"}},
		"2": {"class_type": "SaveImage", "inputs": {"seed": 1}}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestSubmit(t *testing.T) {
	var gotBody queueRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prompt" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(queueResponse{PromptID: "job-123", Number: 4})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, t.TempDir(), 10*time.Millisecond)
	handle, err := c.Submit(context.Background(), testGraph(t))
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if handle != "job-123" {
		t.Errorf("handle = %q, want \"job-123\"", handle)
	}
	if gotBody.ClientID == "" {
		t.Error("request carried no client_id")
	}
	if len(gotBody.Prompt) != 2 {
		t.Errorf("submitted graph has %d nodes, want 2", len(gotBody.Prompt))
	}
}

func TestSubmitBackendRejection(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "queue full", http.StatusInternalServerError)
		}},
		{"missing prompt id", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(queueResponse{})
		}},
		{"node errors", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(queueResponse{
				PromptID:   "job-1",
				NodeErrors: map[string]any{"2": "unknown class"},
			})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			c := NewClient(ts.URL, t.TempDir(), 10*time.Millisecond)
			_, err := c.Submit(context.Background(), testGraph(t))

			var genErr *provider.GenerationError
			if !errors.As(err, &genErr) {
				t.Fatalf("Submit() error = %v, want *GenerationError", err)
			}
			if genErr.Stage != "submit" {
				t.Errorf("stage = %q, want \"submit\"", genErr.Stage)
			}
		})
	}
}

func TestAwaitResultDownloadsImage(t *testing.T) {
	const promptID = "job-42"
	imageBytes := []byte("png-bytes")
	var polls int

	mux := http.NewServeMux()
	mux.HandleFunc("/history/"+promptID, func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 3 {
			// Job not recorded yet.
			json.NewEncoder(w).Encode(map[string]historyEntry{})
			return
		}
		json.NewEncoder(w).Encode(map[string]historyEntry{
			promptID: {
				Outputs: map[string]nodeOutput{
					"9": {Images: []imageOutput{
						{Filename: "preview.png", Subfolder: "", Type: "temp"},
						{Filename: "iteration_1_00001.png", Subfolder: "sub", Type: "output"},
					}},
				},
				Status: &historyStatus{Completed: true},
			},
		})
	})
	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("filename"); got != "iteration_1_00001.png" {
			t.Errorf("view filename = %q", got)
		}
		if got := r.URL.Query().Get("subfolder"); got != "sub" {
			t.Errorf("view subfolder = %q", got)
		}
		w.Write(imageBytes)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	outputDir := t.TempDir()
	c := NewClient(ts.URL, outputDir, time.Millisecond)

	ref, err := c.AwaitResult(context.Background(), promptID, time.Second)
	if err != nil {
		t.Fatalf("AwaitResult() error: %v", err)
	}

	wantPath := filepath.Join(outputDir, "iteration_1_00001.png")
	if string(ref) != wantPath {
		t.Errorf("image ref = %q, want %q", ref, wantPath)
	}
	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read downloaded image: %v", err)
	}
	if string(data) != string(imageBytes) {
		t.Error("downloaded image bytes do not match")
	}
	if polls < 3 {
		t.Errorf("polls = %d, want at least 3", polls)
	}
}

func TestAwaitResultCompletedWithoutImage(t *testing.T) {
	const promptID = "job-7"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]historyEntry{
			promptID: {
				Outputs: map[string]nodeOutput{},
				Status:  &historyStatus{Completed: true},
			},
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, t.TempDir(), time.Millisecond)
	_, err := c.AwaitResult(context.Background(), promptID, time.Second)

	var genErr *provider.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("AwaitResult() error = %v, want *GenerationError", err)
	}
	if genErr.Stage != "await" {
		t.Errorf("stage = %q, want \"await\"", genErr.Stage)
	}
}

func TestAwaitResultTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]historyEntry{})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, t.TempDir(), time.Millisecond)
	_, err := c.AwaitResult(context.Background(), "job-never", 20*time.Millisecond)

	var genErr *provider.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("AwaitResult() error = %v, want *GenerationError", err)
	}
}

func TestAwaitResultCancellation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]historyEntry{})
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	c := NewClient(ts.URL, t.TempDir(), 5*time.Millisecond)
	_, err := c.AwaitResult(ctx, "job-canceled", time.Minute)
	if err == nil {
		t.Fatal("AwaitResult() returned nil after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("AwaitResult() error = %v, want context.Canceled", err)
	}
}
