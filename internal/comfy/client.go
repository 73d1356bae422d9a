// Package comfy implements the Generator contract against a ComfyUI-style
// HTTP backend: a workflow graph is queued with POST /prompt, completion is
// observed by polling GET /history/{id}, and the produced image is fetched
// with GET /view into the run's generations directory.
//
// This is a direct REST client with hand-rolled request/response types; the
// backend has no official Go SDK.
package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/imageloop/imageloop/internal/provider"
	"github.com/imageloop/imageloop/internal/workflow"
)

// Client talks to one ComfyUI endpoint and downloads results into outputDir.
type Client struct {
	baseURL      string
	clientID     string
	outputDir    string
	pollInterval time.Duration
	httpClient   *http.Client
}

// NewClient creates a generator client. outputDir is where produced images
// are written; it must exist before AwaitResult succeeds.
func NewClient(baseURL, outputDir string, pollInterval time.Duration) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     uuid.NewString(),
		outputDir:    outputDir,
		pollInterval: pollInterval,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// --- REST API request/response types ---

type queueRequest struct {
	Prompt   workflow.Graph `json:"prompt"`
	ClientID string         `json:"client_id"`
}

type queueResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors,omitempty"`
}

type historyEntry struct {
	Outputs map[string]nodeOutput `json:"outputs"`
	Status  *historyStatus        `json:"status,omitempty"`
}

type historyStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

type nodeOutput struct {
	Images []imageOutput `json:"images,omitempty"`
}

type imageOutput struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Submit queues a workflow graph and returns the backend's job handle.
func (c *Client) Submit(ctx context.Context, graph workflow.Graph) (provider.JobHandle, error) {
	body, err := json.Marshal(queueRequest{Prompt: graph, ClientID: c.clientID})
	if err != nil {
		return "", &provider.GenerationError{Stage: "submit", Err: fmt.Errorf("marshal graph: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", strings.NewReader(string(body)))
	if err != nil {
		return "", &provider.GenerationError{Stage: "submit", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &provider.GenerationError{Stage: "submit", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &provider.GenerationError{Stage: "submit", Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &provider.GenerationError{
			Stage: "submit",
			Err:   fmt.Errorf("backend returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
		}
	}

	var queued queueResponse
	if err := json.Unmarshal(respBody, &queued); err != nil {
		return "", &provider.GenerationError{Stage: "submit", Err: fmt.Errorf("parse response: %w", err)}
	}
	if queued.PromptID == "" {
		return "", &provider.GenerationError{Stage: "submit", Err: fmt.Errorf("backend returned no prompt_id")}
	}
	if len(queued.NodeErrors) > 0 {
		return "", &provider.GenerationError{Stage: "submit", Err: fmt.Errorf("backend rejected nodes: %v", queued.NodeErrors)}
	}

	log.Debug().
		Str("prompt_id", queued.PromptID).
		Int("queue_number", queued.Number).
		Msg("Workflow queued")

	return provider.JobHandle(queued.PromptID), nil
}

// AwaitResult polls the backend's history until the job produces an image or
// the timeout elapses, then downloads the image into the output directory.
func (c *Client) AwaitResult(ctx context.Context, handle provider.JobHandle, timeout time.Duration) (provider.ImageRef, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		entry, err := c.fetchHistory(ctx, string(handle))
		if err != nil {
			return "", err
		}
		if entry != nil {
			if img, ok := firstImage(entry); ok {
				return c.download(ctx, img)
			}
			if entry.Status != nil && entry.Status.Completed {
				return "", &provider.GenerationError{
					Stage: "await",
					Err:   fmt.Errorf("job %s completed without producing an image", handle),
				}
			}
		}

		if time.Now().After(deadline) {
			return "", &provider.GenerationError{
				Stage: "await",
				Err:   fmt.Errorf("job %s did not complete within %s", handle, timeout),
			}
		}

		select {
		case <-ctx.Done():
			return "", &provider.GenerationError{Stage: "await", Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// fetchHistory returns the job's history entry, or nil while the backend has
// not recorded the job yet.
func (c *Client) fetchHistory(ctx context.Context, promptID string) (*historyEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, &provider.GenerationError{Stage: "await", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &provider.GenerationError{Stage: "await", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &provider.GenerationError{Stage: "await", Err: fmt.Errorf("read history: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &provider.GenerationError{
			Stage: "await",
			Err:   fmt.Errorf("history returned status %d: %s", resp.StatusCode, truncate(string(body), 200)),
		}
	}

	// History is keyed by prompt id; the key is absent until the job runs.
	var history map[string]historyEntry
	if err := json.Unmarshal(body, &history); err != nil {
		return nil, &provider.GenerationError{Stage: "await", Err: fmt.Errorf("parse history: %w", err)}
	}
	entry, ok := history[promptID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// firstImage returns the first saved output image across all nodes.
func firstImage(entry *historyEntry) (imageOutput, bool) {
	for _, out := range entry.Outputs {
		for _, img := range out.Images {
			// Temp previews are not the final saved result.
			if img.Type == "temp" {
				continue
			}
			return img, true
		}
	}
	return imageOutput{}, false
}

// download fetches the image bytes via /view and writes them to outputDir.
func (c *Client) download(ctx context.Context, img imageOutput) (provider.ImageRef, error) {
	q := url.Values{}
	q.Set("filename", img.Filename)
	q.Set("subfolder", img.Subfolder)
	q.Set("type", img.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return "", &provider.GenerationError{Stage: "download", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &provider.GenerationError{Stage: "download", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &provider.GenerationError{
			Stage: "download",
			Err:   fmt.Errorf("view returned status %d for %s", resp.StatusCode, img.Filename),
		}
	}

	dest := filepath.Join(c.outputDir, filepath.Base(img.Filename))
	f, err := os.Create(dest)
	if err != nil {
		return "", &provider.GenerationError{Stage: "download", Err: fmt.Errorf("create %s: %w", dest, err)}
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return "", &provider.GenerationError{Stage: "download", Err: fmt.Errorf("write %s: %w", dest, err)}
	}
	if n == 0 {
		return "", &provider.GenerationError{Stage: "download", Err: fmt.Errorf("empty image body for %s", img.Filename)}
	}

	log.Debug().
		Str("file", dest).
		Int64("bytes", n).
		Msg("Generated image downloaded")

	return provider.ImageRef(dest), nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
