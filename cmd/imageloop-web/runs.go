package main

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/imageloop/imageloop/internal/cli"
	"github.com/imageloop/imageloop/internal/imaging"
	"github.com/imageloop/imageloop/internal/run"
)

// server owns the launcher and the cancellation handles of in-flight runs.
type server struct {
	launcher *cli.Launcher

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newServer(launcher *cli.Launcher) *server {
	return &server{
		launcher: launcher,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// --- Run HTTP Handlers ---

// POST /api/runs starts a run; GET /api/runs lists all runs newest first.
func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleStartRun(w, r)
	case http.MethodGet:
		respondJSON(w, http.StatusOK, s.launcher.Registry.List())
	default:
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Goal             string   `json:"goal"`
		Name             string   `json:"name,omitempty"`
		MaxIterations    *int     `json:"maxIterations,omitempty"`
		SuccessThreshold *float64 `json:"successThreshold,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Goal) == "" {
		httpError(w, http.StatusBadRequest, "goal is required")
		return
	}

	cfg := s.launcher.Config
	name := req.Name
	if name == "" {
		name = time.Now().Format("20060102-150405")
	}
	maxIterations := cfg.Iterations.MaxIterations
	if req.MaxIterations != nil {
		maxIterations = *req.MaxIterations
	}
	threshold := cfg.Iterations.SuccessThreshold
	if req.SuccessThreshold != nil {
		threshold = *req.SuccessThreshold
	}
	if maxIterations < 0 {
		httpError(w, http.StatusBadRequest, "maxIterations must be >= 0")
		return
	}
	if threshold < 0 || threshold > 100 {
		httpError(w, http.StatusBadRequest, "successThreshold must be in [0,100]")
		return
	}

	rec, orch, err := s.launcher.Launch(name, req.Goal, maxIterations, threshold)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[rec.ID] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.cancels, rec.ID)
			s.mu.Unlock()
			cancel()
		}()
		if err := orch.Execute(ctx); err != nil {
			log.Warn().Err(err).Str("run", rec.ID).Msg("Run ended with failure")
		}
		s.launcher.Archive(context.Background(), rec.Name)
	}()

	respondJSON(w, http.StatusAccepted, rec)
}

// Routes under /api/runs/{id}/...
func (s *server) handleRunRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		httpError(w, http.StatusNotFound, "not found")
		return
	}

	rec := s.launcher.Registry.Snapshot(parts[0])
	if rec == nil {
		httpError(w, http.StatusNotFound, "run not found")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			httpError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		respondJSON(w, http.StatusOK, rec)
		return
	}

	switch parts[1] {
	case "cancel":
		s.handleCancel(w, r, rec)
	case "images":
		if len(parts) != 3 {
			httpError(w, http.StatusNotFound, "not found")
			return
		}
		s.handleImage(w, r, rec, parts[2])
	case "download":
		s.handleDownload(w, r, rec)
	default:
		httpError(w, http.StatusNotFound, "not found")
	}
}

// POST /api/runs/{id}/cancel stops the run at its next iteration boundary.
func (s *server) handleCancel(w http.ResponseWriter, r *http.Request, rec *run.Run) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if rec.Status.Terminal() {
		httpError(w, http.StatusConflict, "run already "+string(rec.Status))
		return
	}

	s.mu.Lock()
	cancel, ok := s.cancels[rec.ID]
	s.mu.Unlock()
	if !ok {
		httpError(w, http.StatusConflict, "run is not executing")
		return
	}

	cancel()
	log.Info().Str("run", rec.ID).Msg("Cancellation requested")
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// GET /api/runs/{id}/images/{iteration}?thumbnail=1 serves one iteration's
// image, optionally as a downscaled preview.
func (s *server) handleImage(w http.ResponseWriter, r *http.Request, rec *run.Run, iterStr string) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	index, err := strconv.Atoi(iterStr)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid iteration index")
		return
	}

	var imagePath string
	for _, it := range rec.Iterations {
		if it.Index == index {
			imagePath = it.ImagePath
			break
		}
	}
	if imagePath == "" {
		httpError(w, http.StatusNotFound, "no image for iteration")
		return
	}

	if r.URL.Query().Get("thumbnail") != "" {
		data, mimeType, err := imaging.Thumbnail(imagePath, imaging.DefaultThumbnailMaxDimension)
		if err != nil {
			log.Warn().Err(err).Str("path", imagePath).Msg("Thumbnail generation failed")
			httpError(w, http.StatusInternalServerError, "thumbnail generation failed")
			return
		}
		w.Header().Set("Content-Type", mimeType)
		w.Header().Set("Cache-Control", "private, max-age=3600")
		w.Write(data)
		return
	}

	http.ServeFile(w, r, imagePath)
}

// runDir returns the run's artifact directory.
func (s *server) runDir(rec *run.Run) string {
	return filepath.Join(s.launcher.Config.RunsDirectory, rec.Name)
}

// cancelAll stops every executing run; used during shutdown.
func (s *server) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.cancels {
		cancel()
	}
}
