package run

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the cross-run shared map of run id to run state, polled by the
// web layer while orchestrators execute. All mutation goes through Registry
// methods under one lock, so a reader observes either the pre-append or the
// post-append state of a run, never a partially constructed iteration.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

// Create registers a new pending run and returns its snapshot.
func (reg *Registry) Create(name, goal string, maxIterations int, successThreshold float64) *Run {
	r := &Run{
		ID:               uuid.NewString(),
		Name:             name,
		Goal:             goal,
		Status:           StatusPending,
		CreatedAt:        time.Now(),
		MaxIterations:    maxIterations,
		SuccessThreshold: successThreshold,
	}

	reg.mu.Lock()
	reg.runs[r.ID] = r
	reg.mu.Unlock()

	return r.clone()
}

// Snapshot returns a deep copy of the run, or nil if the id is unknown.
func (reg *Registry) Snapshot(id string) *Run {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.runs[id]
	if !ok {
		return nil
	}
	return r.clone()
}

// List returns snapshots of all runs, newest first.
func (reg *Registry) List() []*Run {
	reg.mu.RLock()
	out := make([]*Run, 0, len(reg.runs))
	for _, r := range reg.runs {
		out = append(out, r.clone())
	}
	reg.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// SetStatus transitions a run's status. Transitions out of a terminal state
// are ignored — done and failed are final.
func (reg *Registry) SetStatus(id string, status Status, errMsg string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.runs[id]
	if !ok || r.Status.Terminal() {
		return
	}
	r.Status = status
	if errMsg != "" {
		r.Error = errMsg
	}
}

// Append adds a completed iteration to the run's history. The append is the
// atomic unit of visibility for pollers.
func (reg *Registry) Append(id string, it Iteration) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.runs[id]; ok {
		r.Iterations = append(r.Iterations, it)
	}
}
