// Package run holds the persisted record of a refinement session: the goal,
// the per-iteration history, and the lifecycle status. A Run is owned by the
// orchestrator while it executes and is readable by the web layer at any time
// through registry snapshots.
package run

import (
	"time"
)

// Status is the lifecycle state of a run. Terminal states are final: no run
// transitions out of done or failed.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Iteration is one generate-evaluate-refine cycle and its recorded outcome.
// Indices are 1-based and strictly increasing with no gaps. An iteration is
// immutable once appended to a run's history.
type Iteration struct {
	Index     int       `json:"iteration"`
	Prompt    string    `json:"prompt"`
	ImagePath string    `json:"imagePath"`
	Score     *float64  `json:"score,omitempty"`
	Critique  string    `json:"critique,omitempty"`
	// RefineError records a refinement failure that made the loop reuse this
	// iteration's prompt for the next one.
	RefineError string    `json:"refineError,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Run is the full record of one refinement session.
type Run struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Goal             string      `json:"goal"`
	Status           Status      `json:"status"`
	Iterations       []Iteration `json:"iterations"`
	CreatedAt        time.Time   `json:"createdAt"`
	MaxIterations    int         `json:"maxIterations"`
	SuccessThreshold float64     `json:"successThreshold"`
	// Error holds the human-readable reason when Status is failed.
	Error string `json:"error,omitempty"`
}

// clone deep-copies a run so registry readers never share slices with the
// orchestrator's working copy.
func (r *Run) clone() *Run {
	cp := *r
	cp.Iterations = make([]Iteration, len(r.Iterations))
	copy(cp.Iterations, r.Iterations)
	return &cp
}
