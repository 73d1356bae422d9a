package provider

import "fmt"

// GenerationError reports a failed generation attempt: backend unreachable,
// job timed out, or a malformed/missing image in the result. The orchestrator
// retries these up to its retry budget before failing the run.
type GenerationError struct {
	Stage string // "submit", "await", "download"
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s failed: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// EvaluationError reports an evaluator that was unreachable or returned an
// unparsable verdict. The iteration proceeds with the score absent; only a
// streak of consecutive evaluation failures fails the run.
type EvaluationError struct {
	Err error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation failed: %v", e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// RefinementError reports malformed refiner output, such as an unterminated
// internal-reasoning segment. The orchestrator falls back to reusing the
// prior prompt rather than aborting the run.
type RefinementError struct {
	Err error
}

func (e *RefinementError) Error() string {
	return fmt.Sprintf("refinement failed: %v", e.Err)
}

func (e *RefinementError) Unwrap() error { return e.Err }
