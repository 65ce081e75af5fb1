package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProvider indicates the orchestrator has no model backend.
	ErrNoProvider = errors.New("no provider configured")

	// ErrMaxIterations indicates the model-call cap was reached.
	ErrMaxIterations = errors.New("max iterations reached")
)

// LoopError wraps a failure with the phase and iteration where it occurred.
type LoopError struct {
	Phase     Phase
	Iteration int
	Cause     error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("agent loop failed in phase %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
}

func (e *LoopError) Unwrap() error { return e.Cause }
