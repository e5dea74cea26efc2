package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunState is the run-level state machine:
//
//	NOT_STARTED → VALIDATING → VALIDATION_FAILED
//	                         → RUNNING → SUCCEEDED | CANCELLED | MAX_REACHED | EXECUTION_FAILED
//
// A run cancelled while validating also ends in CANCELLED.
type RunState string

const (
	StateNotStarted      RunState = "NOT_STARTED"
	StateValidating      RunState = "VALIDATING"
	StateValidationFail  RunState = "VALIDATION_FAILED"
	StateRunning         RunState = "RUNNING"
	StateSucceeded       RunState = "SUCCEEDED"
	StateCancelled       RunState = "CANCELLED"
	StateMaxReached      RunState = "MAX_REACHED"
	StateExecutionFailed RunState = "EXECUTION_FAILED"
)

var transitions = map[RunState][]RunState{
	StateNotStarted: {StateValidating},
	StateValidating: {StateValidationFail, StateRunning, StateCancelled},
	StateRunning:    {StateSucceeded, StateCancelled, StateMaxReached, StateExecutionFailed},
}

// Terminal reports whether no further transition is possible.
func (s RunState) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to RunState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Summary is the persisted record of a finished run.
type Summary struct {
	RunID    string    `json:"run_id"`
	Script   string    `json:"script"`
	State    RunState  `json:"state"`
	Posted   int       `json:"posted"`
	Simulate bool      `json:"simulate"`
	Duration string    `json:"duration"`
	Failure  string    `json:"failure,omitempty"`
	Error    string    `json:"error,omitempty"`
	Finished time.Time `json:"finished"`
}

// SaveSummary writes <dir>/<run_id>/summary.json.
func SaveSummary(dir string, s *Summary) error {
	runDir := filepath.Join(dir, s.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "summary.json"), data, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// LoadSummary reads a persisted run summary.
func LoadSummary(dir, runID string) (*Summary, error) {
	data, err := os.ReadFile(filepath.Join(dir, runID, "summary.json"))
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	return &s, nil
}
