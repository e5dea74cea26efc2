package engine

import (
	"testing"
	"time"
)

func TestSaveLoadSummary(t *testing.T) {
	dir := t.TempDir()
	s := &Summary{
		RunID:    "test-run-123",
		Script:   "orders",
		State:    StateMaxReached,
		Posted:   5,
		Duration: "1.2s",
		Finished: time.Now().UTC().Truncate(time.Second),
	}
	if err := SaveSummary(dir, s); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	loaded, err := LoadSummary(dir, "test-run-123")
	if err != nil {
		t.Fatalf("LoadSummary: %v", err)
	}
	if loaded.State != StateMaxReached {
		t.Errorf("State = %q, want MAX_REACHED", loaded.State)
	}
	if loaded.Posted != 5 {
		t.Errorf("Posted = %d, want 5", loaded.Posted)
	}
	if !loaded.Finished.Equal(s.Finished) {
		t.Errorf("Finished = %v, want %v", loaded.Finished, s.Finished)
	}
}

func TestLoadSummary_NotFound(t *testing.T) {
	if _, err := LoadSummary(t.TempDir(), "nonexistent-run"); err == nil {
		t.Error("expected error for nonexistent summary")
	}
}

func TestRunState_Transitions(t *testing.T) {
	allowed := [][2]RunState{
		{StateNotStarted, StateValidating},
		{StateValidating, StateValidationFail},
		{StateValidating, StateRunning},
		{StateValidating, StateCancelled},
		{StateRunning, StateMaxReached},
		{StateRunning, StateExecutionFailed},
	}
	for _, p := range allowed {
		if !CanTransition(p[0], p[1]) {
			t.Errorf("%s -> %s should be allowed", p[0], p[1])
		}
	}
	if CanTransition(StateNotStarted, StateRunning) {
		t.Error("NOT_STARTED -> RUNNING should not be allowed")
	}
	if CanTransition(StateSucceeded, StateRunning) {
		t.Error("terminal state should not transition")
	}
	for _, s := range []RunState{StateSucceeded, StateCancelled, StateMaxReached, StateExecutionFailed, StateValidationFail} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if StateRunning.Terminal() {
		t.Error("RUNNING is not terminal")
	}
}
