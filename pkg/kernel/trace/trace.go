// Package trace writes a run's events as an append-only, hash-chained
// JSONL stream.
package trace

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ormasoftchile/msgrun/pkg/kernel/result"
)

// SigningKeyEnv names the env var holding the HMAC key for run signatures.
const SigningKeyEnv = "MSGRUN_TRACE_SIGNING_KEY"

// EventType is the lower-case action_kind pair, e.g. "step_start".
type EventType string

const (
	EventScriptStart      EventType = "script_start"
	EventScriptSuccess    EventType = "script_success"
	EventScriptCancelled  EventType = "script_cancelled"
	EventScriptMaxReached EventType = "script_max_reached"
	EventStepStart        EventType = "step_start"
	EventStepSuccess      EventType = "step_success"
	EventStepFail         EventType = "step_fail"
)

// TypeOf returns the trace event type for an emitted result.
func TypeOf(r result.ScriptStepResult) EventType {
	return EventType(strings.ToLower(string(r.Action) + "_" + string(r.Kind)))
}

var genesisHash = strings.Repeat("0", 64)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	PrevHash  string         `json:"prev_hash"`
	Data      map[string]any `json:"data,omitempty"`
}

// Writer writes trace events. It implements result.Sink; write errors are
// kept and reported by Err.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	runID    string
	prevHash string
	err      error
	closer   io.Closer
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{w: w, runID: runID, prevHash: genesisHash}
}

// NewFileWriter creates a trace writer on a new JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	tw.closer = f
	return tw, nil
}

// Emit records one run event.
func (tw *Writer) Emit(r result.ScriptStepResult) {
	data := map[string]any{}
	if r.Name != "" {
		data["name"] = r.Name
	}
	if r.Failure != "" {
		data["failure"] = string(r.Failure)
	}
	if r.Message != "" {
		data["message"] = r.Message
	}
	if r.Err != nil {
		data["error"] = r.Err.Error()
	}
	if r.Template != nil {
		data["template"] = map[string]any{
			"name": r.Template.Name,
			"type": string(r.Template.Type),
			"body": r.Template.Body(),
		}
	}
	if r.Action == result.ActionScript && r.Kind != result.KindStart {
		data["posted"] = r.Posted
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()
	if r.Terminal() {
		data["chain_hash"] = tw.prevHash
		if key := os.Getenv(SigningKeyEnv); key != "" {
			data["signature"] = sign(key, tw.prevHash)
		}
	}
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	tw.write(Event{Type: TypeOf(r), Timestamp: ts.UTC(), Data: data})
}

func (tw *Writer) write(evt Event) {
	if tw.err != nil {
		return
	}
	evt.RunID = tw.runID
	evt.PrevHash = tw.prevHash
	line, err := json.Marshal(evt)
	if err != nil {
		tw.err = fmt.Errorf("marshal trace event: %w", err)
		return
	}
	if _, err := tw.w.Write(append(line, '\n')); err != nil {
		tw.err = fmt.Errorf("write trace event: %w", err)
		return
	}
	h := sha256.Sum256(line)
	tw.prevHash = hex.EncodeToString(h[:])
}

// Err returns the first write error, if any.
func (tw *Writer) Err() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.err
}

// Close closes the underlying file for writers made by NewFileWriter.
func (tw *Writer) Close() error {
	if tw.closer == nil {
		return tw.Err()
	}
	if err := tw.closer.Close(); err != nil {
		return err
	}
	return tw.Err()
}

func sign(key, chainHash string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(chainHash))
	return hex.EncodeToString(mac.Sum(nil))
}
