// Package result defines the events a script run emits and the sinks that
// receive them.
package result

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ormasoftchile/msgrun/pkg/kernel/template"
)

// Action says what an event is about.
type Action string

const (
	ActionScript      Action = "SCRIPT"
	ActionTemplate    Action = "TEMPLATE"
	ActionSession     Action = "SESSION"
	ActionVariable    Action = "VARIABLE"
	ActionDataFile    Action = "DATAFILE"
	ActionDestination Action = "DESTINATION"
	ActionStep        Action = "STEP"
	ActionPause       Action = "PAUSE"
	ActionStepPause   Action = "STEP_PAUSE" // pause after a sent message
)

// Kind is the outcome of the occurrence.
type Kind string

const (
	KindStart      Kind = "START"
	KindSuccess    Kind = "SUCCESS"
	KindFail       Kind = "FAIL"
	KindCancelled  Kind = "CANCELLED"
	KindMaxReached Kind = "MAX_REACHED"
)

// FailureKind classifies a FAIL event.
type FailureKind string

const (
	TemplateNotFound       FailureKind = "TEMPLATE_NOT_FOUND"
	SessionNotFound        FailureKind = "SESSION_NOT_FOUND"
	VariableNotFound       FailureKind = "VARIABLE_NOT_FOUND"
	DataFilePrefixNotFound FailureKind = "DATAFILE_PREFIX_NOT_FOUND"
	DataFileNotFound       FailureKind = "DATAFILE_NOT_FOUND"
	ConnectionFailed       FailureKind = "CONNECTION_FAILED"
	DestinationNotFound    FailureKind = "DESTINATION_NOT_FOUND"
	ValidationException    FailureKind = "VALIDATION_EXCEPTION"
	ExecutionFailed        FailureKind = "EXECUTION_FAILED"
)

// ScriptStepResult is one emitted event. Values are never modified after
// emission.
type ScriptStepResult struct {
	Time    time.Time
	Action  Action
	Kind    Kind
	Failure FailureKind // set when Kind is FAIL
	Name    string      // script, template, session, destination or variable name
	Message string
	// Template is the substituted copy for STEP START events.
	Template *template.Template
	// Posted is the run-wide posted count on SCRIPT terminal events.
	Posted int
	Err    error
}

// Label renders action and kind in camel case, e.g. "StepStart" or
// "ScriptMaxReached".
func (r ScriptStepResult) Label() string {
	return camel(string(r.Action)) + camel(string(r.Kind))
}

// Terminal reports whether r ends a run.
func (r ScriptStepResult) Terminal() bool {
	switch {
	case r.Action == ActionScript && r.Kind != KindStart:
		return true
	case r.Kind == KindFail:
		return true
	}
	return false
}

func (r ScriptStepResult) String() string {
	var b strings.Builder
	b.WriteString(r.Label())
	if r.Failure != "" {
		fmt.Fprintf(&b, " [%s]", r.Failure)
	}
	if r.Name != "" {
		fmt.Fprintf(&b, " %s", r.Name)
	}
	if r.Message != "" {
		fmt.Fprintf(&b, ": %s", r.Message)
	}
	if r.Err != nil {
		fmt.Fprintf(&b, " (%v)", r.Err)
	}
	return b.String()
}

func camel(s string) string {
	var b strings.Builder
	for _, part := range strings.Split(strings.ToLower(s), "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return b.String()
}

// Sink receives events synchronously, in emission order.
type Sink interface {
	Emit(r ScriptStepResult)
}

// Clearer is implemented by sinks that keep an execution log the engine
// may clear before a run.
type Clearer interface {
	Clear()
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ScriptStepResult)

func (f SinkFunc) Emit(r ScriptStepResult) { f(r) }

// Multi fans one event out to several sinks, in order.
type Multi []Sink

func (m Multi) Emit(r ScriptStepResult) {
	for _, s := range m {
		s.Emit(r)
	}
}

// Clear clears every member that supports it.
func (m Multi) Clear() {
	for _, s := range m {
		if c, ok := s.(Clearer); ok {
			c.Clear()
		}
	}
}

// Discard drops all events.
var Discard Sink = SinkFunc(func(ScriptStepResult) {})

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []ScriptStepResult
}

func (r *Recorder) Emit(ev ScriptStepResult) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Clear() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []ScriptStepResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ScriptStepResult(nil), r.events...)
}

// Labels returns the Label of every recorded event.
func (r *Recorder) Labels() []string {
	evs := r.Events()
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Label()
	}
	return out
}

// Last returns the most recent event.
func (r *Recorder) Last() (ScriptStepResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return ScriptStepResult{}, false
	}
	return r.events[len(r.events)-1], true
}
