package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ormasoftchile/msgrun/pkg/ctxlog"
	"github.com/ormasoftchile/msgrun/pkg/kernel/progress"
	"github.com/ormasoftchile/msgrun/pkg/kernel/result"
	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
	"github.com/ormasoftchile/msgrun/pkg/kernel/template"
	"github.com/ormasoftchile/msgrun/pkg/kernel/trace"
	"github.com/ormasoftchile/msgrun/pkg/kernel/variables"
	"github.com/ormasoftchile/msgrun/pkg/transport"
	"github.com/ormasoftchile/msgrun/pkg/transport/memory"
)

// ---------------------------------------------------------------------------
// fixture
// ---------------------------------------------------------------------------

type fixture struct {
	t         *testing.T
	templates template.MemCatalog
	sessions  *transport.Registry
	vars      variables.MapCatalog
	conn      *memory.Conn
	rec       *result.Recorder
	dataDir   string

	mu     sync.Mutex
	sleeps []time.Duration
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		t:         t,
		templates: template.MemCatalog{},
		sessions:  &transport.Registry{},
		vars:      variables.MapCatalog{},
		rec:       &result.Recorder{},
		dataDir:   t.TempDir(),
	}
	f.conn = memory.NewQueues("Q1", "Q2")
	f.conn.SetConnected(true)
	f.sessions.Add("S1", f.conn)
	f.templates.Add(&template.Template{Name: "/T1", Type: template.TypeText, Text: "hello"})
	return f
}

func (f *fixture) sleeper(_ context.Context, d time.Duration, _ func() bool) error {
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.mu.Unlock()
	return nil
}

func (f *fixture) engine(opts ...Option) *Engine {
	base := []Option{WithSeed(1), WithSleeper(f.sleeper), WithLogger(ctxlog.Discard())}
	cat := Catalogs{Templates: f.templates, Sessions: f.sessions, Variables: f.vars, DataDir: f.dataDir}
	return New(cat, f.rec, append(base, opts...)...)
}

func (f *fixture) run(sc *schema.Script, opts RunOptions) *RunResult {
	return f.engine().Run(context.Background(), sc, opts)
}

func (f *fixture) writeData(name, content string) {
	f.t.Helper()
	if err := os.WriteFile(filepath.Join(f.dataDir, name), []byte(content), 0o644); err != nil {
		f.t.Fatal(err)
	}
}

func (f *fixture) labels() string {
	return strings.Join(f.rec.Labels(), ",")
}

func sentTexts(c *memory.Conn) []string {
	var out []string
	for _, s := range c.Sent() {
		out = append(out, s.Message.Text)
	}
	return out
}

func regular(tpl string, iterations int) schema.Step {
	return schema.Step{Kind: schema.StepRegular, Session: "S1", Destination: "Q1", Template: tpl, Iterations: iterations}
}

func script(steps ...schema.Step) *schema.Script {
	return &schema.Script{APIVersion: schema.APIVersionScript, Name: "test", Steps: steps}
}

func repeat(s string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s
	}
	return strings.Join(parts, ",")
}

// ---------------------------------------------------------------------------
// happy paths
// ---------------------------------------------------------------------------

func TestRun_ZeroSteps(t *testing.T) {
	f := newFixture(t)
	res := f.run(script(), RunOptions{})
	if res.State != StateSucceeded {
		t.Errorf("state = %s, want SUCCEEDED", res.State)
	}
	if res.Posted != 0 {
		t.Errorf("posted = %d, want 0", res.Posted)
	}
	if got := f.labels(); got != "ScriptStart,ScriptSuccess" {
		t.Errorf("events = %s", got)
	}
}

func TestRun_ConcreteScenario(t *testing.T) {
	f := newFixture(t)
	sc := script(schema.Step{Kind: schema.StepPause, Delay: 2}, regular("/T1", 3))
	res := f.run(sc, RunOptions{})

	want := "ScriptStart,PauseStart,PauseSuccess," + repeat("StepStart,StepSuccess", 3) + ",ScriptSuccess"
	if got := f.labels(); got != want {
		t.Errorf("events =\n  %s\nwant\n  %s", got, want)
	}
	last, _ := f.rec.Last()
	if last.Posted != 3 || res.Posted != 3 {
		t.Errorf("posted = %d/%d, want 3", last.Posted, res.Posted)
	}
	if len(f.conn.Sent()) != 3 {
		t.Errorf("sent = %d, want 3", len(f.conn.Sent()))
	}
	if len(f.sleeps) != 1 || f.sleeps[0] != 2*time.Second {
		t.Errorf("sleeps = %v, want [2s]", f.sleeps)
	}
}

func TestRun_KSequentialSends(t *testing.T) {
	f := newFixture(t)
	f.vars["n"] = schema.VariableDef{Name: "n", Kind: variables.KindSequence, Min: 1}
	f.templates.Add(&template.Template{Name: "/seq", Type: template.TypeText, Text: "msg ${n}"})

	f.run(script(regular("/seq", 4)), RunOptions{})

	got := strings.Join(sentTexts(f.conn), "|")
	if got != "msg 1|msg 2|msg 3|msg 4" {
		t.Errorf("sent = %q", got)
	}
	for _, s := range f.conn.Sent() {
		if s.Destination.Name != "Q1" {
			t.Errorf("destination = %q", s.Destination.Name)
		}
	}
}

func TestRun_DataFileLinesTimesIterations(t *testing.T) {
	f := newFixture(t)
	f.writeData("customers.csv", "1;Ann;Oslo\n2;Bob\n3;Cy;Rome\n")
	f.templates.Add(&template.Template{
		Name:       "/cust",
		Type:       template.TypeText,
		Text:       "${cust.id}:${cust.name}:${cust.city}",
		Properties: map[string]string{"id": "${cust.id}"},
	})
	st := regular("/cust", 2)
	st.VariablePrefix = "cust"
	sc := script(st)
	sc.DataFiles = []schema.DataFile{{FileName: "customers.csv", Delimiter: ";", VariableNames: "id,name,city", VariablePrefix: "cust"}}

	res := f.run(sc, RunOptions{})
	if res.State != StateSucceeded {
		t.Fatalf("state = %s (%v)", res.State, res.Failure)
	}
	got := strings.Join(sentTexts(f.conn), "|")
	want := "1:Ann:Oslo|1:Ann:Oslo|2:Bob:|2:Bob:|3:Cy:Rome|3:Cy:Rome"
	if got != want {
		t.Errorf("sent = %q, want %q", got, want)
	}
	if p := f.conn.Sent()[2].Message.Properties["id"]; p != "2" {
		t.Errorf("property id = %q, want 2", p)
	}
	if res.Posted != 6 {
		t.Errorf("posted = %d, want 6", res.Posted)
	}
}

func TestRun_GlobalVariablesStable(t *testing.T) {
	f := newFixture(t)
	f.vars["runId"] = schema.VariableDef{Name: "runId", Kind: variables.KindString, Length: 10}
	f.vars["env"] = schema.VariableDef{Name: "env", Kind: variables.KindString}
	f.templates.Add(&template.Template{Name: "/g", Type: template.TypeText, Text: "${runId}/${env}"})
	sc := script(regular("/g", 3), regular("/g", 2))
	sc.GlobalVariables = []schema.GlobalVariable{{Name: "runId"}, {Name: "env", ConstantValue: strPtr("prod")}}

	f.run(sc, RunOptions{})

	texts := sentTexts(f.conn)
	if len(texts) != 5 {
		t.Fatalf("sent = %d, want 5", len(texts))
	}
	for _, s := range texts {
		if s != texts[0] {
			t.Errorf("global value changed within run: %q vs %q", s, texts[0])
		}
		if !strings.HasSuffix(s, "/prod") || strings.Contains(s, "${") {
			t.Errorf("text = %q", s)
		}
	}
}

func TestRun_SubstitutionOrder(t *testing.T) {
	f := newFixture(t)
	f.writeData("d.csv", "${g}\n")
	f.vars["g"] = schema.VariableDef{Name: "g"}
	f.vars["l"] = schema.VariableDef{Name: "l", Kind: variables.KindSequence, Min: 7}
	f.templates.Add(&template.Template{Name: "/o", Type: template.TypeText, Text: "${p.v}"})
	st := regular("/o", 1)
	st.VariablePrefix = "p"
	sc := script(st)
	sc.DataFiles = []schema.DataFile{{FileName: "d.csv", VariableNames: "v", VariablePrefix: "p"}}
	sc.GlobalVariables = []schema.GlobalVariable{{Name: "g", ConstantValue: strPtr("${l}")}}

	f.run(sc, RunOptions{})

	// data file yields ${g}, globals turn it into ${l}, locals into 7
	if got := sentTexts(f.conn); len(got) != 1 || got[0] != "7" {
		t.Errorf("sent = %v, want [7]", got)
	}
}

func TestRun_FolderTemplates(t *testing.T) {
	f := newFixture(t)
	f.templates.Add(&template.Template{Name: "/batch/b", Type: template.TypeText, Text: "b"})
	f.templates.Add(&template.Template{Name: "/batch/a", Type: template.TypeText, Text: "a"})
	st := regular("/batch", 2)
	st.Folder = true

	f.run(script(st), RunOptions{})

	if got := strings.Join(sentTexts(f.conn), ""); got != "aabb" {
		t.Errorf("sent = %q, want aabb", got)
	}
	evs := f.rec.Events()
	if evs[1].Name != "/batch/a" || evs[1].Template.Text != "a" {
		t.Errorf("first StepStart = %+v", evs[1])
	}
}

func TestRun_PauseAfter(t *testing.T) {
	f := newFixture(t)
	st := regular("/T1", 2)
	st.PauseSecsAfter = 3
	f.run(script(st), RunOptions{})

	want := "ScriptStart," + repeat("StepStart,StepSuccess,StepPauseStart,StepPauseSuccess", 2) + ",ScriptSuccess"
	if got := f.labels(); got != want {
		t.Errorf("events = %s", got)
	}
	if len(f.sleeps) != 2 || f.sleeps[1] != 3*time.Second {
		t.Errorf("sleeps = %v", f.sleeps)
	}
}

func TestRun_MessageKinds(t *testing.T) {
	f := newFixture(t)
	f.templates.Add(&template.Template{Name: "/m", Type: template.TypeMap, Entries: map[string]string{"k": "${x}"}})
	f.templates.Add(&template.Template{Name: "/b", Type: template.TypeBytes, Bytes: []byte{1, 2}})
	sc := script(regular("/m", 1), regular("/b", 1))
	sc.GlobalVariables = []schema.GlobalVariable{{Name: "x", ConstantValue: strPtr("v")}}
	f.vars["x"] = schema.VariableDef{Name: "x"}

	f.run(sc, RunOptions{})

	sent := f.conn.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent = %d", len(sent))
	}
	if sent[0].Message.Kind != transport.KindMap || sent[0].Message.Map["k"] != "v" {
		t.Errorf("map message = %+v", sent[0].Message)
	}
	if sent[1].Message.Kind != transport.KindBytes || !bytes.Equal(sent[1].Message.Bytes, []byte{1, 2}) {
		t.Errorf("bytes message = %+v", sent[1].Message)
	}
}

// ---------------------------------------------------------------------------
// limits, simulation, cancellation
// ---------------------------------------------------------------------------

func TestRun_MaxReached(t *testing.T) {
	f := newFixture(t)
	res := f.run(script(regular("/T1", 5), regular("/T1", 5)), RunOptions{MaxMessages: 2})

	if res.State != StateMaxReached || res.Posted != 2 {
		t.Errorf("state = %s, posted = %d", res.State, res.Posted)
	}
	if len(f.conn.Sent()) != 2 {
		t.Errorf("sent = %d, want 2", len(f.conn.Sent()))
	}
	want := "ScriptStart," + repeat("StepStart,StepSuccess", 2) + ",ScriptMaxReached"
	if got := f.labels(); got != want {
		t.Errorf("events = %s", got)
	}
	last, _ := f.rec.Last()
	if last.Posted != 2 {
		t.Errorf("MaxReached posted = %d", last.Posted)
	}
}

func TestRun_SimulationParity(t *testing.T) {
	build := func() *schema.Script {
		st := regular("/T1", 2)
		st.PauseSecsAfter = 1
		return script(schema.Step{Kind: schema.StepPause, Delay: 5}, st)
	}

	real := newFixture(t)
	realRes := real.run(build(), RunOptions{MaxMessages: 0})

	sim := newFixture(t)
	simRes := sim.run(build(), RunOptions{Simulation: true})

	if real.labels() != sim.labels() {
		t.Errorf("event sequences differ:\n real %s\n sim  %s", real.labels(), sim.labels())
	}
	if realRes.Posted != simRes.Posted || simRes.Posted != 2 {
		t.Errorf("posted real=%d sim=%d", realRes.Posted, simRes.Posted)
	}
	if len(sim.conn.Sent()) != 0 {
		t.Errorf("simulation sent %d messages", len(sim.conn.Sent()))
	}
	if len(sim.sleeps) != 0 {
		t.Errorf("simulation slept %v", sim.sleeps)
	}
}

func TestRun_CancelViaMonitor(t *testing.T) {
	f := newFixture(t)
	mon := &progress.Tracker{}
	f.conn.OnSend = func(n int) {
		if n == 2 {
			mon.Cancel()
		}
	}
	res := f.run(script(regular("/T1", 10)), RunOptions{Monitor: mon})

	if res.State != StateCancelled {
		t.Errorf("state = %s, want CANCELLED", res.State)
	}
	if len(f.conn.Sent()) != 2 {
		t.Errorf("sent = %d, want 2", len(f.conn.Sent()))
	}
	var cancelled int
	for _, ev := range f.rec.Events() {
		if ev.Kind == result.KindCancelled {
			cancelled++
		}
	}
	if cancelled != 1 {
		t.Errorf("cancelled events = %d, want 1", cancelled)
	}
	if last, _ := f.rec.Last(); last.Label() != "ScriptCancelled" || last.Posted != 2 {
		t.Errorf("last = %s posted %d", last.Label(), last.Posted)
	}
}

func openFDs(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return -1
	}
	return len(entries)
}

func TestRun_CancelWhileStreamingDataFile(t *testing.T) {
	f := newFixture(t)
	f.writeData("lines.csv", "1\n2\n3\n4\n")
	mon := &progress.Tracker{}
	f.conn.OnSend = func(n int) {
		if n == 2 {
			mon.Cancel()
		}
	}
	st := regular("/T1", 1)
	st.VariablePrefix = "row"
	sc := script(st)
	sc.DataFiles = []schema.DataFile{{FileName: "lines.csv", VariableNames: "id", VariablePrefix: "row"}}

	before := openFDs(t)
	res := f.run(sc, RunOptions{Monitor: mon})

	if res.State != StateCancelled {
		t.Fatalf("state = %s (%v)", res.State, res.Failure)
	}
	if len(f.conn.Sent()) != 2 {
		t.Errorf("sent = %d, want 2", len(f.conn.Sent()))
	}
	want := "ScriptStart," + repeat("StepStart,StepSuccess", 2) + ",ScriptCancelled"
	if got := f.labels(); got != want {
		t.Errorf("events = %s, want %s", got, want)
	}
	if before >= 0 {
		if after := openFDs(t); after != before {
			t.Errorf("open fds = %d after run, %d before: data file left open", after, before)
		}
	}
	// A closed handle lets the file be replaced on every platform.
	if err := os.Remove(filepath.Join(f.dataDir, "lines.csv")); err != nil {
		t.Errorf("remove data file: %v", err)
	}
}

func TestRun_CancelDuringValidation(t *testing.T) {
	f := newFixture(t)
	mon := &progress.Tracker{}
	mon.Cancel()
	res := f.run(script(regular("/T1", 1)), RunOptions{Monitor: mon})
	if res.State != StateCancelled {
		t.Errorf("state = %s", res.State)
	}
	if got := f.labels(); got != "ScriptStart,ScriptCancelled" {
		t.Errorf("events = %s", got)
	}
	if len(f.conn.Sent()) != 0 {
		t.Error("sent during cancelled validation")
	}
}

func TestExecute_CancelInterruptsPause(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	var once sync.Once
	sink := result.Multi{f.rec, result.SinkFunc(func(r result.ScriptStepResult) {
		if r.Action == result.ActionPause && r.Kind == result.KindStart {
			once.Do(func() { close(started) })
		}
	})}
	eng := New(Catalogs{Templates: f.templates, Sessions: f.sessions}, sink, WithLogger(ctxlog.Discard()))

	run := eng.Execute(context.Background(), script(schema.Step{Kind: schema.StepPause, Delay: 3600}, regular("/T1", 1)), RunOptions{})
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("pause never started")
	}
	run.Cancel()

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after Cancel")
	}
	res := run.Wait()
	if res.State != StateCancelled {
		t.Errorf("state = %s", res.State)
	}
	if got := f.labels(); got != "ScriptStart,PauseStart,ScriptCancelled" {
		t.Errorf("events = %s", got)
	}
	if len(f.conn.Sent()) != 0 {
		t.Error("message sent after cancel")
	}
}

func TestExecute_CancelInterruptsPauseAfter(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	var once sync.Once
	sink := result.Multi{f.rec, result.SinkFunc(func(r result.ScriptStepResult) {
		if r.Action == result.ActionStepPause && r.Kind == result.KindStart {
			once.Do(func() { close(started) })
		}
	})}
	eng := New(Catalogs{Templates: f.templates, Sessions: f.sessions}, sink, WithLogger(ctxlog.Discard()))

	st := regular("/T1", 3)
	st.PauseSecsAfter = 3600
	run := eng.Execute(context.Background(), script(st), RunOptions{})
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("pause after send never started")
	}
	run.Cancel()

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after Cancel")
	}
	res := run.Wait()
	if res.State != StateCancelled {
		t.Errorf("state = %s", res.State)
	}
	if got := f.labels(); got != "ScriptStart,StepStart,StepSuccess,StepPauseStart,ScriptCancelled" {
		t.Errorf("events = %s", got)
	}
	if len(f.conn.Sent()) != 1 {
		t.Errorf("sent = %d, want 1", len(f.conn.Sent()))
	}
}

func TestRun_TemplateIsolation(t *testing.T) {
	f := newFixture(t)
	orig := &template.Template{Name: "/iso", Type: template.TypeText, Text: "v=${x}", Properties: map[string]string{"p": "${x}"}}
	f.templates.Add(orig)
	f.vars["x"] = schema.VariableDef{Name: "x", Kind: variables.KindSequence, Min: 1}

	f.run(script(regular("/iso", 3)), RunOptions{})

	if orig.Text != "v=${x}" || orig.Properties["p"] != "${x}" {
		t.Errorf("catalog template mutated: %+v", orig)
	}
	if got := strings.Join(sentTexts(f.conn), ","); got != "v=1,v=2,v=3" {
		t.Errorf("sent = %q", got)
	}
	if p := f.conn.Sent()[0].Message.Properties["p"]; p != "1" {
		t.Errorf("property = %q, want value shared with text", p)
	}
}

// ---------------------------------------------------------------------------
// validation failures
// ---------------------------------------------------------------------------

func TestRun_ValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture, sc *schema.Script)
		kind   result.FailureKind
		label  string
		ident  string
	}{
		{
			name:   "template",
			mutate: func(f *fixture, sc *schema.Script) { sc.Steps[0].Template = "/T2" },
			kind:   result.TemplateNotFound, label: "TemplateFail", ident: "/T2",
		},
		{
			name: "empty folder",
			mutate: func(f *fixture, sc *schema.Script) {
				sc.Steps[0].Template, sc.Steps[0].Folder = "/nothing", true
			},
			kind: result.TemplateNotFound, label: "TemplateFail", ident: "/nothing",
		},
		{
			name:   "session",
			mutate: func(f *fixture, sc *schema.Script) { sc.Steps[0].Session = "S9" },
			kind:   result.SessionNotFound, label: "SessionFail", ident: "S9",
		},
		{
			name: "variable",
			mutate: func(f *fixture, sc *schema.Script) {
				sc.GlobalVariables = []schema.GlobalVariable{{Name: "ghost"}}
			},
			kind: result.VariableNotFound, label: "VariableFail", ident: "ghost",
		},
		{
			name:   "data file prefix",
			mutate: func(f *fixture, sc *schema.Script) { sc.Steps[0].VariablePrefix = "cust" },
			kind:   result.DataFilePrefixNotFound, label: "DatafileFail", ident: "cust",
		},
		{
			name: "data file",
			mutate: func(f *fixture, sc *schema.Script) {
				sc.Steps[0].VariablePrefix = "cust"
				sc.DataFiles = []schema.DataFile{{FileName: "missing.csv", VariableNames: "a", VariablePrefix: "cust"}}
			},
			kind: result.DataFileNotFound, label: "DatafileFail", ident: "missing.csv",
		},
		{
			name:   "destination",
			mutate: func(f *fixture, sc *schema.Script) { sc.Steps[0].Destination = "Q9" },
			kind:   result.DestinationNotFound, label: "DestinationFail", ident: "Q9",
		},
		{
			name:   "unknown step kind",
			mutate: func(f *fixture, sc *schema.Script) { sc.Steps[0].Kind = "Regular" },
			kind:   result.ValidationException, label: "ScriptFail", ident: "step 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sc := script(regular("/T1", 1))
			tt.mutate(f, sc)

			res := f.run(sc, RunOptions{})
			if res.State != StateValidationFail {
				t.Fatalf("state = %s", res.State)
			}
			if res.Failure == nil || res.Failure.Kind != tt.kind || res.Failure.Name != tt.ident {
				t.Errorf("failure = %+v, want %s %s", res.Failure, tt.kind, tt.ident)
			}
			if got := f.labels(); got != "ScriptStart,"+tt.label {
				t.Errorf("events = %s", got)
			}
			last, _ := f.rec.Last()
			if last.Failure != tt.kind {
				t.Errorf("event failure = %s", last.Failure)
			}
			if len(f.conn.Sent()) != 0 {
				t.Error("message sent despite validation failure")
			}
		})
	}
}

func TestRun_TemplateNotFoundHint(t *testing.T) {
	f := newFixture(t)
	f.run(script(regular("/T2", 1)), RunOptions{})
	last, _ := f.rec.Last()
	if !strings.Contains(last.Message, `did you mean "/T1"?`) {
		t.Errorf("message = %q", last.Message)
	}
}

func TestRun_ConnectsOncePerSession(t *testing.T) {
	f := newFixture(t)
	f.conn.SetConnected(false)
	sc := script(regular("/T1", 1), schema.Step{Kind: schema.StepPause}, regular("/T1", 1))
	sc.Steps[2].Destination = "Q2"

	res := f.run(sc, RunOptions{})
	if res.State != StateSucceeded {
		t.Fatalf("state = %s", res.State)
	}
	if f.conn.Connects() != 1 {
		t.Errorf("connects = %d, want 1", f.conn.Connects())
	}
	labels := f.rec.Labels()
	if labels[1] != "SessionStart" || labels[2] != "SessionSuccess" {
		t.Errorf("events = %v", labels)
	}
}

func TestRun_ConnectionFailed(t *testing.T) {
	f := newFixture(t)
	f.conn.SetConnected(false)
	f.conn.ConnectErr = errors.New("refused")

	res := f.run(script(regular("/T1", 1)), RunOptions{})
	if res.State != StateValidationFail || res.Failure.Kind != result.ConnectionFailed {
		t.Fatalf("result = %+v", res)
	}
	if !errors.Is(res.Failure, f.conn.ConnectErr) {
		t.Errorf("failure cause = %v", res.Failure.Err)
	}
	if got := f.labels(); got != "ScriptStart,SessionStart,SessionFail" {
		t.Errorf("events = %s", got)
	}
}

// ---------------------------------------------------------------------------
// execution failures and defects
// ---------------------------------------------------------------------------

func TestRun_SendFailureNotRetried(t *testing.T) {
	f := newFixture(t)
	f.conn.SendErr = errors.New("broker down")
	f.conn.FailAt = 2

	res := f.run(script(regular("/T1", 5)), RunOptions{})
	if res.State != StateExecutionFailed {
		t.Fatalf("state = %s", res.State)
	}
	if res.Posted != 1 || len(f.conn.Sent()) != 1 {
		t.Errorf("posted = %d, sent = %d", res.Posted, len(f.conn.Sent()))
	}
	want := "ScriptStart,StepStart,StepSuccess,StepStart,StepFail"
	if got := f.labels(); got != want {
		t.Errorf("events = %s", got)
	}
	last, _ := f.rec.Last()
	if last.Failure != result.ExecutionFailed || last.Name != "Q1" || !errors.Is(last.Err, f.conn.SendErr) {
		t.Errorf("fail event = %+v", last)
	}
	var execErr *ExecutionError
	if !errors.As(res.Err, &execErr) || execErr.Destination != "Q1" {
		t.Errorf("run error = %v", res.Err)
	}
}

type panicConn struct{ *memory.Conn }

func (panicConn) Destination(string) (transport.Destination, bool) { panic("boom") }

func TestRun_PanicBecomesValidationException(t *testing.T) {
	f := newFixture(t)
	pc := panicConn{memory.NewQueues("Q1")}
	pc.SetConnected(true)
	f.sessions.Add("S1", pc)

	res := f.run(script(regular("/T1", 1)), RunOptions{})
	if res.State != StateValidationFail {
		t.Errorf("state = %s", res.State)
	}
	last, _ := f.rec.Last()
	if last.Failure != result.ValidationException || last.Action != result.ActionScript {
		t.Errorf("last = %+v", last)
	}
	if last.Err == nil || !strings.Contains(last.Err.Error(), "boom") {
		t.Errorf("cause = %v", last.Err)
	}
}

// ---------------------------------------------------------------------------
// progress, log clearing, trace
// ---------------------------------------------------------------------------

func TestRun_ProgressTotal(t *testing.T) {
	f := newFixture(t)
	mon := &progress.Tracker{}
	f.run(script(schema.Step{Kind: schema.StepPause, Delay: 1}, regular("/T1", 3)), RunOptions{Monitor: mon, Simulation: true})
	s := mon.Snapshot()
	if s.Total != ValidationPhases+1+3 {
		t.Errorf("total = %d, want 9", s.Total)
	}
	if s.Worked != s.Total {
		t.Errorf("worked = %d, want %d", s.Worked, s.Total)
	}
	if !s.Done {
		t.Error("monitor not marked done")
	}
	if !strings.HasSuffix(s.Name, "(Simulation)") {
		t.Errorf("title = %q", s.Name)
	}
}

func TestRun_ClearLog(t *testing.T) {
	f := newFixture(t)
	f.rec.Emit(result.ScriptStepResult{Action: result.ActionScript, Kind: result.KindSuccess})
	f.engine(WithClearLog(true)).Run(context.Background(), script(), RunOptions{})
	if got := f.labels(); got != "ScriptStart,ScriptSuccess" {
		t.Errorf("events = %s", got)
	}
}

func TestRun_TraceSink(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	tw := trace.NewWriter(&buf, "run-1")
	eng := New(Catalogs{Templates: f.templates, Sessions: f.sessions}, result.Multi{f.rec, tw}, WithLogger(ctxlog.Discard()))

	eng.Run(context.Background(), script(regular("/T1", 2)), RunOptions{RunID: "run-1"})

	if err := tw.Err(); err != nil {
		t.Fatal(err)
	}
	vr, err := trace.Verify(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !vr.Valid || vr.EventCount != len(f.rec.Events()) {
		t.Errorf("verify = %+v, events = %d", vr, len(f.rec.Events()))
	}
}
