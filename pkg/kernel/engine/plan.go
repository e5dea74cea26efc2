package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ormasoftchile/msgrun/pkg/kernel/progress"
	"github.com/ormasoftchile/msgrun/pkg/kernel/result"
	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
	"github.com/ormasoftchile/msgrun/pkg/kernel/template"
	"github.com/ormasoftchile/msgrun/pkg/kernel/variables"
	"github.com/ormasoftchile/msgrun/pkg/transport"
)

// ValidationPhases is the number of progress units the pipeline consumes.
const ValidationPhases = 5

// Catalogs are the read-only collaborators a script is resolved against.
type Catalogs struct {
	Templates template.Catalog
	Sessions  transport.Catalog
	Variables variables.Catalog
	// DataDir resolves relative data-file names.
	DataDir string
}

// Plan is a fully resolved script, ready to execute.
type Plan struct {
	Steps    []*RuntimeStep
	Globals  map[string]string
	Sessions []string // distinct, in first-use order
}

// ValidationFailure is the single reason a pipeline run stopped.
type ValidationFailure struct {
	Action  result.Action
	Kind    result.FailureKind
	Name    string
	Message string
	Err     error
}

func (f *ValidationFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *ValidationFailure) Unwrap() error { return f.Err }

// Event renders f as its terminal FAIL event.
func (f *ValidationFailure) Event() result.ScriptStepResult {
	return result.ScriptStepResult{
		Action:  f.Action,
		Kind:    result.KindFail,
		Failure: f.Kind,
		Name:    f.Name,
		Message: f.Message,
		Err:     f.Err,
	}
}

// PlanResult is either a Plan, a Failure, or Cancelled.
type PlanResult struct {
	Plan      *Plan
	Failure   *ValidationFailure
	Cancelled bool
}

// PlanOptions configures BuildPlan.
type PlanOptions struct {
	Resolver *variables.Resolver
	Monitor  progress.Monitor
	Sink     result.Sink
	Logger   *slog.Logger
	// Overrides win over constant and generated global values.
	Overrides map[string]string
	// SkipConnect resolves destinations without connecting sessions.
	SkipConnect bool
}

type pipeline struct {
	ctx   context.Context
	sc    *schema.Script
	cat   Catalogs
	opts  PlanOptions
	steps []*RuntimeStep
	conns map[string]transport.Connection
	plan  *Plan
}

// BuildPlan runs the five validation phases in order. Nothing is sent and
// the only side effect is connecting sessions in phase 5. A progress unit
// is consumed and cancellation checked after every phase.
func BuildPlan(ctx context.Context, sc *schema.Script, cat Catalogs, opts PlanOptions) PlanResult {
	if opts.Resolver == nil {
		opts.Resolver = variables.NewResolver(0)
	}
	if opts.Monitor == nil {
		opts.Monitor = progress.Noop{}
	}
	if opts.Sink == nil {
		opts.Sink = result.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &pipeline{
		ctx:   ctx,
		sc:    sc,
		cat:   cat,
		opts:  opts,
		steps: newRuntimeSteps(sc),
		conns: make(map[string]transport.Connection),
		plan:  &Plan{Sessions: sc.Sessions()},
	}

	phases := []struct {
		name string
		fn   func() *ValidationFailure
	}{
		{"templates", p.validateTemplates},
		{"sessions", p.validateSessions},
		{"global variables", p.validateGlobals},
		{"data files", p.validateDataFiles},
		{"destinations", p.validateDestinations},
	}
	for _, ph := range phases {
		opts.Monitor.SubTask("validating " + ph.name)
		if f := ph.fn(); f != nil {
			opts.Logger.Debug("validation failed", "phase", ph.name, "failure", f.Kind, "name", f.Name)
			return PlanResult{Failure: f}
		}
		opts.Logger.Debug("validation phase passed", "phase", ph.name)
		opts.Monitor.Worked(1)
		if isCancelled(ctx, opts.Monitor) {
			return PlanResult{Cancelled: true}
		}
	}
	p.plan.Steps = p.steps
	return PlanResult{Plan: p.plan}
}

func isCancelled(ctx context.Context, m progress.Monitor) bool {
	return ctx.Err() != nil || m.Cancelled()
}

func (p *pipeline) validateTemplates() *ValidationFailure {
	for _, rs := range p.steps {
		if !rs.Step.Kind.Valid() {
			return &ValidationFailure{
				Action:  result.ActionScript,
				Kind:    result.ValidationException,
				Name:    fmt.Sprintf("step %d", rs.Index+1),
				Message: fmt.Sprintf("unknown step kind %q", rs.Step.Kind),
			}
		}
		if !rs.Regular() {
			continue
		}
		ref := rs.Step.Template
		var (
			ts  []*template.Template
			err error
		)
		switch {
		case p.cat.Templates == nil:
			err = template.ErrNotFound
		case rs.Step.Folder:
			ts, err = p.cat.Templates.LookupFolder(ref)
		default:
			var t *template.Template
			t, err = p.cat.Templates.Lookup(ref)
			if t != nil {
				ts = []*template.Template{t}
			}
		}
		switch {
		case errors.Is(err, template.ErrNotFound), err == nil && len(ts) == 0:
			names, _ := p.templateNames()
			return &ValidationFailure{
				Action:  result.ActionTemplate,
				Kind:    result.TemplateNotFound,
				Name:    ref,
				Message: notFoundMessage(templateWhat(rs.Step.Folder), ref, names),
			}
		case err != nil:
			return &ValidationFailure{
				Action:  result.ActionTemplate,
				Kind:    result.ValidationException,
				Name:    ref,
				Message: "loading template " + ref,
				Err:     err,
			}
		}
		rs.Templates = ts
	}
	return nil
}

func (p *pipeline) templateNames() ([]string, error) {
	if p.cat.Templates == nil {
		return nil, nil
	}
	return p.cat.Templates.Names()
}

func templateWhat(folder bool) string {
	if folder {
		return "template folder"
	}
	return "template"
}

func (p *pipeline) validateSessions() *ValidationFailure {
	for _, name := range p.plan.Sessions {
		var known []string
		var s transport.Session
		ok := false
		if p.cat.Sessions != nil {
			s, ok = p.cat.Sessions.Session(name)
			known = p.cat.Sessions.Names()
		}
		if !ok {
			return &ValidationFailure{
				Action:  result.ActionSession,
				Kind:    result.SessionNotFound,
				Name:    name,
				Message: notFoundMessage("session", name, known),
			}
		}
		conn, err := s.ExecutionConnection()
		if err != nil {
			return &ValidationFailure{
				Action:  result.ActionSession,
				Kind:    result.ConnectionFailed,
				Name:    name,
				Message: "creating connection for session " + name,
				Err:     err,
			}
		}
		p.conns[name] = conn
	}
	for _, rs := range p.steps {
		if rs.Regular() {
			rs.Connection = p.conns[rs.Step.Session]
		}
	}
	return nil
}

func (p *pipeline) validateGlobals() *ValidationFailure {
	globals, f := resolveGlobals(p.sc.GlobalVariables, p.cat.Variables, p.opts.Resolver, p.opts.Overrides)
	if f != nil {
		return f
	}
	p.plan.Globals = globals
	return nil
}

func (p *pipeline) validateDataFiles() *ValidationFailure {
	for _, rs := range p.steps {
		if !rs.Regular() || rs.Step.VariablePrefix == "" {
			continue
		}
		prefix := rs.Step.VariablePrefix
		df, ok := p.sc.DataFile(prefix)
		if !ok {
			return &ValidationFailure{
				Action:  result.ActionDataFile,
				Kind:    result.DataFilePrefixNotFound,
				Name:    prefix,
				Message: fmt.Sprintf("no data file declared for variable prefix %q", prefix),
			}
		}
		if cs := strings.ToLower(df.Charset); cs != "" && cs != "utf-8" && cs != "utf8" {
			return &ValidationFailure{
				Action:  result.ActionDataFile,
				Kind:    result.ValidationException,
				Name:    df.FileName,
				Message: fmt.Sprintf("unsupported charset %q", df.Charset),
			}
		}
		path := df.FileName
		if !filepath.IsAbs(path) && p.cat.DataDir != "" {
			path = filepath.Join(p.cat.DataDir, path)
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			if err == nil {
				err = fmt.Errorf("%s is a directory", path)
			} else if !errors.Is(err, fs.ErrNotExist) {
				p.opts.Logger.Warn("data file not readable", "path", path, "error", err)
			}
			return &ValidationFailure{
				Action:  result.ActionDataFile,
				Kind:    result.DataFileNotFound,
				Name:    df.FileName,
				Message: fmt.Sprintf("data file %q not found", df.FileName),
				Err:     err,
			}
		}
		rs.DataFile = df
		rs.DataPath = path
		rs.Fields = df.FieldNames()
	}
	return nil
}

func (p *pipeline) validateDestinations() *ValidationFailure {
	for _, name := range p.plan.Sessions {
		conn := p.conns[name]
		if p.opts.SkipConnect || conn.IsConnected() {
			continue
		}
		p.opts.Sink.Emit(result.ScriptStepResult{Action: result.ActionSession, Kind: result.KindStart, Name: name})
		if err := conn.Connect(p.ctx); err != nil {
			return &ValidationFailure{
				Action:  result.ActionSession,
				Kind:    result.ConnectionFailed,
				Name:    name,
				Message: "connecting session " + name,
				Err:     err,
			}
		}
		p.opts.Sink.Emit(result.ScriptStepResult{Action: result.ActionSession, Kind: result.KindSuccess, Name: name})
	}
	for _, rs := range p.steps {
		if !rs.Regular() {
			continue
		}
		d, ok := rs.Connection.Destination(rs.Step.Destination)
		if !ok {
			return &ValidationFailure{
				Action:  result.ActionDestination,
				Kind:    result.DestinationNotFound,
				Name:    rs.Step.Destination,
				Message: fmt.Sprintf("destination %q not found on session %q", rs.Step.Destination, rs.Step.Session),
			}
		}
		rs.Destination = d
	}
	return nil
}
