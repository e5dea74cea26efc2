// Package engine validates and executes message scripts. A run validates
// the whole script before the first send, then executes steps strictly in
// order on a dedicated goroutine, reporting only through emitted events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ormasoftchile/msgrun/pkg/ctxlog"
	"github.com/ormasoftchile/msgrun/pkg/kernel/progress"
	"github.com/ormasoftchile/msgrun/pkg/kernel/result"
	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
	"github.com/ormasoftchile/msgrun/pkg/kernel/variables"
)

// RunOptions configures one execution.
type RunOptions struct {
	RunID       string // generated when empty
	Simulation  bool   // no sends, no sleeps; events and counters unchanged
	MaxMessages int    // 0 means unbounded
	Monitor     progress.Monitor
	// Overrides replace global variable values for this run.
	Overrides map[string]string
}

// RunResult is the outcome of a run.
type RunResult struct {
	RunID    string
	State    RunState
	Posted   int
	Failure  *ValidationFailure // VALIDATION_FAILED
	Err      error              // EXECUTION_FAILED cause, or a recovered panic
	Duration time.Duration
}

// Engine executes scripts against a fixed set of catalogs.
type Engine struct {
	cat      Catalogs
	sink     result.Sink
	logger   *slog.Logger
	sleep    Sleeper
	seed     uint64
	seeded   bool
	clearLog bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithSleeper replaces the pause implementation.
func WithSleeper(s Sleeper) Option { return func(e *Engine) { e.sleep = s } }

// WithSeed fixes the random source of every run.
func WithSeed(seed uint64) Option {
	return func(e *Engine) { e.seed, e.seeded = seed, true }
}

// WithClearLog asks the sink to clear its execution log before each run.
func WithClearLog(v bool) Option { return func(e *Engine) { e.clearLog = v } }

// New creates an engine emitting to sink.
func New(cat Catalogs, sink result.Sink, opts ...Option) *Engine {
	e := &Engine{cat: cat, sink: sink, sleep: Sleep}
	for _, o := range opts {
		o(e)
	}
	if e.sink == nil {
		e.sink = result.Discard
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Run is a handle on an execution started by Execute.
type Run struct {
	ID     string
	cancel context.CancelFunc
	done   chan struct{}
	res    *RunResult
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends and returns its result.
func (r *Run) Wait() *RunResult {
	<-r.done
	return r.res
}

// Cancel requests cooperative cancellation. The run stops at its next
// checkpoint and emits a single SCRIPT CANCELLED event.
func (r *Run) Cancel() { r.cancel() }

// Execute starts sc on a new goroutine and returns immediately.
func (e *Engine) Execute(ctx context.Context, sc *schema.Script, opts RunOptions) *Run {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Run{ID: opts.RunID, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		defer cancel()
		r.res = e.Run(ctx, sc, opts)
	}()
	return r
}

// Run executes sc on the calling goroutine. It never panics; a recovered
// panic is reported as a VALIDATION_EXCEPTION event.
func (e *Engine) Run(ctx context.Context, sc *schema.Script, opts RunOptions) (res *RunResult) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	mon := opts.Monitor
	if mon == nil {
		mon = progress.Noop{}
	}
	logger := e.logger.With("run_id", opts.RunID, "script", sc.Name)
	ctx = ctxlog.WithLogger(ctx, logger)

	start := time.Now()
	res = &RunResult{RunID: opts.RunID, State: StateNotStarted}
	emit := func(r result.ScriptStepResult) {
		if r.Time.IsZero() {
			r.Time = time.Now()
		}
		e.sink.Emit(r)
	}
	var x *stepExecutor

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic: %v", p)
			logger.Error("run aborted", "error", err)
			f := &ValidationFailure{
				Action:  result.ActionScript,
				Kind:    result.ValidationException,
				Name:    sc.Name,
				Message: "unexpected error",
				Err:     err,
			}
			emit(f.Event())
			res.Err = err
			if res.State == StateRunning {
				res.State = StateExecutionFailed
			} else {
				res.State = StateValidationFail
				res.Failure = f
			}
		}
		if x != nil {
			res.Posted = x.posted
		}
		res.Duration = time.Since(start)
		mon.Done()
		logger.Info("run finished", "state", res.State, "posted", res.Posted, "duration", res.Duration)
	}()

	if e.clearLog {
		if c, ok := e.sink.(result.Clearer); ok {
			c.Clear()
		}
	}

	steps := newRuntimeSteps(sc)
	total := ValidationPhases
	for _, rs := range steps {
		total += rs.Units()
	}
	title := sc.Name
	if opts.Simulation {
		title += " (Simulation)"
	}
	mon.Begin(title, total)
	emit(result.ScriptStepResult{Action: result.ActionScript, Kind: result.KindStart, Name: sc.Name, Message: title})

	seed := e.seed
	if !e.seeded {
		seed = uint64(time.Now().UnixNano())
	}
	resolver := variables.NewResolver(seed)

	res.State = StateValidating
	pr := BuildPlan(ctx, sc, e.cat, PlanOptions{
		Resolver:  resolver,
		Monitor:   mon,
		Sink:      result.SinkFunc(emit),
		Logger:    logger,
		Overrides: opts.Overrides,
	})
	switch {
	case pr.Failure != nil:
		res.State = StateValidationFail
		res.Failure = pr.Failure
		emit(pr.Failure.Event())
		return res
	case pr.Cancelled:
		res.State = StateCancelled
		emit(result.ScriptStepResult{Action: result.ActionScript, Kind: result.KindCancelled, Name: sc.Name})
		return res
	}

	res.State = StateRunning
	x = &stepExecutor{
		ctx:      ctx,
		sink:     result.SinkFunc(emit),
		monitor:  mon,
		resolver: resolver,
		vars:     e.cat.Variables,
		globals:  pr.Plan.Globals,
		simulate: opts.Simulation,
		max:      opts.MaxMessages,
		sleep:    e.sleep,
		logger:   logger,
	}

	var err error
	for _, rs := range pr.Plan.Steps {
		logger.Debug("executing step", "step", rs.Index+1, "kind", rs.Step.Kind)
		if err = x.execute(rs); err != nil {
			break
		}
	}

	var execErr *ExecutionError
	switch {
	case err == nil:
		res.State = StateSucceeded
		emit(result.ScriptStepResult{Action: result.ActionScript, Kind: result.KindSuccess, Name: sc.Name, Posted: x.posted})
	case errors.Is(err, errCancelled):
		res.State = StateCancelled
		emit(result.ScriptStepResult{Action: result.ActionScript, Kind: result.KindCancelled, Name: sc.Name, Posted: x.posted})
	case errors.Is(err, errMaxReached):
		res.State = StateMaxReached
		emit(result.ScriptStepResult{Action: result.ActionScript, Kind: result.KindMaxReached, Name: sc.Name, Posted: x.posted})
	case errors.As(err, &execErr):
		res.State = StateExecutionFailed
		res.Err = execErr
		emit(result.ScriptStepResult{
			Action:  result.ActionStep,
			Kind:    result.KindFail,
			Failure: result.ExecutionFailed,
			Name:    execErr.Destination,
			Message: fmt.Sprintf("sending %s", execErr.Template),
			Err:     execErr.Err,
		})
	default:
		panic(err)
	}
	return res
}
