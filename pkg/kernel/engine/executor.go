package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ormasoftchile/msgrun/pkg/kernel/progress"
	"github.com/ormasoftchile/msgrun/pkg/kernel/result"
	"github.com/ormasoftchile/msgrun/pkg/kernel/template"
	"github.com/ormasoftchile/msgrun/pkg/kernel/variables"
	"github.com/ormasoftchile/msgrun/pkg/transport"
)

var (
	errCancelled  = errors.New("run cancelled")
	errMaxReached = errors.New("max messages reached")
)

// ExecutionError is a failed send (or message build) on a step.
type ExecutionError struct {
	Step        int
	Template    string
	Destination string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("step %d: send %s to %s: %v", e.Step+1, e.Template, e.Destination, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Sleeper blocks for d. It returns early with a non-nil error when ctx is
// done or cancelled reports true.
type Sleeper func(ctx context.Context, d time.Duration, cancelled func() bool) error

const pollInterval = 100 * time.Millisecond

// Sleep is the default Sleeper. It polls cancelled every 100ms.
func Sleep(ctx context.Context, d time.Duration, cancelled func() bool) error {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for {
		select {
		case <-deadline.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if cancelled() {
				return errCancelled
			}
		}
	}
}

// stepExecutor runs RuntimeSteps for one run. posted is the run-wide count.
type stepExecutor struct {
	ctx      context.Context
	sink     result.Sink
	monitor  progress.Monitor
	resolver *variables.Resolver
	vars     variables.Catalog
	globals  map[string]string
	simulate bool
	max      int
	sleep    Sleeper
	logger   *slog.Logger

	posted int
}

func (x *stepExecutor) cancelled() bool {
	return isCancelled(x.ctx, x.monitor)
}

func (x *stepExecutor) emit(r result.ScriptStepResult) {
	r.Time = time.Now()
	x.sink.Emit(r)
}

// execute runs one step. It returns nil, errCancelled, errMaxReached or an
// *ExecutionError.
func (x *stepExecutor) execute(rs *RuntimeStep) error {
	if !rs.Regular() {
		return x.executePause(rs)
	}
	for _, tpl := range rs.Templates {
		var err error
		if rs.DataFile == nil {
			err = x.block(rs, tpl, nil)
		} else {
			err = x.dataFileBlocks(rs, tpl)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (x *stepExecutor) executePause(rs *RuntimeStep) error {
	x.monitor.SubTask(rs.String())
	x.emit(result.ScriptStepResult{Action: result.ActionPause, Kind: result.KindStart, Message: fmt.Sprintf("%ds", rs.Step.Delay)})
	if err := x.pause(rs.Step.Delay); err != nil {
		return err
	}
	x.emit(result.ScriptStepResult{Action: result.ActionPause, Kind: result.KindSuccess})
	x.monitor.Worked(1)
	if x.cancelled() {
		return errCancelled
	}
	return nil
}

func (x *stepExecutor) pause(secs int) error {
	if x.simulate || secs <= 0 {
		return nil
	}
	if err := x.sleep(x.ctx, time.Duration(secs)*time.Second, x.monitor.Cancelled); err != nil {
		return errCancelled
	}
	return nil
}

// dataFileBlocks streams the bound data file and runs one block per line.
func (x *stepExecutor) dataFileBlocks(rs *RuntimeStep, tpl *template.Template) error {
	f, err := os.Open(rs.DataPath)
	if err != nil {
		return &ExecutionError{Step: rs.Index, Template: tpl.Name, Destination: rs.Destination.Name, Err: fmt.Errorf("open data file: %w", err)}
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024) // 1MB max line
	sep := rs.DataFile.Sep()
	first := true
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		values := variables.DataFileValues(line, sep, rs.Fields)
		if err := x.block(rs, tpl, values); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return &ExecutionError{Step: rs.Index, Template: tpl.Name, Destination: rs.Destination.Name, Err: fmt.Errorf("read data file: %w", err)}
	}
	return nil
}

// block sends tpl the step's iteration count times.
func (x *stepExecutor) block(rs *RuntimeStep, tpl *template.Template, values map[string]string) error {
	n := rs.Step.IterationCount()
	for i := range n {
		x.monitor.SubTask(fmt.Sprintf("%s %s (%d/%d)", rs, tpl.Name, i+1, n))

		msg, err := x.substitute(tpl, values)
		if err != nil {
			return x.fail(rs, tpl, err)
		}
		x.emit(result.ScriptStepResult{
			Action:   result.ActionStep,
			Kind:     result.KindStart,
			Name:     tpl.Name,
			Message:  rs.Destination.Name,
			Template: msg,
		})
		if !x.simulate {
			if err := x.send(rs, msg); err != nil {
				if x.ctx.Err() != nil {
					return errCancelled
				}
				return x.fail(rs, tpl, err)
			}
		}
		x.emit(result.ScriptStepResult{Action: result.ActionStep, Kind: result.KindSuccess, Name: tpl.Name, Message: rs.Destination.Name})

		x.posted++
		if x.max > 0 && x.posted >= x.max {
			return errMaxReached
		}

		if secs := rs.Step.PauseSecsAfter; secs > 0 {
			x.emit(result.ScriptStepResult{Action: result.ActionStepPause, Kind: result.KindStart, Name: tpl.Name, Message: fmt.Sprintf("%ds", secs)})
			if err := x.pause(secs); err != nil {
				return err
			}
			x.emit(result.ScriptStepResult{Action: result.ActionStepPause, Kind: result.KindSuccess, Name: tpl.Name})
		}

		x.monitor.Worked(1)
		if x.cancelled() {
			return errCancelled
		}
	}
	return nil
}

// substitute clones tpl and applies data-file values, then globals, then
// fresh local template variables.
func (x *stepExecutor) substitute(tpl *template.Template, values map[string]string) (*template.Template, error) {
	msg := tpl.Clone()
	passes := []map[string]string{values, x.globals}
	for _, vals := range passes {
		if len(vals) == 0 {
			continue
		}
		msg.Rewrite(func(s string) string { return variables.ReplaceAll(s, vals) })
	}
	locals, err := x.resolver.GenerateFor(x.vars, msg.Strings()...)
	if err != nil {
		return nil, err
	}
	if len(locals) > 0 {
		msg.Rewrite(func(s string) string { return variables.ReplaceAll(s, locals) })
	}
	return msg, nil
}

func (x *stepExecutor) send(rs *RuntimeStep, tpl *template.Template) error {
	m, err := rs.Connection.NewMessage(transport.MessageKind(tpl.Type))
	if err != nil {
		return err
	}
	switch tpl.Type {
	case template.TypeBytes:
		m.Bytes = tpl.Bytes
	case template.TypeMap:
		m.Map = tpl.Entries
	default:
		m.Text = tpl.Text
	}
	for k, v := range tpl.Properties {
		if m.Properties == nil {
			m.Properties = make(map[string]string, len(tpl.Properties))
		}
		m.Properties[k] = v
	}
	return rs.Connection.Send(x.ctx, rs.Destination, m)
}

func (x *stepExecutor) fail(rs *RuntimeStep, tpl *template.Template, err error) error {
	x.logger.Error("step failed", "step", rs.Index+1, "template", tpl.Name, "destination", rs.Destination.Name, "error", err)
	return &ExecutionError{Step: rs.Index, Template: tpl.Name, Destination: rs.Destination.Name, Err: err}
}
