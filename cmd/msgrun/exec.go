package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/msgrun/pkg/ctxlog"
	"github.com/ormasoftchile/msgrun/pkg/ecosystem/recorder"
	"github.com/ormasoftchile/msgrun/pkg/ecosystem/tui"
	"github.com/ormasoftchile/msgrun/pkg/kernel/engine"
	"github.com/ormasoftchile/msgrun/pkg/kernel/progress"
	"github.com/ormasoftchile/msgrun/pkg/kernel/result"
	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
	"github.com/ormasoftchile/msgrun/pkg/kernel/trace"
	"github.com/ormasoftchile/msgrun/pkg/workspace"
)

var (
	execSimulate bool
	execMax      int
	execTrace    string
	execTUI      bool
	execSeed     uint64
	execRecord   string
	execRedact   []string
	execPatterns []string
	execVars     []string
)

var execCmd = &cobra.Command{
	Use:   "exec [script.yaml]",
	Short: "Execute a script",
	Args:  cobra.ExactArgs(1),
	RunE:  runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	cfg, err := loadWorkspace(filePath)
	if err != nil {
		return err
	}
	overrides, err := parseVars(execVars)
	if err != nil {
		return err
	}
	maxMessages := cfg.MaxMessages
	if cmd.Flags().Changed("max") {
		if execMax < 0 {
			return fmt.Errorf("--max must not be negative, got %d", execMax)
		}
		maxMessages = execMax
	}

	sc, err := schema.LoadFile(filePath)
	if err != nil {
		return fmt.Errorf("load script: %w", err)
	}

	factories := workspace.Factories
	var rec *recorder.Recorder
	if execRecord != "" {
		rec = recorder.New()
		rec.SetSecrets(execRedact)
		for _, p := range execPatterns {
			if err := rec.AddPattern(p); err != nil {
				return err
			}
		}
		factories = rec.Factories(factories)
	}
	cat, reg, err := cfg.CatalogsWith(filePath, factories)
	if err != nil {
		return err
	}
	defer reg.Close()

	runID := uuid.NewString()
	logger := newLogger(cfg, errOut)

	var sinks result.Multi
	var tuiSink *tui.Sink
	if execTUI {
		tuiSink = tui.NewSink()
		sinks = append(sinks, tuiSink)
	} else {
		sinks = append(sinks, consoleSink(out))
	}
	tracePath := execTrace
	if tracePath == "" && cfg.TraceDir != "" {
		tracePath = filepath.Join(cfg.TraceDir, runID+".jsonl")
	}
	var tw *trace.Writer
	if tracePath != "" {
		if err := os.MkdirAll(filepath.Dir(tracePath), 0o755); err != nil {
			return fmt.Errorf("create trace dir: %w", err)
		}
		tw, err = trace.NewFileWriter(tracePath, runID)
		if err != nil {
			return err
		}
		sinks = append(sinks, tw)
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithClearLog(cfg.ClearLogBeforeExecution),
	}
	if cmd.Flags().Changed("seed") {
		opts = append(opts, engine.WithSeed(execSeed))
	}
	eng := engine.New(cat, sinks, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = ctxlog.WithLogger(ctx, logger)

	runOpts := engine.RunOptions{
		RunID:       runID,
		Simulation:  execSimulate,
		MaxMessages: maxMessages,
		Overrides:   overrides,
	}

	var res *engine.RunResult
	if execTUI {
		res, err = tui.Run(ctx, eng, tuiSink, sc, runOpts)
		if err != nil {
			return fmt.Errorf("tui: %w", err)
		}
	} else {
		fmt.Fprintf(out, "Run ID: %s\n", runID)
		if execSimulate {
			fmt.Fprintln(out, "Mode: simulation")
		}
		runOpts.Monitor = &progress.Console{W: errOut}
		res = eng.Run(ctx, sc, runOpts)
	}

	if tw != nil {
		if err := tw.Close(); err != nil {
			fmt.Fprintf(errOut, "warning: trace: %v\n", err)
		} else {
			fmt.Fprintf(out, "  Trace: %s\n", tracePath)
		}
	}
	if rec != nil {
		if err := rec.Save(execRecord, runID); err != nil {
			fmt.Fprintf(errOut, "warning: failed to save capture: %v\n", err)
		} else {
			fmt.Fprintf(out, "  Capture: %s (%d messages)\n", execRecord, len(rec.Messages()))
		}
	}
	if cfg.RunsDir != "" {
		if err := engine.SaveSummary(cfg.RunsDir, summaryOf(sc, res, execSimulate)); err != nil {
			fmt.Fprintf(errOut, "warning: failed to write run summary: %v\n", err)
		}
	}

	fmt.Fprintf(out, "%s: posted %d in %s\n", res.State, res.Posted, res.Duration.Truncate(time.Millisecond))
	switch res.State {
	case engine.StateValidationFail:
		return fmt.Errorf("validation failed: %w", res.Failure)
	case engine.StateExecutionFailed:
		return fmt.Errorf("execution failed: %w", res.Err)
	}
	return nil
}

// consoleSink prints one line per event.
func consoleSink(w io.Writer) result.Sink {
	return result.SinkFunc(func(r result.ScriptStepResult) {
		ts := r.Time
		if ts.IsZero() {
			ts = time.Now()
		}
		fmt.Fprintf(w, "  %s  %s\n", ts.Format("15:04:05.000"), r)
	})
}

// parseVars turns repeated name=value flags into an override map.
func parseVars(vars []string) (map[string]string, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(vars))
	for _, v := range vars {
		name, value, ok := strings.Cut(v, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q: expected name=value", v)
		}
		out[name] = value
	}
	return out, nil
}

func summaryOf(sc *schema.Script, res *engine.RunResult, simulate bool) *engine.Summary {
	s := &engine.Summary{
		RunID:    res.RunID,
		Script:   sc.Name,
		State:    res.State,
		Posted:   res.Posted,
		Simulate: simulate,
		Duration: res.Duration.String(),
		Finished: time.Now().UTC(),
	}
	if res.Failure != nil {
		s.Failure = res.Failure.Error()
	}
	if res.Err != nil {
		s.Error = res.Err.Error()
	}
	return s
}

func init() {
	execCmd.Flags().BoolVar(&execSimulate, "simulate", false, "Simulation mode: validate and connect, but send nothing and skip pauses")
	execCmd.Flags().IntVar(&execMax, "max", 0, "Stop after posting this many messages (0 = unbounded, default from max_messages)")
	execCmd.Flags().StringVar(&execTrace, "trace", "", "Write a hash-chained JSONL trace to this file (default: <trace_dir>/<run_id>.jsonl when trace_dir is set)")
	execCmd.Flags().BoolVar(&execTUI, "tui", false, "Follow the run in a terminal UI")
	execCmd.Flags().Uint64Var(&execSeed, "seed", 0, "Seed the variable generators for a reproducible run")
	execCmd.Flags().StringVar(&execRecord, "record", "", "Save every delivered message to this YAML file")
	execCmd.Flags().StringSliceVar(&execRedact, "redact", nil, "Environment variables whose values are redacted in the capture")
	execCmd.Flags().StringArrayVar(&execPatterns, "redact-pattern", nil, "Regular expression whose matches are redacted in the capture, repeatable")
	execCmd.Flags().StringArrayVar(&execVars, "var", nil, "Override a global variable (name=value), repeatable")
}
