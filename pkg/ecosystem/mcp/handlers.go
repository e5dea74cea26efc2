package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/msgrun/pkg/ctxlog"
	"github.com/ormasoftchile/msgrun/pkg/kernel/engine"
	"github.com/ormasoftchile/msgrun/pkg/kernel/result"
	kschema "github.com/ormasoftchile/msgrun/pkg/kernel/schema"
	kvalidate "github.com/ormasoftchile/msgrun/pkg/kernel/validate"
	"github.com/ormasoftchile/msgrun/pkg/workspace"
)

// HandleValidate implements the msgrun/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	configFile, _ := args["config"].(string)

	cfg, err := workspace.Load(configFile, path)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	cat, loadErrs := cfg.ValidationCatalogs()
	if len(loadErrs) > 0 {
		return errorResult(fmt.Sprintf("load catalogs: %v", loadErrs[0])), nil
	}

	sc, errs := kvalidate.ValidateFile(path, cat)
	if kvalidate.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	msg := fmt.Sprintf("✓ %s is valid (%d steps)", sc.Name, len(sc.Steps))
	if w := formatWarnings(errs); w != "" {
		msg += "\nwarnings: " + w
	}
	return textResult(msg), nil
}

// HandleSchema implements the msgrun/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	docType, _ := args["type"].(string)

	data, err := kschema.GenerateJSONSchema(docType)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleTemplates implements the msgrun/templates MCP tool.
func HandleTemplates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	dir, _ := args["dir"].(string)
	if dir == "" {
		return errorResult("dir argument is required"), nil
	}
	configFile, _ := args["config"].(string)

	cfg, err := workspace.Load(configFile, dir)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	names, err := cfg.Templates().Names()
	if err != nil {
		return errorResult(fmt.Sprintf("list templates: %s", err)), nil
	}
	data, _ := json.MarshalIndent(map[string]any{
		"templates_dir": cfg.TemplatesDir,
		"templates":     names,
	}, "", "  ")
	return textResult(string(data)), nil
}

// HandleExec implements the msgrun/exec MCP tool.
func HandleExec(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	configFile, _ := args["config"].(string)
	simulate := true // safe default for AI agents
	if v, ok := args["simulate"].(bool); ok {
		simulate = v
	}

	cfg, err := workspace.Load(configFile, path)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	maxMessages := cfg.MaxMessages
	if v, ok := args["max"].(float64); ok && v > 0 {
		maxMessages = int(v)
	}

	sc, err := kschema.LoadFile(path)
	if err != nil {
		return errorResult(fmt.Sprintf("load script: %s", err)), nil
	}
	cat, reg, err := cfg.Catalogs(path)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	defer reg.Close()

	rec := &result.Recorder{}
	eng := engine.New(cat, rec,
		engine.WithLogger(ctxlog.FromContext(ctx)),
		engine.WithClearLog(cfg.ClearLogBeforeExecution),
	)
	res := eng.Run(ctx, sc, engine.RunOptions{Simulation: simulate, MaxMessages: maxMessages})

	// Build response
	response := map[string]any{
		"run_id":   res.RunID,
		"state":    string(res.State),
		"posted":   res.Posted,
		"simulate": simulate,
		"duration": res.Duration.String(),
		"events":   eventLines(rec.Events()),
	}
	if res.Failure != nil {
		response["failure"] = map[string]any{
			"kind":    string(res.Failure.Kind),
			"name":    res.Failure.Name,
			"message": res.Failure.Message,
		}
	}
	if res.Err != nil {
		response["error"] = res.Err.Error()
	}

	data, _ := json.MarshalIndent(response, "", "  ")

	isErr := res.State == engine.StateValidationFail || res.State == engine.StateExecutionFailed
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: isErr,
	}, nil
}

func eventLines(evs []result.ScriptStepResult) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.String())
	}
	return out
}

func formatErrors(errs []*kvalidate.ValidationError) string {
	return formatSeverity(errs, "error")
}

func formatWarnings(errs []*kvalidate.ValidationError) string {
	return formatSeverity(errs, "warning")
}

func formatSeverity(errs []*kvalidate.ValidationError, severity string) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == severity {
			msgs = append(msgs, e.Error())
		}
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
