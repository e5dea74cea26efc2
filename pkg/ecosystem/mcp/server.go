package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with msgrun tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"msgrun",
		version,
		server.WithToolCapabilities(true),
	)

	// Register tools
	s.AddTool(
		mcp.NewTool("msgrun/validate",
			mcp.WithDescription("Statically validate a msgrun script against the workspace catalogs"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the script YAML file")),
			mcp.WithString("config", mcp.Description("Path to msgrun.yaml (discovered from the script when omitted)")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("msgrun/exec",
			mcp.WithDescription("Execute a msgrun script (defaults to simulation: nothing is sent)"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the script YAML file")),
			mcp.WithString("config", mcp.Description("Path to msgrun.yaml (discovered from the script when omitted)")),
			mcp.WithBoolean("simulate", mcp.Description("Simulate the run without sending or sleeping (default true)")),
			mcp.WithNumber("max", mcp.Description("Stop after this many messages (0 = workspace default)")),
		),
		HandleExec,
	)

	s.AddTool(
		mcp.NewTool("msgrun/schema",
			mcp.WithDescription("Export msgrun JSON Schema"),
			mcp.WithString("type", mcp.Required(), mcp.Description("Document type: script, template, sessions or variables")),
		),
		HandleSchema,
	)

	s.AddTool(
		mcp.NewTool("msgrun/templates",
			mcp.WithDescription("List the templates available in a workspace"),
			mcp.WithString("dir", mcp.Required(), mcp.Description("Workspace directory or any file inside it")),
			mcp.WithString("config", mcp.Description("Path to msgrun.yaml (discovered from dir when omitted)")),
		),
		HandleTemplates,
	)

	return s
}
