// Package main provides the msgrun-mcp binary, an MCP server for AI agents.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mmcp "github.com/ormasoftchile/msgrun/pkg/ecosystem/mcp"
)

var version = "dev"

func main() {
	s := mmcp.NewServer(version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
