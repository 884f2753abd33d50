// tickd: local ticket-tracking MCP server for AI coding assistants.
//
// Usage:
//
//	tickd serve                      # Start MCP server (stdio transport)
//	tickd verify-state --project DIR # Verify the local state mirror
//	tickd lock status|clear          # Inspect or clear the PID lock
//	tickd retention --days N         # Run conversation retention
package main

import (
	"os"

	"github.com/ralphlabs/tickd/cmd/tickd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
