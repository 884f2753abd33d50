package tools

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/ralphlabs/tickd/internal/lock"
)

// LockStatusTool handles the lock_status MCP tool.
type LockStatusTool struct {
	manager *lock.Manager
}

// NewLockStatusTool creates a LockStatusTool over the server's lock manager.
func NewLockStatusTool(m *lock.Manager) *LockStatusTool {
	return &LockStatusTool{manager: m}
}

// Definition returns the MCP tool definition for registration.
func (t *LockStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("lock_status",
		mcp.WithDescription(
			"Report the advisory PID lock: current record, whether its owner "+
				"is alive, and whether this process holds it.",
		),
	)
}

// Handle processes the lock_status tool call.
func (t *LockStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec, err := t.manager.Read()
	if err != nil {
		if os.IsNotExist(err) {
			return mcp.NewToolResultText(fmt.Sprintf(
				"# Lock Status\n\nNo lock file at `%s` — nothing holds the lock.\n",
				t.manager.Path(),
			)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Could not read lock file: %v", err)), nil
	}

	liveness := "alive"
	if t.manager.IsStale(rec) {
		liveness = "dead (stale lock)"
	}
	holder := ""
	if rec.PID == os.Getpid() {
		holder = "\nThis process holds the lock.\n"
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"# Lock Status\n\n**File:** `%s`\n**Owner PID:** %d (%s)\n**Owner type:** %s\n**Started:** %s\n%s",
		t.manager.Path(), rec.PID, liveness, rec.Type, rec.StartedAt, holder,
	)), nil
}
