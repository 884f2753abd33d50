// Package tools implements the MCP tool handlers.
//
// Each tool is a struct that receives its dependencies at construction and
// exposes Definition/Handle for registration. Precondition failures are
// returned as tool errors naming the unmet condition and the current state;
// transport-level errors are returned as Go errors.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/ralphlabs/tickd/internal/store"
)

// isNotFound reports whether err is the store's missing-row sentinel.
func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// intArg extracts an integer parameter. JSON numbers arrive as float64.
func intArg(req mcp.CallToolRequest, key string, def int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return def
	}
	return int(v)
}

// boolArg extracts a boolean parameter.
func boolArg(req mcp.CallToolRequest, key string, def bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return def
	}
	return v
}

// ticketBlock renders the standard ticket summary used by most responses.
func ticketBlock(t *store.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Ticket:** `%s`\n", t.ID)
	fmt.Fprintf(&b, "**Title:** %s\n", t.Title)
	fmt.Fprintf(&b, "**Status:** %s\n", t.Status)
	if t.Branch != nil {
		fmt.Fprintf(&b, "**Branch:** `%s`\n", *t.Branch)
	}
	if t.PRNumber != nil {
		fmt.Fprintf(&b, "**PR:** #%d", *t.PRNumber)
		if t.PRStatus != nil {
			fmt.Fprintf(&b, " (%s)", *t.PRStatus)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// warningsBlock renders best-effort failures that accompanied a successful
// transition. Empty input renders nothing.
func warningsBlock(warnings []string) string {
	if len(warnings) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n## Warnings\n\n")
	for _, w := range warnings {
		fmt.Fprintf(&b, "- ⚠️ %s\n", w)
	}
	return b.String()
}

// jsonBlock renders a value as an indented JSON code fence.
func jsonBlock(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("```\n(encoding error: %v)\n```", err)
	}
	return fmt.Sprintf("```json\n%s\n```", data)
}
