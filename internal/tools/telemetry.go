package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/ralphlabs/tickd/internal/store"
)

// TelemetryRecordTool handles the telemetry_record MCP tool.
type TelemetryRecordTool struct {
	store *store.Store
}

// NewTelemetryRecordTool creates a TelemetryRecordTool.
func NewTelemetryRecordTool(s *store.Store) *TelemetryRecordTool {
	return &TelemetryRecordTool{store: s}
}

// Definition returns the MCP tool definition for registration.
func (t *TelemetryRecordTool) Definition() mcp.Tool {
	return mcp.NewTool("telemetry_record",
		mcp.WithDescription(
			"Append a telemetry event. Events are local-only observations "+
				"(tool usage, timings) — nothing leaves the machine.",
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Event kind, e.g. tool_call, state_transition."),
		),
		mcp.WithString("ticket_id",
			mcp.Description("Optional related ticket."),
		),
		mcp.WithString("session_id",
			mcp.Description("Optional related session."),
		),
		mcp.WithString("payload",
			mcp.Description("Optional JSON payload."),
		),
	)
}

// Handle processes the telemetry_record tool call.
func (t *TelemetryRecordTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind := req.GetString("kind", "")
	if kind == "" {
		return mcp.NewToolResultError("`kind` is required."), nil
	}

	err := t.store.RecordTelemetry(
		kind,
		req.GetString("ticket_id", ""),
		req.GetString("session_id", ""),
		req.GetString("payload", ""),
	)
	if err != nil {
		return nil, fmt.Errorf("recording telemetry: %w", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Telemetry event %q recorded.", kind)), nil
}
