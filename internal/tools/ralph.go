package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/ralphlabs/tickd/internal/ralph"
	"github.com/ralphlabs/tickd/internal/store"
)

// ─── ralph_session_start ─────────────────────────────────────────────────────

// RalphStartTool handles the ralph_session_start MCP tool.
type RalphStartTool struct {
	recorder *ralph.Recorder
}

// NewRalphStartTool creates a RalphStartTool.
func NewRalphStartTool(r *ralph.Recorder) *RalphStartTool {
	return &RalphStartTool{recorder: r}
}

// Definition returns the MCP tool definition for registration.
func (t *RalphStartTool) Definition() mcp.Tool {
	return mcp.NewTool("ralph_session_start",
		mcp.WithDescription(
			"Start a Ralph work session on a ticket. If the ticket already has "+
				"an active session, that session is returned instead of creating "+
				"a duplicate.",
		),
		mcp.WithString("ticket_id",
			mcp.Required(),
			mcp.Description("Ticket the session works on."),
		),
	)
}

// Handle processes the ralph_session_start tool call.
func (t *RalphStartTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.recorder.Create(req.GetString("ticket_id", ""))
	if err != nil {
		if isNotFound(err) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}

	title := "Session Started"
	note := ""
	if res.Existing {
		title = "Session Already Active"
		note = "\nAn active session already exists for this ticket; it is returned unchanged.\n"
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"# %s\n\n**Session:** `%s`\n**Ticket:** `%s`\n**State:** %s\n%s%s",
		title, res.Session.ID, res.Session.TicketID, res.Session.CurrentState,
		note, warningsBlock(res.Warnings),
	)), nil
}

// ─── ralph_session_transition ────────────────────────────────────────────────

// RalphTransitionTool handles the ralph_session_transition MCP tool.
type RalphTransitionTool struct {
	recorder *ralph.Recorder
}

// NewRalphTransitionTool creates a RalphTransitionTool.
func NewRalphTransitionTool(r *ralph.Recorder) *RalphTransitionTool {
	return &RalphTransitionTool{recorder: r}
}

// Definition returns the MCP tool definition for registration.
func (t *RalphTransitionTool) Definition() mcp.Tool {
	return mcp.NewTool("ralph_session_transition",
		mcp.WithDescription(
			"Record a session state transition (analyzing, implementing, "+
				"testing, committing, reviewing). Revisiting earlier states is "+
				"allowed; every transition is appended to the session history and "+
				"synced to the project's local state mirror.",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Active session ID."),
		),
		mcp.WithString("state",
			mcp.Required(),
			mcp.Description("New state: idle, analyzing, implementing, testing, committing, reviewing."),
		),
		mcp.WithString("tool",
			mcp.Description("Tool in use when the transition happened."),
		),
		mcp.WithString("file",
			mcp.Description("File being worked on."),
		),
		mcp.WithString("command",
			mcp.Description("Command being run."),
		),
		mcp.WithString("note",
			mcp.Description("Free-form annotation."),
		),
		mcp.WithString("extra",
			mcp.Description("Optional JSON object with additional metadata fields."),
		),
	)
}

// Handle processes the ralph_session_transition tool call.
func (t *RalphTransitionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	state := store.RalphState(req.GetString("state", ""))

	meta := store.TransitionMeta{
		Tool:    req.GetString("tool", ""),
		File:    req.GetString("file", ""),
		Command: req.GetString("command", ""),
		Note:    req.GetString("note", ""),
	}
	if raw := req.GetString("extra", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta.Extra); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("`extra` is not a JSON object: %v", err)), nil
		}
	}

	if err := store.ValidateRalphState(state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := t.recorder.Transition(sessionID, state, meta)
	if err != nil {
		if isNotFound(err) || errors.Is(err, ralph.ErrCompleted) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"# Transition Recorded\n\n**Session:** `%s`\n**State:** %s\n%s",
		res.Session.ID, res.Session.CurrentState, warningsBlock(res.Warnings),
	)), nil
}

// ─── ralph_session_complete ──────────────────────────────────────────────────

// RalphCompleteTool handles the ralph_session_complete MCP tool.
type RalphCompleteTool struct {
	recorder *ralph.Recorder
}

// NewRalphCompleteTool creates a RalphCompleteTool.
func NewRalphCompleteTool(r *ralph.Recorder) *RalphCompleteTool {
	return &RalphCompleteTool{recorder: r}
}

// Definition returns the MCP tool definition for registration.
func (t *RalphCompleteTool) Definition() mcp.Tool {
	return mcp.NewTool("ralph_session_complete",
		mcp.WithDescription(
			"Complete a session with an outcome (success, failure, timeout, "+
				"cancelled) and remove the project's local state mirror.",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Active session ID."),
		),
		mcp.WithString("outcome",
			mcp.Required(),
			mcp.Description("Terminal outcome: success, failure, timeout, or cancelled."),
		),
		mcp.WithString("error",
			mcp.Description("Error message, for failure outcomes."),
		),
	)
}

// Handle processes the ralph_session_complete tool call.
func (t *RalphCompleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	outcome := store.Outcome(req.GetString("outcome", ""))
	errMsg := req.GetString("error", "")

	if err := store.ValidateOutcome(outcome); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := t.recorder.Complete(sessionID, outcome, errMsg)
	if err != nil {
		if isNotFound(err) || errors.Is(err, ralph.ErrCompleted) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}

	history, err := t.recorder.History(sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session history: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Session Completed\n\n**Session:** `%s`\n**Outcome:** %s\n\n## History\n\n",
		res.Session.ID, outcome)
	for _, h := range history {
		fmt.Fprintf(&b, "- %s (%s)\n", h.State, h.CreatedAt)
	}
	b.WriteString(warningsBlock(res.Warnings))
	return mcp.NewToolResultText(b.String()), nil
}
