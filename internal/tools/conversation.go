package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/ralphlabs/tickd/internal/compliance"
	"github.com/ralphlabs/tickd/internal/store"
)

// ─── conversation_start ──────────────────────────────────────────────────────

// ConversationStartTool handles the conversation_start MCP tool.
type ConversationStartTool struct {
	log *compliance.Log
}

// NewConversationStartTool creates a ConversationStartTool.
func NewConversationStartTool(l *compliance.Log) *ConversationStartTool {
	return &ConversationStartTool{log: l}
}

// Definition returns the MCP tool definition for registration.
func (t *ConversationStartTool) Definition() mcp.Tool {
	return mcp.NewTool("conversation_start",
		mcp.WithDescription(
			"Open a conversation session for compliance logging. Messages are "+
				"appended with `conversation_log` and hashed for tamper detection.",
		),
		mcp.WithString("project_id",
			mcp.Description("Optional owning project."),
		),
		mcp.WithString("ticket_id",
			mcp.Description("Optional ticket the conversation is about."),
		),
		mcp.WithString("environment",
			mcp.Description("Execution environment tag. Defaults to \"local\"."),
		),
		mcp.WithString("data_classification",
			mcp.Description("Classification label. Defaults to \"internal\"."),
		),
		mcp.WithBoolean("legal_hold",
			mcp.Description("Exempt this session from retention deletion."),
		),
	)
}

// Handle processes the conversation_start tool call.
func (t *ConversationStartTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := t.log.Start(store.StartConversationParams{
		ProjectID:          req.GetString("project_id", ""),
		TicketID:           req.GetString("ticket_id", ""),
		Environment:        req.GetString("environment", ""),
		DataClassification: req.GetString("data_classification", ""),
		LegalHold:          boolArg(req, "legal_hold", false),
	})
	if err != nil {
		return nil, fmt.Errorf("starting conversation: %w", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"# Conversation Started\n\n**Session:** `%s`\n**Environment:** %s\n**Classification:** %s\n**Legal hold:** %t\n",
		sess.ID, sess.Environment, sess.DataClassification, sess.LegalHold,
	)), nil
}

// ─── conversation_log ────────────────────────────────────────────────────────

// ConversationLogTool handles the conversation_log MCP tool.
type ConversationLogTool struct {
	log *compliance.Log
}

// NewConversationLogTool creates a ConversationLogTool.
func NewConversationLogTool(l *compliance.Log) *ConversationLogTool {
	return &ConversationLogTool{log: l}
}

// Definition returns the MCP tool definition for registration.
func (t *ConversationLogTool) Definition() mcp.Tool {
	return mcp.NewTool("conversation_log",
		mcp.WithDescription(
			"Append one message to an open conversation session. Sequence "+
				"numbers are assigned server-side, gapless from 1.",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Open conversation session."),
		),
		mcp.WithString("role",
			mcp.Required(),
			mcp.Description("Message role (user, assistant, system, tool)."),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Message content."),
		),
		mcp.WithBoolean("contains_potential_secrets",
			mcp.Description("Flag the message for secret-scanning follow-up."),
		),
	)
}

// Handle processes the conversation_log tool call.
func (t *ConversationLogTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := t.log.Append(
		req.GetString("session_id", ""),
		req.GetString("role", ""),
		req.GetString("content", ""),
		boolArg(req, "contains_potential_secrets", false),
	)
	if err != nil {
		if isNotFound(err) || errors.Is(err, compliance.ErrSessionEnded) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, fmt.Errorf("logging message: %w", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Message %d logged to session `%s`.", m.SequenceNumber, m.SessionID,
	)), nil
}

// ─── conversation_end ────────────────────────────────────────────────────────

// ConversationEndTool handles the conversation_end MCP tool.
type ConversationEndTool struct {
	log *compliance.Log
}

// NewConversationEndTool creates a ConversationEndTool.
func NewConversationEndTool(l *compliance.Log) *ConversationEndTool {
	return &ConversationEndTool{log: l}
}

// Definition returns the MCP tool definition for registration.
func (t *ConversationEndTool) Definition() mcp.Tool {
	return mcp.NewTool("conversation_end",
		mcp.WithDescription("Close a conversation session to further messages."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session to close."),
		),
	)
}

// Handle processes the conversation_end tool call.
func (t *ConversationEndTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if err := t.log.End(sessionID); err != nil {
		if isNotFound(err) {
			return mcp.NewToolResultError(fmt.Sprintf("Session %q not found.", sessionID)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Session `%s` ended.", sessionID)), nil
}

// ─── conversation_export ─────────────────────────────────────────────────────

// ConversationExportTool handles the conversation_export MCP tool.
type ConversationExportTool struct {
	log *compliance.Log
}

// NewConversationExportTool creates a ConversationExportTool.
func NewConversationExportTool(l *compliance.Log) *ConversationExportTool {
	return &ConversationExportTool{log: l}
}

// Definition returns the MCP tool definition for registration.
func (t *ConversationExportTool) Definition() mcp.Tool {
	return mcp.NewTool("conversation_export",
		mcp.WithDescription(
			"Export a conversation session with every message hash re-verified. "+
				"Failed checks are flagged in the output but never block the export.",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session to export."),
		),
	)
}

// Handle processes the conversation_export tool call.
func (t *ConversationExportTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")

	exp, err := t.log.ExportSession(sessionID)
	if err != nil {
		if isNotFound(err) {
			return mcp.NewToolResultError(fmt.Sprintf("Session %q not found.", sessionID)), nil
		}
		return nil, fmt.Errorf("exporting session: %w", err)
	}

	verdict := "✅ all message hashes verified"
	if !exp.AllValid {
		verdict = "⚠️ one or more messages failed hash verification — possible tampering"
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"# Conversation Export\n\n**Session:** `%s`\n**Messages:** %d\n**Integrity:** %s\n\n%s",
		sessionID, len(exp.Messages), verdict, jsonBlock(exp),
	)), nil
}
