package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/ralphlabs/tickd/internal/store"
)

// ─── project_create ──────────────────────────────────────────────────────────

// ProjectCreateTool handles the project_create MCP tool.
type ProjectCreateTool struct {
	store *store.Store
}

// NewProjectCreateTool creates a ProjectCreateTool over the shared store.
func NewProjectCreateTool(s *store.Store) *ProjectCreateTool {
	return &ProjectCreateTool{store: s}
}

// Definition returns the MCP tool definition for registration.
func (t *ProjectCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("project_create",
		mcp.WithDescription(
			"Register a project. `path` must be the project's repository root — "+
				"working branches and the local state mirror are created under it.",
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Project name."),
		),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path to the project's repository root."),
		),
	)
}

// Handle processes the project_create tool call.
func (t *ProjectCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	path := req.GetString("path", "")
	if name == "" || path == "" {
		return mcp.NewToolResultError("Both `name` and `path` are required."), nil
	}

	p, err := t.store.CreateProject(name, path)
	if err != nil {
		return nil, fmt.Errorf("creating project: %w", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"# Project Created\n\n**ID:** `%s`\n**Name:** %s\n**Path:** `%s`\n",
		p.ID, p.Name, p.Path,
	)), nil
}

// ─── epic_create ─────────────────────────────────────────────────────────────

// EpicCreateTool handles the epic_create MCP tool.
type EpicCreateTool struct {
	store *store.Store
}

// NewEpicCreateTool creates an EpicCreateTool over the shared store.
func NewEpicCreateTool(s *store.Store) *EpicCreateTool {
	return &EpicCreateTool{store: s}
}

// Definition returns the MCP tool definition for registration.
func (t *EpicCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("epic_create",
		mcp.WithDescription("Create an epic inside a project to group related tickets."),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Owning project ID."),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Epic title."),
		),
	)
}

// Handle processes the epic_create tool call.
func (t *EpicCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := req.GetString("project_id", "")
	title := req.GetString("title", "")

	e, err := t.store.CreateEpic(projectID, title)
	if err != nil {
		if isNotFound(err) {
			return mcp.NewToolResultError(fmt.Sprintf("Project %q not found.", projectID)), nil
		}
		return nil, fmt.Errorf("creating epic: %w", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"# Epic Created\n\n**ID:** `%s`\n**Title:** %s\n", e.ID, e.Title,
	)), nil
}

// ─── ticket_create ───────────────────────────────────────────────────────────

// TicketCreateTool handles the ticket_create MCP tool.
type TicketCreateTool struct {
	store *store.Store
}

// NewTicketCreateTool creates a TicketCreateTool over the shared store.
func NewTicketCreateTool(s *store.Store) *TicketCreateTool {
	return &TicketCreateTool{store: s}
}

// Definition returns the MCP tool definition for registration.
func (t *TicketCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("ticket_create",
		mcp.WithDescription("Create a ticket in backlog. Move it with `ticket_start`."),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Owning project ID."),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Ticket title. Also seeds the working branch name."),
		),
		mcp.WithString("description",
			mcp.Description("What the ticket covers."),
		),
		mcp.WithString("epic_id",
			mcp.Description("Optional epic to attach the ticket to."),
		),
	)
}

// Handle processes the ticket_create tool call.
func (t *TicketCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p := store.CreateTicketParams{
		ProjectID:   req.GetString("project_id", ""),
		EpicID:      req.GetString("epic_id", ""),
		Title:       req.GetString("title", ""),
		Description: req.GetString("description", ""),
	}
	if p.Title == "" {
		return mcp.NewToolResultError("`title` is required."), nil
	}

	tk, err := t.store.CreateTicket(p)
	if err != nil {
		if isNotFound(err) {
			return mcp.NewToolResultError(fmt.Sprintf("Project %q not found.", p.ProjectID)), nil
		}
		return nil, fmt.Errorf("creating ticket: %w", err)
	}
	return mcp.NewToolResultText("# Ticket Created\n\n" + ticketBlock(tk)), nil
}

// ─── ticket_get ──────────────────────────────────────────────────────────────

// TicketGetTool handles the ticket_get MCP tool.
type TicketGetTool struct {
	store *store.Store
}

// NewTicketGetTool creates a TicketGetTool over the shared store.
func NewTicketGetTool(s *store.Store) *TicketGetTool {
	return &TicketGetTool{store: s}
}

// Definition returns the MCP tool definition for registration.
func (t *TicketGetTool) Definition() mcp.Tool {
	return mcp.NewTool("ticket_get",
		mcp.WithDescription(
			"Show a ticket with its comments, review findings, and workflow state.",
		),
		mcp.WithString("ticket_id",
			mcp.Required(),
			mcp.Description("Ticket ID to inspect."),
		),
	)
}

// Handle processes the ticket_get tool call.
func (t *TicketGetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ticketID := req.GetString("ticket_id", "")

	tk, err := t.store.GetTicket(ticketID)
	if err != nil {
		if isNotFound(err) {
			return mcp.NewToolResultError(fmt.Sprintf("Ticket %q not found.", ticketID)), nil
		}
		return nil, fmt.Errorf("loading ticket: %w", err)
	}

	var b strings.Builder
	b.WriteString("# Ticket\n\n")
	b.WriteString(ticketBlock(tk))
	if tk.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", tk.Description)
	}

	if ws, err := t.store.GetWorkflowState(ticketID); err == nil {
		fmt.Fprintf(&b, "\n## Review\n\n**Iteration:** %d\n**Findings:** %d (%d fixed)\n**Demo generated:** %t\n",
			ws.ReviewIteration, ws.FindingsCount, ws.FindingsFixed, ws.DemoGenerated)
	}

	findings, err := t.store.ListFindings(ticketID)
	if err != nil {
		return nil, fmt.Errorf("loading findings: %w", err)
	}
	if len(findings) > 0 {
		b.WriteString("\n| Finding | Severity | Status |\n|---------|----------|--------|\n")
		for _, f := range findings {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", f.Description, f.Severity, f.Status)
		}
	}

	comments, err := t.store.ListComments(ticketID)
	if err != nil {
		return nil, fmt.Errorf("loading comments: %w", err)
	}
	if len(comments) > 0 {
		b.WriteString("\n## Comments\n\n")
		for _, c := range comments {
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", c.Author, c.CreatedAt, c.Body)
		}
	}

	return mcp.NewToolResultText(b.String()), nil
}

// ─── ticket_list ─────────────────────────────────────────────────────────────

// TicketListTool handles the ticket_list MCP tool.
type TicketListTool struct {
	store *store.Store
}

// NewTicketListTool creates a TicketListTool over the shared store.
func NewTicketListTool(s *store.Store) *TicketListTool {
	return &TicketListTool{store: s}
}

// Definition returns the MCP tool definition for registration.
func (t *TicketListTool) Definition() mcp.Tool {
	return mcp.NewTool("ticket_list",
		mcp.WithDescription("List a project's tickets, optionally filtered by status."),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project whose tickets to list."),
		),
		mcp.WithString("status",
			mcp.Description("Optional status filter (backlog, ready, in_progress, review, ai_review, human_review, done)."),
		),
	)
}

// Handle processes the ticket_list tool call.
func (t *TicketListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := req.GetString("project_id", "")
	status := store.TicketStatus(req.GetString("status", ""))

	if status != "" {
		if err := store.ValidateStatus(status); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	tickets, err := t.store.ListTickets(projectID, status)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	if len(tickets) == 0 {
		return mcp.NewToolResultText("No tickets found."), nil
	}

	var b strings.Builder
	b.WriteString("| ID | Title | Status |\n|----|-------|--------|\n")
	for _, tk := range tickets {
		fmt.Fprintf(&b, "| `%s` | %s | %s |\n", tk.ID, tk.Title, tk.Status)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// ─── comment_add ─────────────────────────────────────────────────────────────

// CommentAddTool handles the comment_add MCP tool.
type CommentAddTool struct {
	store *store.Store
}

// NewCommentAddTool creates a CommentAddTool over the shared store.
func NewCommentAddTool(s *store.Store) *CommentAddTool {
	return &CommentAddTool{store: s}
}

// Definition returns the MCP tool definition for registration.
func (t *CommentAddTool) Definition() mcp.Tool {
	return mcp.NewTool("comment_add",
		mcp.WithDescription("Add a comment to a ticket."),
		mcp.WithString("ticket_id",
			mcp.Required(),
			mcp.Description("Ticket to comment on."),
		),
		mcp.WithString("author",
			mcp.Required(),
			mcp.Description("Comment author (agent name or user handle)."),
		),
		mcp.WithString("body",
			mcp.Required(),
			mcp.Description("Comment text."),
		),
	)
}

// Handle processes the comment_add tool call.
func (t *CommentAddTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ticketID := req.GetString("ticket_id", "")
	author := req.GetString("author", "")
	body := req.GetString("body", "")
	if body == "" {
		return mcp.NewToolResultError("`body` is required."), nil
	}

	if _, err := t.store.GetTicket(ticketID); err != nil {
		if isNotFound(err) {
			return mcp.NewToolResultError(fmt.Sprintf("Ticket %q not found.", ticketID)), nil
		}
		return nil, fmt.Errorf("loading ticket: %w", err)
	}

	c, err := t.store.AddComment(ticketID, author, body)
	if err != nil {
		return nil, fmt.Errorf("adding comment: %w", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Comment %d added to ticket `%s`.", c.ID, ticketID)), nil
}
