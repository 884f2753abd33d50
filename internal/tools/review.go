package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/ralphlabs/tickd/internal/config"
	"github.com/ralphlabs/tickd/internal/store"
	"github.com/ralphlabs/tickd/internal/workflow"
)

// transitionResult renders a successful workflow transition, or maps a
// guard failure to a tool error for the caller to act on.
func transitionResult(title string, res *workflow.Result, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		if isNotFound(err) || errors.Is(err, workflow.ErrPrecondition) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}
	return mcp.NewToolResultText(
		"# " + title + "\n\n" + ticketBlock(res.Ticket) + warningsBlock(res.Warnings),
	), nil
}

// projectDirFor resolves a ticket's repository root via its project row.
func projectDirFor(s *store.Store, ticketID string) (string, error) {
	tk, err := s.GetTicket(ticketID)
	if err != nil {
		return "", err
	}
	p, err := s.GetProject(tk.ProjectID)
	if err != nil {
		return "", err
	}
	return p.Path, nil
}

// ─── ticket_start ────────────────────────────────────────────────────────────

// TicketStartTool handles the ticket_start MCP tool.
type TicketStartTool struct {
	store   *store.Store
	machine *workflow.Machine
}

// NewTicketStartTool creates a TicketStartTool.
func NewTicketStartTool(s *store.Store, m *workflow.Machine) *TicketStartTool {
	return &TicketStartTool{store: s, machine: m}
}

// Definition returns the MCP tool definition for registration.
func (t *TicketStartTool) Definition() mcp.Tool {
	return mcp.NewTool("ticket_start",
		mcp.WithDescription(
			"Move a ticket to in_progress and create its working branch "+
				"(named from the title slug). Branch creation failure is reported "+
				"as a warning, not an error.",
		),
		mcp.WithString("ticket_id",
			mcp.Required(),
			mcp.Description("Ticket to start."),
		),
	)
}

// Handle processes the ticket_start tool call.
func (t *TicketStartTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ticketID := req.GetString("ticket_id", "")

	dir, err := projectDirFor(t.store, ticketID)
	if err != nil {
		if isNotFound(err) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}

	res, err := t.machine.Start(ticketID, dir)
	return transitionResult("Ticket Started", res, err)
}

// ─── ticket_submit_for_review ────────────────────────────────────────────────

// SubmitForReviewTool handles the ticket_submit_for_review MCP tool.
type SubmitForReviewTool struct {
	store   *store.Store
	machine *workflow.Machine
}

// NewSubmitForReviewTool creates a SubmitForReviewTool.
func NewSubmitForReviewTool(s *store.Store, m *workflow.Machine) *SubmitForReviewTool {
	return &SubmitForReviewTool{store: s, machine: m}
}

// Definition returns the MCP tool definition for registration.
func (t *SubmitForReviewTool) Definition() mcp.Tool {
	return mcp.NewTool("ticket_submit_for_review",
		mcp.WithDescription(
			"Move an in_progress ticket to review and return a suggested PR "+
				"description built from the branch's commit log.",
		),
		mcp.WithString("ticket_id",
			mcp.Required(),
			mcp.Description("Ticket to submit."),
		),
	)
}

// Handle processes the ticket_submit_for_review tool call.
func (t *SubmitForReviewTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ticketID := req.GetString("ticket_id", "")

	dir, err := projectDirFor(t.store, ticketID)
	if err != nil {
		if isNotFound(err) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}

	cfg, err := config.LoadProjectConfig(dir)
	if err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	res, prBody, err := t.machine.SubmitForReview(ticketID, dir, cfg.BaseBranch)
	if err != nil {
		if isNotFound(err) || errors.Is(err, workflow.ErrPrecondition) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"# Submitted For Review\n\n%s\n## Suggested PR Description\n\n%s\n%s",
		ticketBlock(res.Ticket), prBody, warningsBlock(res.Warnings),
	)), nil
}

// ─── ticket_request_ai_review ────────────────────────────────────────────────

// RequestAIReviewTool handles the ticket_request_ai_review MCP tool.
type RequestAIReviewTool struct {
	machine *workflow.Machine
}

// NewRequestAIReviewTool creates a RequestAIReviewTool.
func NewRequestAIReviewTool(m *workflow.Machine) *RequestAIReviewTool {
	return &RequestAIReviewTool{machine: m}
}

// Definition returns the MCP tool definition for registration.
func (t *RequestAIReviewTool) Definition() mcp.Tool {
	return mcp.NewTool("ticket_request_ai_review",
		mcp.WithDescription(
			"Move a ticket to ai_review so review agents can submit findings. "+
				"Allowed from in_progress or review.",
		),
		mcp.WithString("ticket_id",
			mcp.Required(),
			mcp.Description("Ticket to hand to review agents."),
		),
	)
}

// Handle processes the ticket_request_ai_review tool call.
func (t *RequestAIReviewTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.machine.RequestAIReview(req.GetString("ticket_id", ""))
	return transitionResult("AI Review Requested", res, err)
}

// ─── review_submit_findings ──────────────────────────────────────────────────

// SubmitFindingsTool handles the review_submit_findings MCP tool.
type SubmitFindingsTool struct {
	machine *workflow.Machine
}

// NewSubmitFindingsTool creates a SubmitFindingsTool.
func NewSubmitFindingsTool(m *workflow.Machine) *SubmitFindingsTool {
	return &SubmitFindingsTool{machine: m}
}

// findingInput is the JSON shape of one finding in the submission batch.
type findingInput struct {
	Agent       string `json:"agent"`
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// Definition returns the MCP tool definition for registration.
func (t *SubmitFindingsTool) Definition() mcp.Tool {
	return mcp.NewTool("review_submit_findings",
		mcp.WithDescription(
			"Record a batch of review findings against a ticket in ai_review. "+
				"`findings` is a JSON array of objects with agent, severity "+
				"(critical|major|minor|suggestion), category, and description. "+
				"The batch is atomic: one invalid finding rejects the whole batch.",
		),
		mcp.WithString("ticket_id",
			mcp.Required(),
			mcp.Description("Ticket under AI review."),
		),
		mcp.WithString("findings",
			mcp.Required(),
			mcp.Description(`JSON array, e.g. [{"agent":"reviewer","severity":"major","category":"correctness","description":"..."}]`),
		),
	)
}

// Handle processes the review_submit_findings tool call.
func (t *SubmitFindingsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ticketID := req.GetString("ticket_id", "")
	raw := req.GetString("findings", "")

	var inputs []findingInput
	if err := json.Unmarshal([]byte(raw), &inputs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("`findings` is not a JSON array: %v", err)), nil
	}
	if len(inputs) == 0 {
		return mcp.NewToolResultError("`findings` must contain at least one finding."), nil
	}

	batch := make([]store.NewFindingParams, 0, len(inputs))
	for _, in := range inputs {
		batch = append(batch, store.NewFindingParams{
			Agent:       in.Agent,
			Severity:    store.Severity(in.Severity),
			Category:    in.Category,
			Description: in.Description,
		})
	}

	res, findings, err := t.machine.SubmitFindings(ticketID, batch)
	if err != nil {
		if isNotFound(err) || errors.Is(err, workflow.ErrPrecondition) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Findings Recorded\n\n%s\n**Recorded:** %d finding(s)\n\n", ticketBlock(res.Ticket), len(findings))
	b.WriteString("| ID | Severity | Description |\n|----|----------|-------------|\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "| `%s` | %s | %s |\n", f.ID, f.Severity, f.Description)
	}
	b.WriteString(warningsBlock(res.Warnings))
	return mcp.NewToolResultText(b.String()), nil
}

// ─── finding_resolve ─────────────────────────────────────────────────────────

// FindingResolveTool handles the finding_resolve MCP tool.
type FindingResolveTool struct {
	machine *workflow.Machine
}

// NewFindingResolveTool creates a FindingResolveTool.
func NewFindingResolveTool(m *workflow.Machine) *FindingResolveTool {
	return &FindingResolveTool{machine: m}
}

// Definition returns the MCP tool definition for registration.
func (t *FindingResolveTool) Definition() mcp.Tool {
	return mcp.NewTool("finding_resolve",
		mcp.WithDescription(
			"Resolve a review finding as fixed, wont_fix, or duplicate. "+
				"Only `fixed` counts toward the fixed tally.",
		),
		mcp.WithString("finding_id",
			mcp.Required(),
			mcp.Description("Finding to resolve."),
		),
		mcp.WithString("status",
			mcp.Required(),
			mcp.Description("Resolution status: fixed, wont_fix, or duplicate."),
		),
	)
}

// Handle processes the finding_resolve tool call.
func (t *FindingResolveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	findingID := req.GetString("finding_id", "")
	status := store.FindingStatus(req.GetString("status", ""))

	res, f, err := t.machine.ResolveFinding(findingID, status)
	if err != nil {
		if isNotFound(err) || errors.Is(err, workflow.ErrPrecondition) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"# Finding Resolved\n\n**Finding:** `%s`\n**Status:** %s\n%s",
		f.ID, f.Status, warningsBlock(res.Warnings),
	)), nil
}

// ─── demo_generate ───────────────────────────────────────────────────────────

// DemoGenerateTool handles the demo_generate MCP tool.
type DemoGenerateTool struct {
	machine *workflow.Machine
}

// NewDemoGenerateTool creates a DemoGenerateTool.
func NewDemoGenerateTool(m *workflow.Machine) *DemoGenerateTool {
	return &DemoGenerateTool{machine: m}
}

// Definition returns the MCP tool definition for registration.
func (t *DemoGenerateTool) Definition() mcp.Tool {
	return mcp.NewTool("demo_generate",
		mcp.WithDescription(
			"Record a demo script and move the ticket from ai_review to "+
				"human_review, or regenerate a rejected demo in human_review. "+
				"Blocked while the ticket has open critical or major findings.",
		),
		mcp.WithString("ticket_id",
			mcp.Required(),
			mcp.Description("Ticket under AI review."),
		),
		mcp.WithString("script",
			mcp.Required(),
			mcp.Description("The demo script shown to the human reviewer."),
		),
	)
}

// Handle processes the demo_generate tool call.
func (t *DemoGenerateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.machine.GenerateDemo(
		req.GetString("ticket_id", ""),
		req.GetString("script", ""),
	)
	return transitionResult("Demo Generated", res, err)
}

// ─── demo_feedback ───────────────────────────────────────────────────────────

// DemoFeedbackTool handles the demo_feedback MCP tool.
type DemoFeedbackTool struct {
	machine *workflow.Machine
}

// NewDemoFeedbackTool creates a DemoFeedbackTool.
func NewDemoFeedbackTool(m *workflow.Machine) *DemoFeedbackTool {
	return &DemoFeedbackTool{machine: m}
}

// Definition returns the MCP tool definition for registration.
func (t *DemoFeedbackTool) Definition() mcp.Tool {
	return mcp.NewTool("demo_feedback",
		mcp.WithDescription(
			"Record the human reviewer's verdict on a demo. Passed moves the "+
				"ticket to done; failed keeps it in human_review and clears the "+
				"demo flag so a new demo must be generated.",
		),
		mcp.WithString("ticket_id",
			mcp.Required(),
			mcp.Description("Ticket in human_review."),
		),
		mcp.WithBoolean("passed",
			mcp.Required(),
			mcp.Description("Whether the demo was approved."),
		),
		mcp.WithString("notes",
			mcp.Description("Reviewer notes, recorded in the audit comment."),
		),
	)
}

// Handle processes the demo_feedback tool call.
func (t *DemoFeedbackTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.machine.DemoFeedback(
		req.GetString("ticket_id", ""),
		boolArg(req, "passed", false),
		req.GetString("notes", ""),
	)
	title := "Demo Approved"
	if err == nil && res.Ticket.Status != store.StatusDone {
		title = "Demo Rejected"
	}
	return transitionResult(title, res, err)
}
