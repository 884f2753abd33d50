// Package prompts implements MCP prompt handlers.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartPrompt handles the ticket-start MCP prompt.
// It guides the AI through beginning tracked work on a ticket.
type StartPrompt struct{}

// NewStartPrompt creates a StartPrompt.
func NewStartPrompt() *StartPrompt {
	return &StartPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("ticket-start",
		mcp.WithPromptDescription(
			"Start tracked work on a ticket: move it to in_progress, open a "+
				"work session, and record state transitions as you go.",
		),
		mcp.WithArgument("ticket_id",
			mcp.ArgumentDescription("The ticket to work on"),
		),
	)
}

// Handle processes the ticket-start prompt request.
func (p *StartPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	ticketID := "<ticket id>"
	if args := req.Params.Arguments; args != nil {
		if id, ok := args["ticket_id"]; ok && id != "" {
			ticketID = id
		}
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Start work on ticket %s", ticketID),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to start working on ticket '%s'.\n\n"+
						"Please:\n"+
						"1. Run `ticket_get` with ticket_id='%s' and summarize what the ticket asks for\n"+
						"2. Run `ticket_start` to move it to in_progress and create the working branch\n"+
						"3. Run `ralph_session_start` so the work session is tracked\n"+
						"4. As you work, record `ralph_session_transition` calls (analyzing, implementing, testing, committing)\n"+
						"5. When the work is committed, run `ticket_submit_for_review` and show me the suggested PR description",
					ticketID, ticketID,
				)),
			},
		},
	}, nil
}
