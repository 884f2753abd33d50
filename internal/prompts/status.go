package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the ticket-status MCP prompt.
// It instructs the AI to read and present a project's ticket board.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("ticket-status",
		mcp.WithPromptDescription(
			"Show the project's ticket board: what's in progress, what's "+
				"blocked in review, and what to pick up next.",
		),
		mcp.WithArgument("project_id",
			mcp.ArgumentDescription("The project to report on"),
		),
	)
}

// Handle processes the ticket-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	projectID := "<project id>"
	if args := req.Params.Arguments; args != nil {
		if id, ok := args["project_id"]; ok && id != "" {
			projectID = id
		}
	}

	return &mcp.GetPromptResult{
		Description: "Ticket board status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `ticket_list` with project_id='" + projectID + "' to check the board.\n\n" +
						"Then:\n" +
						"1. Group the tickets by status in a clear, visual format\n" +
						"2. For tickets in ai_review or human_review, run `ticket_get` and call out open critical/major findings\n" +
						"3. Tell me exactly what needs my attention first\n" +
						"4. Suggest which backlog ticket to pick up next",
				),
			},
		},
	}, nil
}
