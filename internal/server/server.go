// Package server wires the store, workflow machine, session recorder, and
// compliance log into an MCP server instance.
//
// This is the composition root: concrete implementations are created here
// and injected into the tools that depend on them. No business logic lives
// here — only wiring.
package server

import (
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ralphlabs/tickd/internal/compliance"
	"github.com/ralphlabs/tickd/internal/config"
	"github.com/ralphlabs/tickd/internal/gitx"
	"github.com/ralphlabs/tickd/internal/integrity"
	"github.com/ralphlabs/tickd/internal/lock"
	"github.com/ralphlabs/tickd/internal/prompts"
	"github.com/ralphlabs/tickd/internal/ralph"
	"github.com/ralphlabs/tickd/internal/store"
	"github.com/ralphlabs/tickd/internal/tools"
	"github.com/ralphlabs/tickd/internal/workflow"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates the MCP server with every tool registered. dataDir is the
// per-user state directory; lockMgr is the lock acquired by the serve
// command and is only read here (the lock_status tool), never written.
//
// The returned cleanup function closes the database connection and must be
// called on shutdown. It is always non-nil.
func New(dataDir string, lockMgr *lock.Manager) (*server.MCPServer, func(), error) {
	// --- Create shared dependencies ---

	st, err := store.New(store.Config{DataDir: dataDir})
	if err != nil {
		return nil, noop, fmt.Errorf("opening store: %w", err)
	}
	cleanup := func() {
		if err := st.Close(); err != nil {
			log.Printf("WARNING: store close: %v", err)
		}
	}

	var signer *integrity.Signer
	if config.SigningEnabled() {
		key, keyErr := integrity.LoadOrCreateKey(config.KeyPath(dataDir))
		if keyErr != nil {
			// Signing is opt-in hardening: a broken key file degrades to
			// unsigned mirrors rather than blocking the server.
			log.Printf("WARNING: state signing disabled: %v", keyErr)
		} else {
			signer = integrity.NewSigner(key, true)
		}
	}

	machine := workflow.NewMachine(st, gitx.CLI{})
	recorder := ralph.NewRecorder(st, signer)
	complianceLog := compliance.NewLog(st)

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"tickd",
		Version,
		server.WithToolCapabilities(true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register ticket CRUD tools ---

	projectCreate := tools.NewProjectCreateTool(st)
	s.AddTool(projectCreate.Definition(), projectCreate.Handle)

	epicCreate := tools.NewEpicCreateTool(st)
	s.AddTool(epicCreate.Definition(), epicCreate.Handle)

	ticketCreate := tools.NewTicketCreateTool(st)
	s.AddTool(ticketCreate.Definition(), ticketCreate.Handle)

	ticketGet := tools.NewTicketGetTool(st)
	s.AddTool(ticketGet.Definition(), ticketGet.Handle)

	ticketList := tools.NewTicketListTool(st)
	s.AddTool(ticketList.Definition(), ticketList.Handle)

	commentAdd := tools.NewCommentAddTool(st)
	s.AddTool(commentAdd.Definition(), commentAdd.Handle)

	// --- Register workflow tools ---

	ticketStart := tools.NewTicketStartTool(st, machine)
	s.AddTool(ticketStart.Definition(), ticketStart.Handle)

	submitForReview := tools.NewSubmitForReviewTool(st, machine)
	s.AddTool(submitForReview.Definition(), submitForReview.Handle)

	requestAIReview := tools.NewRequestAIReviewTool(machine)
	s.AddTool(requestAIReview.Definition(), requestAIReview.Handle)

	submitFindings := tools.NewSubmitFindingsTool(machine)
	s.AddTool(submitFindings.Definition(), submitFindings.Handle)

	findingResolve := tools.NewFindingResolveTool(machine)
	s.AddTool(findingResolve.Definition(), findingResolve.Handle)

	demoGenerate := tools.NewDemoGenerateTool(machine)
	s.AddTool(demoGenerate.Definition(), demoGenerate.Handle)

	demoFeedback := tools.NewDemoFeedbackTool(machine)
	s.AddTool(demoFeedback.Definition(), demoFeedback.Handle)

	// --- Register ralph session tools ---

	ralphStart := tools.NewRalphStartTool(recorder)
	s.AddTool(ralphStart.Definition(), ralphStart.Handle)

	ralphTransition := tools.NewRalphTransitionTool(recorder)
	s.AddTool(ralphTransition.Definition(), ralphTransition.Handle)

	ralphComplete := tools.NewRalphCompleteTool(recorder)
	s.AddTool(ralphComplete.Definition(), ralphComplete.Handle)

	// --- Register compliance tools ---

	convStart := tools.NewConversationStartTool(complianceLog)
	s.AddTool(convStart.Definition(), convStart.Handle)

	convLog := tools.NewConversationLogTool(complianceLog)
	s.AddTool(convLog.Definition(), convLog.Handle)

	convEnd := tools.NewConversationEndTool(complianceLog)
	s.AddTool(convEnd.Definition(), convEnd.Handle)

	convExport := tools.NewConversationExportTool(complianceLog)
	s.AddTool(convExport.Definition(), convExport.Handle)

	// --- Register diagnostics ---

	telemetry := tools.NewTelemetryRecordTool(st)
	s.AddTool(telemetry.Definition(), telemetry.Handle)

	lockStatus := tools.NewLockStatusTool(lockMgr)
	s.AddTool(lockStatus.Definition(), lockStatus.Handle)

	// --- Register prompts ---

	startPrompt := prompts.NewStartPrompt()
	s.AddPrompt(startPrompt.Definition(), startPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	return s, cleanup, nil
}

// noop is the default cleanup when store creation fails.
func noop() {}

// serverInstructions tells the AI assistant how to drive the ticket
// workflow correctly.
func serverInstructions() string {
	return `You have access to tickd, a local ticket-tracking server for AI coding work.

## Ticket lifecycle
Tickets move through: backlog → in_progress → review → ai_review → human_review → done.

1. Create tickets with ticket_create (they start in backlog).
2. Call ticket_start when you begin work — it creates the working branch.
3. Call ticket_submit_for_review when the work is committed; use the
   suggested PR description it returns.
4. Call ticket_request_ai_review to hand the ticket to review agents.
5. Review agents record findings with review_submit_findings and resolve
   them with finding_resolve.
6. demo_generate is BLOCKED while open critical or major findings exist —
   fix them first. Minor findings and suggestions do not block.
7. The human reviewer's verdict goes through demo_feedback: passed closes
   the ticket, failed sends it back for a new demo.

## Work sessions
Record your working state with ralph_session_start, ralph_session_transition
(analyzing, implementing, testing, committing, reviewing), and
ralph_session_complete. Transitions are append-only history — revisiting an
earlier state is normal and expected. Starting a session on a ticket that
already has one returns the existing session; continue with it.

## Conversation logging
When compliance logging is wanted, open a session with conversation_start,
append every message with conversation_log, and close with conversation_end.
Use conversation_export to produce a verified dump.

## Rules
- Never skip the findings gate: resolve critical/major findings before
  generating a demo.
- Record real state transitions as they happen, not retroactively.
- Warnings in tool output mean a side effect failed (branch creation,
  mirror write, audit comment) — the transition itself succeeded.`
}
