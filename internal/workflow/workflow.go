// Package workflow owns the ticket status lifecycle and the nested
// review/demo sub-workflow.
//
// Two paths exist after in_progress: the plain path (review → done) and
// the AI-reviewed path (ai_review → human_review → done). Every
// state-changing operation appends an audit comment to the ticket; the
// comment is best-effort — its failure becomes a warning on the response,
// never a rollback of the transition itself.
package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ralphlabs/tickd/internal/gitx"
	"github.com/ralphlabs/tickd/internal/store"
)

// auditAuthor is the author recorded on machine-generated audit comments.
const auditAuthor = "workflow"

// ErrPrecondition marks guard failures: the ticket exists but is not in a
// state that permits the requested transition.
var ErrPrecondition = errors.New("precondition failed")

// Machine applies guarded transitions to tickets.
type Machine struct {
	store *store.Store
	git   gitx.Runner
}

// NewMachine creates a workflow Machine over the shared store.
func NewMachine(s *store.Store, git gitx.Runner) *Machine {
	return &Machine{store: s, git: git}
}

// Result reports a completed transition plus any best-effort side effects
// that failed along the way.
type Result struct {
	Ticket   *store.Ticket
	Warnings []string
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// addAuditComment appends the mandatory audit comment; on failure it
// attaches a warning instead of failing the transition.
func (m *Machine) addAuditComment(res *Result, ticketID, body string) {
	if _, err := m.store.AddComment(ticketID, auditAuthor, body); err != nil {
		res.warnf("audit comment not recorded: %v", err)
	}
}

// ─── Transitions ─────────────────────────────────────────────────────────────

// Start moves a ticket to in_progress and creates its working branch.
// Allowed from any status except in_progress itself.
func (m *Machine) Start(ticketID, projectDir string) (*Result, error) {
	t, err := m.store.GetTicket(ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status == store.StatusInProgress {
		return nil, fmt.Errorf("%w: ticket %q is already in_progress", ErrPrecondition, ticketID)
	}

	res := &Result{}

	branch := "ticket/" + Slugify(t.Title)
	if m.git != nil && projectDir != "" {
		if err := m.git.CreateBranch(projectDir, branch); err != nil {
			// Branch creation is a side effect, not the transition.
			res.warnf("branch not created: %v", err)
		}
	}
	if err := m.store.SetTicketBranch(ticketID, branch); err != nil {
		return nil, err
	}

	if err := m.store.SetTicketStatus(ticketID, store.StatusInProgress); err != nil {
		return nil, err
	}

	m.addAuditComment(res, ticketID, fmt.Sprintf("Started work on branch `%s` (was %s).", branch, t.Status))

	res.Ticket, err = m.store.GetTicket(ticketID)
	return res, err
}

// SubmitForReview moves in_progress → review and derives a suggested PR
// description from the branch's commits against base.
func (m *Machine) SubmitForReview(ticketID, projectDir, baseBranch string) (*Result, string, error) {
	t, err := m.store.GetTicket(ticketID)
	if err != nil {
		return nil, "", err
	}
	if t.Status != store.StatusInProgress {
		return nil, "", fmt.Errorf("%w: ticket %q is %s, must be in_progress to submit for review", ErrPrecondition, ticketID, t.Status)
	}

	res := &Result{}

	var description string
	if m.git != nil && projectDir != "" && t.Branch != nil {
		commits, err := m.git.CommitLog(projectDir, baseBranch, *t.Branch)
		if err != nil {
			res.warnf("commit log unavailable: %v", err)
		} else {
			description = suggestPRDescription(t.Title, commits)
		}
	}

	if err := m.store.SetTicketStatus(ticketID, store.StatusReview); err != nil {
		return nil, "", err
	}

	m.addAuditComment(res, ticketID, "Submitted for review.")

	res.Ticket, err = m.store.GetTicket(ticketID)
	return res, description, err
}

// RequestAIReview moves a ticket into ai_review, from in_progress or review.
func (m *Machine) RequestAIReview(ticketID string) (*Result, error) {
	t, err := m.store.GetTicket(ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status != store.StatusInProgress && t.Status != store.StatusReview {
		return nil, fmt.Errorf("%w: ticket %q is %s, must be in_progress or review to enter ai_review", ErrPrecondition, ticketID, t.Status)
	}

	res := &Result{}
	if err := m.store.SetTicketStatus(ticketID, store.StatusAIReview); err != nil {
		return nil, err
	}
	m.addAuditComment(res, ticketID, "AI review requested.")

	res.Ticket, err = m.store.GetTicket(ticketID)
	return res, err
}

// CompletePlainReview moves review → done on the plain path, which skips
// the findings/demo sub-workflow entirely.
func (m *Machine) CompletePlainReview(ticketID string) (*Result, error) {
	t, err := m.store.GetTicket(ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status != store.StatusReview {
		return nil, fmt.Errorf("%w: ticket %q is %s, must be review to complete the plain path", ErrPrecondition, ticketID, t.Status)
	}

	res := &Result{}
	if err := m.store.SetTicketStatus(ticketID, store.StatusDone); err != nil {
		return nil, err
	}
	m.addAuditComment(res, ticketID, "Review passed; ticket done.")

	res.Ticket, err = m.store.GetTicket(ticketID)
	return res, err
}

// SubmitFindings records a batch of review findings. The ticket must
// already be in ai_review — findings never attach earlier in the lifecycle.
func (m *Machine) SubmitFindings(ticketID string, batch []store.NewFindingParams) (*Result, []store.Finding, error) {
	t, err := m.store.GetTicket(ticketID)
	if err != nil {
		return nil, nil, err
	}
	if t.Status != store.StatusAIReview {
		return nil, nil, fmt.Errorf("%w: ticket %q is %s, findings can only be submitted in ai_review", ErrPrecondition, ticketID, t.Status)
	}
	if len(batch) == 0 {
		return nil, nil, fmt.Errorf("%w: empty findings batch", ErrPrecondition)
	}

	iteration := 1
	if ws, err := m.store.GetWorkflowState(ticketID); err == nil {
		iteration = ws.ReviewIteration
	}

	findings, err := m.store.AddFindings(ticketID, iteration, batch)
	if err != nil {
		return nil, nil, err
	}

	res := &Result{}
	m.addAuditComment(res, ticketID,
		fmt.Sprintf("AI review iteration %d recorded %d finding(s).", iteration, len(findings)))

	res.Ticket, err = m.store.GetTicket(ticketID)
	return res, findings, err
}

// ResolveFinding updates one finding's status and appends the audit comment.
// Only open findings can be resolved; a second resolution is refused so the
// fixed tally never outruns the findings count.
func (m *Machine) ResolveFinding(findingID string, status store.FindingStatus) (*Result, *store.Finding, error) {
	cur, err := m.store.GetFinding(findingID)
	if err != nil {
		return nil, nil, err
	}
	if cur.Status != store.FindingOpen {
		return nil, nil, fmt.Errorf("%w: finding %q is already %s, only open findings can be resolved",
			ErrPrecondition, findingID, cur.Status)
	}

	f, err := m.store.ResolveFinding(findingID, status)
	if err != nil {
		return nil, nil, err
	}

	res := &Result{}
	m.addAuditComment(res, f.TicketID,
		fmt.Sprintf("Finding %s (%s/%s) resolved as %s.", f.ID, f.Severity, f.Category, f.Status))

	res.Ticket, err = m.store.GetTicket(f.TicketID)
	return res, f, err
}

// GenerateDemo gates ai_review → human_review: it requires zero open
// critical or major findings, persists the demo script, and marks the
// demo generated. A ticket already in human_review whose previous demo
// was rejected may regenerate, re-passing the same findings gate.
func (m *Machine) GenerateDemo(ticketID, script string) (*Result, error) {
	t, err := m.store.GetTicket(ticketID)
	if err != nil {
		return nil, err
	}
	retry := false
	if t.Status == store.StatusHumanReview {
		ws, err := m.store.GetWorkflowState(ticketID)
		if err != nil {
			return nil, err
		}
		retry = !ws.DemoGenerated
	}
	if t.Status != store.StatusAIReview && !retry {
		return nil, fmt.Errorf("%w: ticket %q is %s, demo generation requires ai_review", ErrPrecondition, ticketID, t.Status)
	}

	critical, major, err := m.store.OpenBlockingFindings(ticketID)
	if err != nil {
		return nil, err
	}
	if critical > 0 || major > 0 {
		return nil, fmt.Errorf("%w: ticket %q has %d open critical and %d open major finding(s); resolve them before generating a demo",
			ErrPrecondition, ticketID, critical, major)
	}

	// A ticket can reach this point with zero findings ever recorded.
	if err := m.store.EnsureWorkflowState(ticketID); err != nil {
		return nil, err
	}
	if err := m.store.SetDemoGenerated(ticketID, true, script); err != nil {
		return nil, err
	}

	res := &Result{}
	if retry {
		m.addAuditComment(res, ticketID, "Demo regenerated; awaiting a new verdict.")
	} else {
		if err := m.store.SetTicketStatus(ticketID, store.StatusHumanReview); err != nil {
			return nil, err
		}
		m.addAuditComment(res, ticketID, "Demo script generated; moved to human_review.")
	}

	res.Ticket, err = m.store.GetTicket(ticketID)
	return res, err
}

// DemoFeedback applies the human verdict: passed moves the ticket to done
// with an approval comment; failed keeps it in human_review, resets
// demoGenerated, and opens a new review iteration, so a fresh demo must
// be generated before the next verdict.
func (m *Machine) DemoFeedback(ticketID string, passed bool, notes string) (*Result, error) {
	t, err := m.store.GetTicket(ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status != store.StatusHumanReview {
		return nil, fmt.Errorf("%w: ticket %q is %s, demo feedback requires human_review", ErrPrecondition, ticketID, t.Status)
	}
	ws, err := m.store.GetWorkflowState(ticketID)
	if err != nil {
		return nil, err
	}
	if !ws.DemoGenerated {
		return nil, fmt.Errorf("%w: ticket %q has no demo awaiting a verdict; generate one first", ErrPrecondition, ticketID)
	}

	res := &Result{}

	if passed {
		if err := m.store.SetTicketStatus(ticketID, store.StatusDone); err != nil {
			return nil, err
		}
		body := "Demo approved; ticket done."
		if notes != "" {
			body += " Notes: " + notes
		}
		m.addAuditComment(res, ticketID, body)
	} else {
		if err := m.store.SetDemoGenerated(ticketID, false, ""); err != nil {
			return nil, err
		}
		if err := m.store.BumpReviewIteration(ticketID); err != nil {
			return nil, err
		}
		body := "Demo rejected; regenerate after rework."
		if notes != "" {
			body += " Notes: " + notes
		}
		m.addAuditComment(res, ticketID, body)
	}

	res.Ticket, err = m.store.GetTicket(ticketID)
	return res, err
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// suggestPRDescription builds a draft PR body from the ticket title and
// the branch's commit subjects.
func suggestPRDescription(title string, commits []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", title)
	if len(commits) == 0 {
		b.WriteString("No commits on the branch yet.\n")
		return b.String()
	}
	b.WriteString("### Commits\n\n")
	for _, c := range commits {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	return b.String()
}

const maxSlugLen = 50

// Slugify converts a ticket title into a branch-safe slug.
// Example: "Fix login race condition" → "fix-login-race-condition".
func Slugify(title string) string {
	if strings.TrimSpace(title) == "" {
		return "untitled"
	}

	s := strings.ToLower(strings.TrimSpace(title))

	var b strings.Builder
	prevHyphen := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			prevHyphen = false
		case r == ' ' || r == '_' || r == '-' || r == '/':
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "untitled"
	}
	if len(slug) <= maxSlugLen {
		return slug
	}

	truncated := slug[:maxSlugLen]
	if lastHyphen := strings.LastIndex(truncated, "-"); lastHyphen > maxSlugLen/2 {
		truncated = truncated[:lastHyphen]
	}
	return strings.TrimRight(truncated, "-")
}
