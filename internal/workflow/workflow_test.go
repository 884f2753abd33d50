package workflow

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ralphlabs/tickd/internal/store"
)

// fakeGit records calls without touching a real repository.
type fakeGit struct {
	branches []string
	commits  []string
	fail     bool
}

func (g *fakeGit) CreateBranch(dir, name string) error {
	if g.fail {
		return fmt.Errorf("git unavailable")
	}
	g.branches = append(g.branches, name)
	return nil
}

func (g *fakeGit) CommitLog(dir, base, branch string) ([]string, error) {
	if g.fail {
		return nil, fmt.Errorf("git unavailable")
	}
	return g.commits, nil
}

func testMachine(t *testing.T) (*Machine, *store.Store, *fakeGit) {
	t.Helper()
	s, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	git := &fakeGit{}
	return NewMachine(s, git), s, git
}

func newTicket(t *testing.T, s *store.Store, title string) *store.Ticket {
	t.Helper()
	p, err := s.CreateProject("demo", "/tmp/demo")
	if err != nil {
		t.Fatal(err)
	}
	tk, err := s.CreateTicket(store.CreateTicketParams{ProjectID: p.ID, Title: title})
	if err != nil {
		t.Fatal(err)
	}
	return tk
}

// lastComment returns the most recent audit-trail entry.
func lastComment(t *testing.T, s *store.Store, ticketID string) string {
	t.Helper()
	comments, err := s.ListComments(ticketID)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) == 0 {
		t.Fatal("no comments on ticket")
	}
	return comments[len(comments)-1].Body
}

// driveToAIReview walks a fresh ticket into ai_review.
func driveToAIReview(t *testing.T, m *Machine, ticketID string) {
	t.Helper()
	if _, err := m.Start(ticketID, "/tmp/demo"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.RequestAIReview(ticketID); err != nil {
		t.Fatalf("RequestAIReview: %v", err)
	}
}

// --- Start ---

func TestStart_CreatesBranchFromTitleSlug(t *testing.T) {
	m, s, git := testMachine(t)
	tk := newTicket(t, s, "Fix Login Race Condition")

	res, err := m.Start(tk.ID, "/tmp/demo")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Ticket.Status != store.StatusInProgress {
		t.Errorf("Status = %s, want in_progress", res.Ticket.Status)
	}
	if res.Ticket.Branch == nil || *res.Ticket.Branch != "ticket/fix-login-race-condition" {
		t.Errorf("Branch = %v, want ticket/fix-login-race-condition", res.Ticket.Branch)
	}
	if len(git.branches) != 1 || git.branches[0] != "ticket/fix-login-race-condition" {
		t.Errorf("git branches = %v", git.branches)
	}
	if !strings.Contains(lastComment(t, s, tk.ID), "Started work") {
		t.Error("audit comment missing")
	}
}

func TestStart_AlreadyInProgressRejected(t *testing.T) {
	m, s, _ := testMachine(t)
	tk := newTicket(t, s, "x")

	if _, err := m.Start(tk.ID, ""); err != nil {
		t.Fatal(err)
	}
	_, err := m.Start(tk.ID, "")
	if !errors.Is(err, ErrPrecondition) {
		t.Errorf("err = %v, want ErrPrecondition", err)
	}
}

func TestStart_MissingTicket(t *testing.T) {
	m, _, _ := testMachine(t)
	_, err := m.Start("ghost", "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStart_GitFailureIsWarningNotError(t *testing.T) {
	m, s, git := testMachine(t)
	git.fail = true
	tk := newTicket(t, s, "x")

	res, err := m.Start(tk.ID, "/tmp/demo")
	if err != nil {
		t.Fatalf("Start should survive a git failure: %v", err)
	}
	if res.Ticket.Status != store.StatusInProgress {
		t.Error("transition must land despite the failed side effect")
	}
	if len(res.Warnings) == 0 {
		t.Error("failed branch creation must surface as a warning")
	}
}

// --- SubmitForReview ---

func TestSubmitForReview_DerivesPRDescription(t *testing.T) {
	m, s, git := testMachine(t)
	git.commits = []string{"abc123 add endpoint", "def456 add tests"}
	tk := newTicket(t, s, "Add endpoint")

	if _, err := m.Start(tk.ID, "/tmp/demo"); err != nil {
		t.Fatal(err)
	}
	res, desc, err := m.SubmitForReview(tk.ID, "/tmp/demo", "main")
	if err != nil {
		t.Fatalf("SubmitForReview: %v", err)
	}
	if res.Ticket.Status != store.StatusReview {
		t.Errorf("Status = %s, want review", res.Ticket.Status)
	}
	if !strings.Contains(desc, "abc123 add endpoint") {
		t.Errorf("description missing commits:\n%s", desc)
	}
}

func TestSubmitForReview_WrongStatusNamesCurrentState(t *testing.T) {
	m, s, _ := testMachine(t)
	tk := newTicket(t, s, "x")

	_, _, err := m.SubmitForReview(tk.ID, "", "main")
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want ErrPrecondition", err)
	}
	if !strings.Contains(err.Error(), "backlog") {
		t.Errorf("error must name the current state, got: %v", err)
	}
}

// --- Plain path ---

func TestCompletePlainReview(t *testing.T) {
	m, s, _ := testMachine(t)
	tk := newTicket(t, s, "x")
	if _, err := m.Start(tk.ID, ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.SubmitForReview(tk.ID, "", "main"); err != nil {
		t.Fatal(err)
	}

	res, err := m.CompletePlainReview(tk.ID)
	if err != nil {
		t.Fatalf("CompletePlainReview: %v", err)
	}
	if res.Ticket.Status != store.StatusDone {
		t.Errorf("Status = %s, want done", res.Ticket.Status)
	}
}

// --- Findings ---

func TestSubmitFindings_OnlyInAIReview(t *testing.T) {
	m, s, _ := testMachine(t)
	tk := newTicket(t, s, "x")

	_, _, err := m.SubmitFindings(tk.ID, []store.NewFindingParams{
		{Agent: "a", Severity: store.SeverityMajor, Category: "c", Description: "d"},
	})
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want ErrPrecondition", err)
	}
	if !strings.Contains(err.Error(), "ai_review") {
		t.Errorf("error must name the required state, got: %v", err)
	}
}

func TestSubmitFindings_RecordsBatchAndComment(t *testing.T) {
	m, s, _ := testMachine(t)
	tk := newTicket(t, s, "x")
	driveToAIReview(t, m, tk.ID)

	_, findings, err := m.SubmitFindings(tk.ID, []store.NewFindingParams{
		{Agent: "reviewer", Severity: store.SeverityCritical, Category: "correctness", Description: "boom"},
		{Agent: "reviewer", Severity: store.SeveritySuggestion, Category: "style", Description: "nit"},
	})
	if err != nil {
		t.Fatalf("SubmitFindings: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("got %d findings, want 2", len(findings))
	}
	if !strings.Contains(lastComment(t, s, tk.ID), "2 finding(s)") {
		t.Error("audit comment should mention the batch size")
	}
}

func TestResolveFinding_DoubleResolveRejected(t *testing.T) {
	m, s, _ := testMachine(t)
	tk := newTicket(t, s, "x")
	driveToAIReview(t, m, tk.ID)

	_, findings, err := m.SubmitFindings(tk.ID, []store.NewFindingParams{
		{Agent: "reviewer", Severity: store.SeverityCritical, Category: "correctness", Description: "boom"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := m.ResolveFinding(findings[0].ID, store.FindingFixed); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	_, _, err = m.ResolveFinding(findings[0].ID, store.FindingFixed)
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("second resolve must fail, err = %v", err)
	}

	ws, _ := s.GetWorkflowState(tk.ID)
	if ws.FindingsFixed != 1 {
		t.Errorf("FindingsFixed = %d, want 1", ws.FindingsFixed)
	}
}

// --- Demo gate ---

func TestGenerateDemo_BlockedByOpenCriticalFinding(t *testing.T) {
	m, s, _ := testMachine(t)
	tk := newTicket(t, s, "x")
	driveToAIReview(t, m, tk.ID)

	_, findings, err := m.SubmitFindings(tk.ID, []store.NewFindingParams{
		{Agent: "reviewer", Severity: store.SeverityCritical, Category: "correctness", Description: "boom"},
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = m.GenerateDemo(tk.ID, "#!/bin/sh\necho demo")
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("demo must be rejected with an open critical finding, err = %v", err)
	}
	if !strings.Contains(err.Error(), "1 open critical") {
		t.Errorf("rejection must cite the open critical count, got: %v", err)
	}

	// Fixing the finding unblocks generation.
	if _, _, err := m.ResolveFinding(findings[0].ID, store.FindingFixed); err != nil {
		t.Fatal(err)
	}
	res, err := m.GenerateDemo(tk.ID, "#!/bin/sh\necho demo")
	if err != nil {
		t.Fatalf("GenerateDemo after fix: %v", err)
	}
	if res.Ticket.Status != store.StatusHumanReview {
		t.Errorf("Status = %s, want human_review", res.Ticket.Status)
	}

	ws, err := s.GetWorkflowState(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !ws.DemoGenerated {
		t.Error("DemoGenerated should be true")
	}
	if ws.DemoScript == "" {
		t.Error("demo script should be persisted")
	}
}

func TestGenerateDemo_MinorFindingsDoNotBlock(t *testing.T) {
	m, s, _ := testMachine(t)
	tk := newTicket(t, s, "x")
	driveToAIReview(t, m, tk.ID)

	if _, _, err := m.SubmitFindings(tk.ID, []store.NewFindingParams{
		{Agent: "reviewer", Severity: store.SeverityMinor, Category: "style", Description: "nit"},
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := m.GenerateDemo(tk.ID, "demo"); err != nil {
		t.Errorf("minor findings must not gate the demo: %v", err)
	}
}

func TestGenerateDemo_NoFindingsEverIsAllowed(t *testing.T) {
	m, s, _ := testMachine(t)
	tk := newTicket(t, s, "x")
	driveToAIReview(t, m, tk.ID)

	res, err := m.GenerateDemo(tk.ID, "demo")
	if err != nil {
		t.Fatalf("GenerateDemo without findings: %v", err)
	}
	if res.Ticket.Status != store.StatusHumanReview {
		t.Errorf("Status = %s, want human_review", res.Ticket.Status)
	}
}

// --- Demo feedback ---

func TestDemoFeedback_PassedCompletesTicket(t *testing.T) {
	m, s, _ := testMachine(t)
	tk := newTicket(t, s, "x")
	driveToAIReview(t, m, tk.ID)
	if _, err := m.GenerateDemo(tk.ID, "demo"); err != nil {
		t.Fatal(err)
	}

	res, err := m.DemoFeedback(tk.ID, true, "looks great")
	if err != nil {
		t.Fatalf("DemoFeedback: %v", err)
	}
	if res.Ticket.Status != store.StatusDone {
		t.Errorf("Status = %s, want done", res.Ticket.Status)
	}
	if !strings.Contains(lastComment(t, s, tk.ID), "approved") {
		t.Error("approval comment missing")
	}
}

func TestDemoFeedback_FailedResetsDemoForRetry(t *testing.T) {
	m, s, _ := testMachine(t)
	tk := newTicket(t, s, "x")
	driveToAIReview(t, m, tk.ID)
	if _, err := m.GenerateDemo(tk.ID, "demo"); err != nil {
		t.Fatal(err)
	}

	res, err := m.DemoFeedback(tk.ID, false, "crashes on step 2")
	if err != nil {
		t.Fatalf("DemoFeedback: %v", err)
	}
	// Stays in human_review for the retry loop.
	if res.Ticket.Status != store.StatusHumanReview {
		t.Errorf("Status = %s, want human_review", res.Ticket.Status)
	}
	ws, _ := s.GetWorkflowState(tk.ID)
	if ws.DemoGenerated {
		t.Error("DemoGenerated should be reset to allow regeneration")
	}
	if !strings.Contains(lastComment(t, s, tk.ID), "rejected") {
		t.Error("rejection comment missing")
	}
}

func TestDemoFeedback_RejectRegeneratePass(t *testing.T) {
	m, s, _ := testMachine(t)
	tk := newTicket(t, s, "x")
	driveToAIReview(t, m, tk.ID)
	if _, err := m.GenerateDemo(tk.ID, "demo v1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.DemoFeedback(tk.ID, false, "crashes on step 2"); err != nil {
		t.Fatal(err)
	}

	// The rejection opens a new review iteration.
	ws, err := s.GetWorkflowState(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ws.ReviewIteration != 2 {
		t.Errorf("ReviewIteration = %d, want 2 after rejection", ws.ReviewIteration)
	}

	// A verdict on the rejected demo is refused until a fresh one exists.
	_, err = m.DemoFeedback(tk.ID, true, "")
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("verdict without a regenerated demo must fail, err = %v", err)
	}

	// Regeneration from human_review re-runs the findings gate.
	res, err := m.GenerateDemo(tk.ID, "demo v2")
	if err != nil {
		t.Fatalf("GenerateDemo after rejection: %v", err)
	}
	if res.Ticket.Status != store.StatusHumanReview {
		t.Errorf("Status = %s, want human_review", res.Ticket.Status)
	}
	ws, _ = s.GetWorkflowState(tk.ID)
	if !ws.DemoGenerated {
		t.Error("regeneration should mark the demo generated again")
	}
	if ws.DemoScript != "demo v2" {
		t.Errorf("DemoScript = %q, want the regenerated script", ws.DemoScript)
	}

	res, err = m.DemoFeedback(tk.ID, true, "fixed")
	if err != nil {
		t.Fatalf("DemoFeedback on regenerated demo: %v", err)
	}
	if res.Ticket.Status != store.StatusDone {
		t.Errorf("Status = %s, want done", res.Ticket.Status)
	}
}

func TestGenerateDemo_RetryBlockedByNewCriticalFinding(t *testing.T) {
	m, s, _ := testMachine(t)
	tk := newTicket(t, s, "x")
	driveToAIReview(t, m, tk.ID)
	if _, err := m.GenerateDemo(tk.ID, "demo"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.DemoFeedback(tk.ID, false, "broken"); err != nil {
		t.Fatal(err)
	}

	// Plant an open critical finding; regeneration must re-run the gate.
	if _, err := s.AddFindings(tk.ID, 2, []store.NewFindingParams{
		{Agent: "reviewer", Severity: store.SeverityCritical, Category: "correctness", Description: "regression"},
	}); err != nil {
		t.Fatal(err)
	}

	_, err := m.GenerateDemo(tk.ID, "demo v2")
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("retry must re-run the findings gate, err = %v", err)
	}
	if !strings.Contains(err.Error(), "critical") {
		t.Errorf("rejection must cite the blocking severity, got: %v", err)
	}
}

// --- Slugify ---

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Fix Login Race Condition", "fix-login-race-condition"},
		{"  spaces  everywhere  ", "spaces-everywhere"},
		{"UPPER_case/and/slashes", "upper-case-and-slashes"},
		{"émoji & sÿmbols!!", "moji-smbols"},
		{"", "untitled"},
		{"!!!", "untitled"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
