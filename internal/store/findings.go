package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// ─── Review findings & workflow state ────────────────────────────────────────

// Severity classifies a review finding.
type Severity string

const (
	SeverityCritical   Severity = "critical"
	SeverityMajor      Severity = "major"
	SeverityMinor      Severity = "minor"
	SeveritySuggestion Severity = "suggestion"
)

var validSeverities = map[Severity]bool{
	SeverityCritical:   true,
	SeverityMajor:      true,
	SeverityMinor:      true,
	SeveritySuggestion: true,
}

// ValidateSeverity returns an error if the severity is not recognized.
func ValidateSeverity(sev Severity) error {
	if !validSeverities[sev] {
		return fmt.Errorf("invalid severity %q: must be one of: critical, major, minor, suggestion", sev)
	}
	return nil
}

// FindingStatus is the resolution state of a finding.
type FindingStatus string

const (
	FindingOpen      FindingStatus = "open"
	FindingFixed     FindingStatus = "fixed"
	FindingWontFix   FindingStatus = "wont_fix"
	FindingDuplicate FindingStatus = "duplicate"
)

var validFindingStatuses = map[FindingStatus]bool{
	FindingOpen:      true,
	FindingFixed:     true,
	FindingWontFix:   true,
	FindingDuplicate: true,
}

// ValidateFindingStatus returns an error if the status is not recognized.
func ValidateFindingStatus(st FindingStatus) error {
	if !validFindingStatuses[st] {
		return fmt.Errorf("invalid finding status %q: must be one of: open, fixed, wont_fix, duplicate", st)
	}
	return nil
}

// Finding is one review finding attached to a ticket.
type Finding struct {
	ID          string        `json:"id"`
	TicketID    string        `json:"ticket_id"`
	Iteration   int           `json:"iteration"`
	Agent       string        `json:"agent"`
	Severity    Severity      `json:"severity"`
	Category    string        `json:"category"`
	Description string        `json:"description"`
	Status      FindingStatus `json:"status"`
	FixedAt     *string       `json:"fixed_at,omitempty"`
	CreatedAt   string        `json:"created_at"`
}

// WorkflowState is the per-ticket review bookkeeping record, created
// lazily on the first finding.
type WorkflowState struct {
	TicketID        string `json:"ticket_id"`
	ReviewIteration int    `json:"review_iteration"`
	FindingsCount   int    `json:"findings_count"`
	FindingsFixed   int    `json:"findings_fixed"`
	DemoGenerated   bool   `json:"demo_generated"`
	DemoScript      string `json:"demo_script,omitempty"`
	UpdatedAt       string `json:"updated_at"`
}

// NewFindingParams holds the input for one finding in a submission batch.
type NewFindingParams struct {
	Agent       string
	Severity    Severity
	Category    string
	Description string
}

// GetWorkflowState retrieves a ticket's workflow state, or ErrNotFound if
// no findings have ever been recorded.
func (s *Store) GetWorkflowState(ticketID string) (*WorkflowState, error) {
	var ws WorkflowState
	var demoGenerated int
	var demoScript sql.NullString
	err := s.db.QueryRow(
		`SELECT ticket_id, review_iteration, findings_count, findings_fixed, demo_generated, demo_script, updated_at
		 FROM workflow_states WHERE ticket_id = ?`, ticketID,
	).Scan(&ws.TicketID, &ws.ReviewIteration, &ws.FindingsCount, &ws.FindingsFixed, &demoGenerated, &demoScript, &ws.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow state for ticket %q: %w", ticketID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	ws.DemoGenerated = demoGenerated != 0
	ws.DemoScript = demoScript.String
	return &ws, nil
}

// AddFindings records a batch of findings in one transaction, creating the
// workflow state row on first use and bumping its findings count. Partial
// batches never land: either every finding is inserted or none is.
func (s *Store) AddFindings(ticketID string, iteration int, batch []NewFindingParams) ([]Finding, error) {
	for _, p := range batch {
		if err := ValidateSeverity(p.Severity); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := nowUTC()
	if _, err := tx.Exec(
		`INSERT INTO workflow_states (ticket_id, review_iteration, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(ticket_id) DO NOTHING`,
		ticketID, iteration, now,
	); err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(batch))
	for _, p := range batch {
		f := Finding{
			ID:          uuid.NewString(),
			TicketID:    ticketID,
			Iteration:   iteration,
			Agent:       p.Agent,
			Severity:    p.Severity,
			Category:    p.Category,
			Description: p.Description,
			Status:      FindingOpen,
			CreatedAt:   now,
		}
		if _, err := tx.Exec(
			`INSERT INTO review_findings (id, ticket_id, iteration, agent, severity, category, description, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.TicketID, f.Iteration, f.Agent, f.Severity, f.Category, f.Description, f.Status, f.CreatedAt,
		); err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}

	if _, err := tx.Exec(
		`UPDATE workflow_states
		 SET findings_count = findings_count + ?, review_iteration = ?, updated_at = ?
		 WHERE ticket_id = ?`,
		len(batch), iteration, now, ticketID,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return findings, nil
}

// GetFinding retrieves a finding by ID.
func (s *Store) GetFinding(id string) (*Finding, error) {
	var f Finding
	err := s.db.QueryRow(
		`SELECT id, ticket_id, iteration, agent, severity, category, description, status, fixed_at, created_at
		 FROM review_findings WHERE id = ?`, id,
	).Scan(&f.ID, &f.TicketID, &f.Iteration, &f.Agent, &f.Severity, &f.Category,
		&f.Description, &f.Status, &f.FixedAt, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("finding %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ResolveFinding moves a finding out of open. A resolution to fixed also
// stamps fixed_at and bumps the workflow state's fixed counter; both
// writes share one transaction.
func (s *Store) ResolveFinding(id string, status FindingStatus) (*Finding, error) {
	if err := ValidateFindingStatus(status); err != nil {
		return nil, err
	}
	if status == FindingOpen {
		return nil, fmt.Errorf("cannot resolve finding %q back to open", id)
	}

	f, err := s.GetFinding(id)
	if err != nil {
		return nil, err
	}
	if f.Status != FindingOpen {
		return nil, fmt.Errorf("finding %q is already %s, only open findings can be resolved", id, f.Status)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := nowUTC()
	if status == FindingFixed {
		if _, err := tx.Exec(
			`UPDATE review_findings SET status = ?, fixed_at = ? WHERE id = ?`,
			status, now, id,
		); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(
			`UPDATE workflow_states SET findings_fixed = findings_fixed + 1, updated_at = ? WHERE ticket_id = ?`,
			now, f.TicketID,
		); err != nil {
			return nil, err
		}
		f.FixedAt = &now
	} else {
		if _, err := tx.Exec(
			`UPDATE review_findings SET status = ? WHERE id = ?`,
			status, id,
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	f.Status = status
	return f, nil
}

// OpenBlockingFindings counts open critical and major findings for a
// ticket — the gate on the ai_review → human_review transition.
func (s *Store) OpenBlockingFindings(ticketID string) (critical, major int, err error) {
	rows, err := s.db.Query(
		`SELECT severity, COUNT(*) FROM review_findings
		 WHERE ticket_id = ? AND status = 'open' AND severity IN ('critical', 'major')
		 GROUP BY severity`, ticketID,
	)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var sev Severity
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return 0, 0, err
		}
		switch sev {
		case SeverityCritical:
			critical = n
		case SeverityMajor:
			major = n
		}
	}
	return critical, major, rows.Err()
}

// ListFindings returns all findings for a ticket in insertion order.
func (s *Store) ListFindings(ticketID string) ([]Finding, error) {
	rows, err := s.db.Query(
		`SELECT id, ticket_id, iteration, agent, severity, category, description, status, fixed_at, created_at
		 FROM review_findings WHERE ticket_id = ? ORDER BY created_at, id`, ticketID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var findings []Finding
	for rows.Next() {
		var f Finding
		if err := rows.Scan(&f.ID, &f.TicketID, &f.Iteration, &f.Agent, &f.Severity, &f.Category,
			&f.Description, &f.Status, &f.FixedAt, &f.CreatedAt); err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// SetDemoGenerated records demo script generation (or resets it after a
// rejected demo). The workflow package enforces the no-open-blocking-
// findings precondition before calling this.
func (s *Store) SetDemoGenerated(ticketID string, generated bool, script string) error {
	demoVal := 0
	if generated {
		demoVal = 1
	}
	res, err := s.db.Exec(
		`UPDATE workflow_states SET demo_generated = ?, demo_script = ?, updated_at = ? WHERE ticket_id = ?`,
		demoVal, nullableString(script), nowUTC(), ticketID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workflow state for ticket %q: %w", ticketID, ErrNotFound)
	}
	return nil
}

// BumpReviewIteration advances the review iteration counter, marking the
// start of a new review cycle after a rejected demo.
func (s *Store) BumpReviewIteration(ticketID string) error {
	res, err := s.db.Exec(
		`UPDATE workflow_states SET review_iteration = review_iteration + 1, updated_at = ? WHERE ticket_id = ?`,
		nowUTC(), ticketID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workflow state for ticket %q: %w", ticketID, ErrNotFound)
	}
	return nil
}

// EnsureWorkflowState creates the workflow state row if missing. Used by
// the demo path when a ticket reached ai_review with zero findings.
func (s *Store) EnsureWorkflowState(ticketID string) error {
	_, err := s.db.Exec(
		`INSERT INTO workflow_states (ticket_id, updated_at) VALUES (?, ?)
		 ON CONFLICT(ticket_id) DO NOTHING`,
		ticketID, nowUTC(),
	)
	return err
}
