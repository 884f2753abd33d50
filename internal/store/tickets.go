package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// ─── Projects & epics ────────────────────────────────────────────────────────

// CreateProject registers a project and returns it.
func (s *Store) CreateProject(name, path string) (*Project, error) {
	p := &Project{
		ID:        uuid.NewString(),
		Name:      name,
		Path:      path,
		CreatedAt: nowUTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO projects (id, name, path, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Path, p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating project: %w", err)
	}
	return p, nil
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(id string) (*Project, error) {
	var p Project
	err := s.db.QueryRow(
		`SELECT id, name, path, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Path, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateEpic registers an epic under a project.
func (s *Store) CreateEpic(projectID, title string) (*Epic, error) {
	if _, err := s.GetProject(projectID); err != nil {
		return nil, err
	}
	e := &Epic{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Title:     title,
		CreatedAt: nowUTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO epics (id, project_id, title, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.Title, e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating epic: %w", err)
	}
	return e, nil
}

// ─── Tickets ─────────────────────────────────────────────────────────────────

// CreateTicketParams holds the input for creating a ticket.
type CreateTicketParams struct {
	ProjectID   string
	EpicID      string
	Title       string
	Description string
}

// CreateTicket creates a ticket in backlog.
func (s *Store) CreateTicket(p CreateTicketParams) (*Ticket, error) {
	if _, err := s.GetProject(p.ProjectID); err != nil {
		return nil, err
	}
	now := nowUTC()
	t := &Ticket{
		ID:          uuid.NewString(),
		ProjectID:   p.ProjectID,
		Title:       p.Title,
		Description: p.Description,
		Status:      StatusBacklog,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.EpicID != "" {
		t.EpicID = &p.EpicID
	}
	_, err := s.db.Exec(
		`INSERT INTO tickets (id, project_id, epic_id, title, description, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, nullableString(p.EpicID), t.Title, t.Description, t.Status, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating ticket: %w", err)
	}
	return t, nil
}

// GetTicket retrieves a ticket by ID.
func (s *Store) GetTicket(id string) (*Ticket, error) {
	var t Ticket
	err := s.db.QueryRow(
		`SELECT id, project_id, epic_id, title, description, status, branch, pr_number, pr_status, created_at, updated_at
		 FROM tickets WHERE id = ?`, id,
	).Scan(&t.ID, &t.ProjectID, &t.EpicID, &t.Title, &t.Description, &t.Status,
		&t.Branch, &t.PRNumber, &t.PRStatus, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("ticket %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTickets returns tickets for a project, optionally filtered by status.
func (s *Store) ListTickets(projectID string, status TicketStatus) ([]Ticket, error) {
	query := `SELECT id, project_id, epic_id, title, description, status, branch, pr_number, pr_status, created_at, updated_at
	          FROM tickets WHERE project_id = ?`
	args := []any{projectID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tickets []Ticket
	for rows.Next() {
		var t Ticket
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.EpicID, &t.Title, &t.Description, &t.Status,
			&t.Branch, &t.PRNumber, &t.PRStatus, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// SetTicketStatus updates a ticket's status. Transition validity is the
// workflow package's responsibility; this is bare persistence.
func (s *Store) SetTicketStatus(id string, status TicketStatus) error {
	if err := ValidateStatus(status); err != nil {
		return err
	}
	res, err := s.db.Exec(
		`UPDATE tickets SET status = ?, updated_at = ? WHERE id = ?`,
		status, nowUTC(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ticket %q: %w", id, ErrNotFound)
	}
	return nil
}

// SetTicketBranch records the working branch created for a ticket.
func (s *Store) SetTicketBranch(id, branch string) error {
	res, err := s.db.Exec(
		`UPDATE tickets SET branch = ?, updated_at = ? WHERE id = ?`,
		branch, nowUTC(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ticket %q: %w", id, ErrNotFound)
	}
	return nil
}

// SetTicketPR links a pull request to a ticket.
func (s *Store) SetTicketPR(id string, number int, status string) error {
	res, err := s.db.Exec(
		`UPDATE tickets SET pr_number = ?, pr_status = ?, updated_at = ? WHERE id = ?`,
		number, status, nowUTC(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ticket %q: %w", id, ErrNotFound)
	}
	return nil
}

// ─── Comments ────────────────────────────────────────────────────────────────

// AddComment appends an entry to the ticket's audit trail.
func (s *Store) AddComment(ticketID, author, body string) (*Comment, error) {
	c := &Comment{
		TicketID:  ticketID,
		Author:    author,
		Body:      body,
		CreatedAt: nowUTC(),
	}
	res, err := s.db.Exec(
		`INSERT INTO ticket_comments (ticket_id, author, body, created_at) VALUES (?, ?, ?, ?)`,
		c.TicketID, c.Author, c.Body, c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("adding comment: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	return c, nil
}

// ListComments returns a ticket's audit trail in insertion order.
func (s *Store) ListComments(ticketID string) ([]Comment, error) {
	rows, err := s.db.Query(
		`SELECT id, ticket_id, author, body, created_at
		 FROM ticket_comments WHERE ticket_id = ? ORDER BY id`, ticketID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var comments []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.TicketID, &c.Author, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}
