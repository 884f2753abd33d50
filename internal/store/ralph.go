package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ─── Ralph sessions ──────────────────────────────────────────────────────────

// RalphState is a work phase within one attempt at a ticket.
type RalphState string

const (
	RalphIdle         RalphState = "idle"
	RalphAnalyzing    RalphState = "analyzing"
	RalphImplementing RalphState = "implementing"
	RalphTesting      RalphState = "testing"
	RalphCommitting   RalphState = "committing"
	RalphReviewing    RalphState = "reviewing"
	RalphDone         RalphState = "done"
)

var validRalphStates = map[RalphState]bool{
	RalphIdle:         true,
	RalphAnalyzing:    true,
	RalphImplementing: true,
	RalphTesting:      true,
	RalphCommitting:   true,
	RalphReviewing:    true,
	RalphDone:         true,
}

// ValidateRalphState returns an error if the state is not recognized.
func ValidateRalphState(st RalphState) error {
	if !validRalphStates[st] {
		return fmt.Errorf("invalid session state %q: must be one of: idle, analyzing, implementing, testing, committing, reviewing, done", st)
	}
	return nil
}

// Outcome is the terminal result of a ralph session.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

var validOutcomes = map[Outcome]bool{
	OutcomeSuccess:   true,
	OutcomeFailure:   true,
	OutcomeTimeout:   true,
	OutcomeCancelled: true,
}

// ValidateOutcome returns an error if the outcome is not recognized.
func ValidateOutcome(o Outcome) error {
	if !validOutcomes[o] {
		return fmt.Errorf("invalid outcome %q: must be one of: success, failure, timeout, cancelled", o)
	}
	return nil
}

// TransitionMeta is the structured metadata attached to a history entry.
// Known fields are typed; Extra is the escape hatch for caller-supplied
// fields no schema anticipates.
type TransitionMeta struct {
	Tool     string         `json:"tool,omitempty"`
	File     string         `json:"file,omitempty"`
	Command  string         `json:"command,omitempty"`
	Note     string         `json:"note,omitempty"`
	Outcome  string         `json:"outcome,omitempty"`
	ErrorMsg string         `json:"error,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// IsZero reports whether the metadata carries nothing.
func (m TransitionMeta) IsZero() bool {
	return m.Tool == "" && m.File == "" && m.Command == "" && m.Note == "" &&
		m.Outcome == "" && m.ErrorMsg == "" && len(m.Extra) == 0
}

// RalphSession is one attempt at a ticket.
type RalphSession struct {
	ID           string     `json:"id"`
	TicketID     string     `json:"ticket_id"`
	CurrentState RalphState `json:"current_state"`
	Outcome      *Outcome   `json:"outcome,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    string     `json:"started_at"`
	CompletedAt  *string    `json:"completed_at,omitempty"`
}

// Completed reports whether the session has reached its terminal state.
func (r *RalphSession) Completed() bool { return r.CompletedAt != nil }

// HistoryEntry is one append-only record of a state transition.
type HistoryEntry struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	State     RalphState     `json:"state"`
	Metadata  TransitionMeta `json:"metadata"`
	CreatedAt string         `json:"created_at"`
}

// CreateRalphSession inserts a new session in idle with an initial history
// entry. Single-active enforcement lives in the ralph package.
func (s *Store) CreateRalphSession(ticketID string) (*RalphSession, error) {
	now := nowUTC()
	sess := &RalphSession{
		ID:           uuid.NewString(),
		TicketID:     ticketID,
		CurrentState: RalphIdle,
		StartedAt:    now,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT INTO ralph_sessions (id, ticket_id, current_state, started_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.TicketID, sess.CurrentState, sess.StartedAt,
	); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO ralph_state_history (session_id, state, created_at) VALUES (?, ?, ?)`,
		sess.ID, RalphIdle, now,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetRalphSession retrieves a session by ID.
func (s *Store) GetRalphSession(id string) (*RalphSession, error) {
	var sess RalphSession
	err := s.db.QueryRow(
		`SELECT id, ticket_id, current_state, outcome, error_message, started_at, completed_at
		 FROM ralph_sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.TicketID, &sess.CurrentState, &sess.Outcome,
		&sess.ErrorMessage, &sess.StartedAt, &sess.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ActiveRalphSession returns the non-completed session for a ticket, or
// ErrNotFound when none exists. At most one can exist at a time.
func (s *Store) ActiveRalphSession(ticketID string) (*RalphSession, error) {
	var sess RalphSession
	err := s.db.QueryRow(
		`SELECT id, ticket_id, current_state, outcome, error_message, started_at, completed_at
		 FROM ralph_sessions WHERE ticket_id = ? AND completed_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`, ticketID,
	).Scan(&sess.ID, &sess.TicketID, &sess.CurrentState, &sess.Outcome,
		&sess.ErrorMessage, &sess.StartedAt, &sess.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("active session for ticket %q: %w", ticketID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// AppendTransition records a state change: a new history row plus the
// session's current-state pointer, committed together. History is
// append-only — existing rows are never updated or deleted.
func (s *Store) AppendTransition(sessionID string, state RalphState, meta TransitionMeta) error {
	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := nowUTC()
	if _, err := tx.Exec(
		`INSERT INTO ralph_state_history (session_id, state, metadata, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, state, metaJSON, now,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`UPDATE ralph_sessions SET current_state = ? WHERE id = ?`,
		state, sessionID,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// CompleteRalphSession stamps the terminal state: outcome, completed_at,
// and a final done history entry, all in one transaction.
func (s *Store) CompleteRalphSession(sessionID string, outcome Outcome, errorMessage string) error {
	meta := TransitionMeta{Outcome: string(outcome), ErrorMsg: errorMessage}
	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := nowUTC()
	if _, err := tx.Exec(
		`UPDATE ralph_sessions
		 SET current_state = ?, outcome = ?, error_message = ?, completed_at = ?
		 WHERE id = ?`,
		RalphDone, outcome, nullableString(errorMessage), now, sessionID,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO ralph_state_history (session_id, state, metadata, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, RalphDone, metaJSON, now,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// SessionHistory returns a session's history entries in insertion order.
func (s *Store) SessionHistory(sessionID string) ([]HistoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, state, metadata, created_at
		 FROM ralph_state_history WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var metaJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.State, &metaJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata for history entry %d: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func encodeMeta(meta TransitionMeta) (any, error) {
	if meta.IsZero() {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return string(data), nil
}
