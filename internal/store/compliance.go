package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// ─── Conversation sessions & messages ────────────────────────────────────────

// ConversationSession groups the messages of one assistant conversation.
type ConversationSession struct {
	ID                 string  `json:"id"`
	ProjectID          *string `json:"project_id,omitempty"`
	TicketID           *string `json:"ticket_id,omitempty"`
	Environment        string  `json:"environment"`
	DataClassification string  `json:"data_classification"`
	LegalHold          bool    `json:"legal_hold"`
	StartedAt          string  `json:"started_at"`
	EndedAt            *string `json:"ended_at,omitempty"`
}

// Ended reports whether the session has been closed to new messages.
func (c *ConversationSession) Ended() bool { return c.EndedAt != nil }

// Message is one logged conversation message.
type Message struct {
	ID                       string `json:"id"`
	SessionID                string `json:"session_id"`
	Role                     string `json:"role"`
	Content                  string `json:"content"`
	ContentHash              string `json:"content_hash"`
	SequenceNumber           int    `json:"sequence_number"`
	ContainsPotentialSecrets bool   `json:"contains_potential_secrets"`
	CreatedAt                string `json:"created_at"`
}

// StartConversationParams holds the input for opening a conversation session.
type StartConversationParams struct {
	ProjectID          string
	TicketID           string
	Environment        string
	DataClassification string
	LegalHold          bool
}

// StartConversation opens a conversation session.
func (s *Store) StartConversation(p StartConversationParams) (*ConversationSession, error) {
	if p.Environment == "" {
		p.Environment = "local"
	}
	if p.DataClassification == "" {
		p.DataClassification = "internal"
	}
	sess := &ConversationSession{
		ID:                 uuid.NewString(),
		Environment:        p.Environment,
		DataClassification: p.DataClassification,
		LegalHold:          p.LegalHold,
		StartedAt:          nowUTC(),
	}
	if p.ProjectID != "" {
		sess.ProjectID = &p.ProjectID
	}
	if p.TicketID != "" {
		sess.TicketID = &p.TicketID
	}

	legalHold := 0
	if p.LegalHold {
		legalHold = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO conversation_sessions (id, project_id, ticket_id, environment, data_classification, legal_hold, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, nullableString(p.ProjectID), nullableString(p.TicketID),
		sess.Environment, sess.DataClassification, legalHold, sess.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("starting conversation: %w", err)
	}
	return sess, nil
}

// GetConversation retrieves a conversation session by ID.
func (s *Store) GetConversation(id string) (*ConversationSession, error) {
	var sess ConversationSession
	var legalHold int
	err := s.db.QueryRow(
		`SELECT id, project_id, ticket_id, environment, data_classification, legal_hold, started_at, ended_at
		 FROM conversation_sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.ProjectID, &sess.TicketID, &sess.Environment,
		&sess.DataClassification, &legalHold, &sess.StartedAt, &sess.EndedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	sess.LegalHold = legalHold != 0
	return &sess, nil
}

// EndConversation closes a session to further messages.
func (s *Store) EndConversation(id string) error {
	res, err := s.db.Exec(
		`UPDATE conversation_sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		nowUTC(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Missing row or already ended; callers distinguish via GetConversation.
		if _, getErr := s.GetConversation(id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("conversation %q already ended", id)
	}
	return nil
}

// AppendMessage inserts a message with the next per-session sequence
// number (1-based, gapless). The max(sequence)+1 read and the insert share
// a transaction, and the UNIQUE(session_id, sequence_number) constraint
// backstops any writer the transaction does not serialize against.
func (s *Store) AppendMessage(sessionID, role, content, contentHash string, secrets bool) (*Message, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM conversation_messages WHERE session_id = ?`,
		sessionID,
	).Scan(&seq); err != nil {
		return nil, err
	}

	m := &Message{
		ID:                       uuid.NewString(),
		SessionID:                sessionID,
		Role:                     role,
		Content:                  content,
		ContentHash:              contentHash,
		SequenceNumber:           seq,
		ContainsPotentialSecrets: secrets,
		CreatedAt:                nowUTC(),
	}
	secretsVal := 0
	if secrets {
		secretsVal = 1
	}
	if _, err := tx.Exec(
		`INSERT INTO conversation_messages (id, session_id, role, content, content_hash, sequence_number, contains_potential_secrets, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, m.ContentHash, m.SequenceNumber, secretsVal, m.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns a session's messages in sequence order.
func (s *Store) ListMessages(sessionID string) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, content_hash, sequence_number, contains_potential_secrets, created_at
		 FROM conversation_messages WHERE session_id = ? ORDER BY sequence_number`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var messages []Message
	for rows.Next() {
		var m Message
		var secrets int
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.ContentHash,
			&m.SequenceNumber, &secrets, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ContainsPotentialSecrets = secrets != 0
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ExpiredConversations lists sessions started before the cutoff,
// excluding any under legal hold.
func (s *Store) ExpiredConversations(cutoff string) ([]ConversationSession, error) {
	rows, err := s.db.Query(
		`SELECT id, project_id, ticket_id, environment, data_classification, legal_hold, started_at, ended_at
		 FROM conversation_sessions
		 WHERE started_at < ? AND legal_hold = 0
		 ORDER BY started_at`, cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []ConversationSession
	for rows.Next() {
		var sess ConversationSession
		var legalHold int
		if err := rows.Scan(&sess.ID, &sess.ProjectID, &sess.TicketID, &sess.Environment,
			&sess.DataClassification, &legalHold, &sess.StartedAt, &sess.EndedAt); err != nil {
			return nil, err
		}
		sess.LegalHold = legalHold != 0
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// DeleteConversation removes a session and its messages in one
// transaction so a partial failure leaves no orphaned rows.
func (s *Store) DeleteConversation(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversation_messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversation_sessions WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ─── Access audit ────────────────────────────────────────────────────────────

// RecordAccessAudit appends a row to the access-audit log. Archival runs,
// previews included, always leave a trace here.
func (s *Store) RecordAccessAudit(action, detail string, success bool) error {
	successVal := 0
	if success {
		successVal = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO access_audit (action, detail, success, created_at) VALUES (?, ?, ?, ?)`,
		action, detail, successVal, nowUTC(),
	)
	return err
}

// ─── Telemetry ───────────────────────────────────────────────────────────────

// TelemetryEvent is one observability record.
type TelemetryEvent struct {
	ID        int64   `json:"id"`
	Kind      string  `json:"kind"`
	TicketID  *string `json:"ticket_id,omitempty"`
	SessionID *string `json:"session_id,omitempty"`
	Payload   *string `json:"payload,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// RecordTelemetry appends a telemetry event. Best-effort from callers'
// perspective: they log failures as warnings and move on.
func (s *Store) RecordTelemetry(kind, ticketID, sessionID, payload string) error {
	_, err := s.db.Exec(
		`INSERT INTO telemetry_events (kind, ticket_id, session_id, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		kind, nullableString(ticketID), nullableString(sessionID), nullableString(payload), nowUTC(),
	)
	return err
}

// ListTelemetry returns recent telemetry events, newest first.
func (s *Store) ListTelemetry(kind string, limit int) ([]TelemetryEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, kind, ticket_id, session_id, payload, created_at FROM telemetry_events WHERE 1=1`
	args := []any{}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []TelemetryEvent
	for rows.Next() {
		var e TelemetryEvent
		if err := rows.Scan(&e.ID, &e.Kind, &e.TicketID, &e.SessionID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
