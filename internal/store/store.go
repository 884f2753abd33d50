// Package store is the persistence layer over the shared SQLite database.
//
// All state the workflow machine, session recorder and compliance log need
// lives here. SQLite runs in WAL mode: cross-process write ordering rests
// entirely on WAL serializing writers — the advisory PID lock adds
// diagnostics, not correctness. Multi-statement mutations that must land
// together (finding batches, archival deletes) run inside transactions.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ralphlabs/tickd/internal/config"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeNow is a package-level var for deterministic timestamps in tests.
var timeNow = time.Now

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// ─── Types ───────────────────────────────────────────────────────────────────

// Project groups tickets and epics.
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	CreatedAt string `json:"created_at"`
}

// Epic is a grouping of tickets within a project.
type Epic struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
}

// TicketStatus is the closed set of workflow states a ticket moves through.
type TicketStatus string

const (
	StatusBacklog     TicketStatus = "backlog"
	StatusReady       TicketStatus = "ready"
	StatusInProgress  TicketStatus = "in_progress"
	StatusReview      TicketStatus = "review"
	StatusAIReview    TicketStatus = "ai_review"
	StatusHumanReview TicketStatus = "human_review"
	StatusDone        TicketStatus = "done"
)

// validStatuses is the set of allowed ticket statuses.
var validStatuses = map[TicketStatus]bool{
	StatusBacklog:     true,
	StatusReady:       true,
	StatusInProgress:  true,
	StatusReview:      true,
	StatusAIReview:    true,
	StatusHumanReview: true,
	StatusDone:        true,
}

// ValidateStatus returns an error if the status is not recognized.
func ValidateStatus(s TicketStatus) error {
	if !validStatuses[s] {
		return fmt.Errorf("invalid ticket status %q: must be one of: backlog, ready, in_progress, review, ai_review, human_review, done", s)
	}
	return nil
}

// Ticket is the unit of work the workflow machine governs.
type Ticket struct {
	ID          string       `json:"id"`
	ProjectID   string       `json:"project_id"`
	EpicID      *string      `json:"epic_id,omitempty"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      TicketStatus `json:"status"`
	Branch      *string      `json:"branch,omitempty"`
	PRNumber    *int         `json:"pr_number,omitempty"`
	PRStatus    *string      `json:"pr_status,omitempty"`
	CreatedAt   string       `json:"created_at"`
	UpdatedAt   string       `json:"updated_at"`
}

// Comment is one entry in a ticket's audit trail.
type Comment struct {
	ID        int64  `json:"id"`
	TicketID  string `json:"ticket_id"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds store configuration.
type Config struct {
	DataDir string
}

// DefaultConfig returns the default store configuration (~/.tickd).
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{DataDir: filepath.Join(home, config.DataDirName)}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the shared persistence engine backed by SQLite.
type Store struct {
	db  *sql.DB
	cfg Config
}

// New creates a Store: ensures the data directory, opens SQLite with WAL
// mode, and runs migrations. Inability to open the store is fatal to the
// caller — unlike the lock and mirror subsystems there is no degraded mode
// without a database.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, config.DBFile)
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// WAL serializes concurrent writers across processes; the ordering
	// guarantees the session and compliance subsystems rely on hold only
	// under this journal mode.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS projects (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			path       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS epics (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			title      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (project_id) REFERENCES projects(id)
		);

		CREATE TABLE IF NOT EXISTS tickets (
			id          TEXT PRIMARY KEY,
			project_id  TEXT NOT NULL,
			epic_id     TEXT,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'backlog',
			branch      TEXT,
			pr_number   INTEGER,
			pr_status   TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,
			FOREIGN KEY (project_id) REFERENCES projects(id),
			FOREIGN KEY (epic_id)    REFERENCES epics(id)
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_project ON tickets(project_id);
		CREATE INDEX IF NOT EXISTS idx_tickets_status  ON tickets(status);

		CREATE TABLE IF NOT EXISTS ticket_comments (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ticket_id  TEXT NOT NULL,
			author     TEXT NOT NULL,
			body       TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (ticket_id) REFERENCES tickets(id)
		);

		CREATE INDEX IF NOT EXISTS idx_comments_ticket ON ticket_comments(ticket_id);

		CREATE TABLE IF NOT EXISTS workflow_states (
			ticket_id        TEXT PRIMARY KEY,
			review_iteration INTEGER NOT NULL DEFAULT 1,
			findings_count   INTEGER NOT NULL DEFAULT 0,
			findings_fixed   INTEGER NOT NULL DEFAULT 0,
			demo_generated   INTEGER NOT NULL DEFAULT 0,
			demo_script      TEXT,
			updated_at       TEXT NOT NULL,
			FOREIGN KEY (ticket_id) REFERENCES tickets(id)
		);

		CREATE TABLE IF NOT EXISTS review_findings (
			id          TEXT PRIMARY KEY,
			ticket_id   TEXT NOT NULL,
			iteration   INTEGER NOT NULL,
			agent       TEXT NOT NULL,
			severity    TEXT NOT NULL,
			category    TEXT NOT NULL,
			description TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'open',
			fixed_at    TEXT,
			created_at  TEXT NOT NULL,
			FOREIGN KEY (ticket_id) REFERENCES tickets(id)
		);

		CREATE INDEX IF NOT EXISTS idx_findings_ticket ON review_findings(ticket_id);
		CREATE INDEX IF NOT EXISTS idx_findings_status ON review_findings(status);

		CREATE TABLE IF NOT EXISTS ralph_sessions (
			id            TEXT PRIMARY KEY,
			ticket_id     TEXT NOT NULL,
			current_state TEXT NOT NULL DEFAULT 'idle',
			outcome       TEXT,
			error_message TEXT,
			started_at    TEXT NOT NULL,
			completed_at  TEXT,
			FOREIGN KEY (ticket_id) REFERENCES tickets(id)
		);

		CREATE INDEX IF NOT EXISTS idx_ralph_ticket ON ralph_sessions(ticket_id);

		CREATE TABLE IF NOT EXISTS ralph_state_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			state      TEXT NOT NULL,
			metadata   TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES ralph_sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_history_session ON ralph_state_history(session_id);

		CREATE TABLE IF NOT EXISTS conversation_sessions (
			id                  TEXT PRIMARY KEY,
			project_id          TEXT,
			ticket_id           TEXT,
			environment         TEXT NOT NULL DEFAULT 'local',
			data_classification TEXT NOT NULL DEFAULT 'internal',
			legal_hold          INTEGER NOT NULL DEFAULT 0,
			started_at          TEXT NOT NULL,
			ended_at            TEXT
		);

		CREATE TABLE IF NOT EXISTS conversation_messages (
			id                        TEXT PRIMARY KEY,
			session_id                TEXT NOT NULL,
			role                      TEXT NOT NULL,
			content                   TEXT NOT NULL,
			content_hash              TEXT NOT NULL,
			sequence_number           INTEGER NOT NULL,
			contains_potential_secrets INTEGER NOT NULL DEFAULT 0,
			created_at                TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES conversation_sessions(id),
			UNIQUE (session_id, sequence_number)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session ON conversation_messages(session_id);

		CREATE TABLE IF NOT EXISTS access_audit (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			action     TEXT NOT NULL,
			detail     TEXT NOT NULL,
			success    INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS telemetry_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			kind       TEXT NOT NULL,
			ticket_id  TEXT,
			session_id TEXT,
			payload    TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_telemetry_kind ON telemetry_events(kind);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// nowUTC formats the current time as RFC3339 UTC, the timestamp format
// used throughout the schema.
func nowUTC() string {
	return timeNow().UTC().Format(time.RFC3339)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
