// Package mirror maintains the local state snapshot read by shell hooks.
//
// Hooks run outside this process and have no database access, so the
// current ralph session state is mirrored to a fixed JSON file under the
// project tree. The file is a disposable cache: always a full rewrite of
// the latest state, never a log, and never authoritative — the session
// record in the database owns truth.
package mirror

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ralphlabs/tickd/internal/integrity"
)

const (
	stateDirName  = ".claude"
	stateFileName = "ralph-state.json"
)

// Snapshot is the on-disk mirror document.
type Snapshot struct {
	SessionID    string   `json:"sessionId"`
	TicketID     string   `json:"ticketId"`
	CurrentState string   `json:"currentState"`
	StateHistory []string `json:"stateHistory"`
	StartedAt    string   `json:"startedAt"`
	UpdatedAt    string   `json:"updatedAt"`
}

// Path returns the snapshot file location for a project root.
func Path(projectRoot string) string {
	return filepath.Join(projectRoot, stateDirName, stateFileName)
}

// Write atomically replaces the snapshot file with the given state,
// optionally signed. Write order is temp-file-then-rename so hook scripts
// never observe a half-written file.
func Write(projectRoot string, snap Snapshot, signer *integrity.Signer) error {
	dir := filepath.Join(projectRoot, stateDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	doc := map[string]any{
		"sessionId":    snap.SessionID,
		"ticketId":     snap.TicketID,
		"currentState": snap.CurrentState,
		"stateHistory": snap.StateHistory,
		"startedAt":    snap.StartedAt,
		"updatedAt":    snap.UpdatedAt,
	}
	if signer != nil {
		if err := signer.Attach(doc); err != nil {
			return fmt.Errorf("signing snapshot: %w", err)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tmp := Path(projectRoot) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, Path(projectRoot)); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// Remove deletes the snapshot file. Idempotent: a missing file is fine.
func Remove(projectRoot string) error {
	err := os.Remove(Path(projectRoot))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing snapshot: %w", err)
	}
	return nil
}

// Read loads the raw snapshot document, signature field included.
// Used by the verify-state CLI, not by the server.
func Read(projectRoot string) (map[string]any, error) {
	data, err := os.ReadFile(Path(projectRoot))
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	return doc, nil
}
