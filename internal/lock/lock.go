// Package lock implements the advisory PID lock guarding the shared database.
//
// The lock never blocks and never refuses: SQLite's own WAL journaling is
// what actually serializes writers. The lock record exists so operators can
// see which process last claimed ownership, and so stale records left by
// dead processes get cleaned up. Acquire over a live foreign lock succeeds
// with a warning rather than failing — availability over strict exclusion.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// OwnerType identifies which kind of process holds the lock.
type OwnerType string

const (
	OwnerServer OwnerType = "mcp-server"
	OwnerCLI    OwnerType = "cli"
	OwnerUI     OwnerType = "vite"
)

// Record is the on-disk lock file content.
type Record struct {
	PID       int       `json:"pid"`
	StartedAt string    `json:"startedAt"`
	Type      OwnerType `json:"type"`
}

// AcquireResult reports the outcome of an Acquire call.
type AcquireResult struct {
	Acquired bool
	Record   Record
	// Warning is non-empty when another live process held the lock or
	// when a filesystem error forced degraded (lockless) operation.
	Warning string
}

// Manager owns one process's view of the lock file. It is created by the
// process lifecycle controller and passed explicitly — there is no
// package-level current lock.
type Manager struct {
	path string
	pid  int
}

// NewManager creates a Manager for the lock file at path, bound to the
// current process id.
func NewManager(path string) *Manager {
	return &Manager{path: path, pid: os.Getpid()}
}

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Acquire claims the lock for the current process.
//
// An existing record owned by a dead process is removed first (stale-lock
// reclamation). An existing record owned by a live process produces a
// warning but does not stop acquisition: the new record is written anyway,
// identifying this process as the most recent claimant. Write failures are
// reported as warnings, never errors — the process runs without a lock
// rather than aborting startup.
func (m *Manager) Acquire(owner OwnerType) AcquireResult {
	res := AcquireResult{}

	if existing, err := m.Read(); err == nil {
		if m.IsStale(existing) {
			if rmErr := os.Remove(m.path); rmErr != nil && !os.IsNotExist(rmErr) {
				res.Warning = fmt.Sprintf("could not remove stale lock (pid %d): %v", existing.PID, rmErr)
			}
		} else if existing.PID != m.pid {
			res.Warning = fmt.Sprintf(
				"lock already held by live %s process (pid %d, started %s); continuing anyway — the database's own journaling serializes writers",
				existing.Type, existing.PID, existing.StartedAt,
			)
		}
	}

	rec := Record{
		PID:       m.pid,
		StartedAt: timeNow().UTC().Format(time.RFC3339),
		Type:      owner,
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		res.Warning = fmt.Sprintf("encoding lock record: %v", err)
		return res
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		// Degraded mode: no lock, but the process keeps running.
		res.Warning = fmt.Sprintf("writing lock file: %v; continuing without a lock", err)
		return res
	}

	res.Acquired = true
	res.Record = rec
	return res
}

// Release removes the lock file, but only when the record on disk belongs
// to the current process. A lock owned by another PID is left untouched.
func (m *Manager) Release() (released bool, err error) {
	rec, err := m.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	if rec.PID != m.pid {
		return false, fmt.Errorf("lock owned by pid %d, not this process (pid %d)", rec.PID, m.pid)
	}

	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("removing lock file: %w", err)
	}
	return true, nil
}

// Read loads the current lock record from disk.
func (m *Manager) Read() (Record, error) {
	var rec Record
	data, err := os.ReadFile(m.path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("parsing lock file: %w", err)
	}
	return rec, nil
}

// IsStale reports whether the record's owning process is no longer running.
// The probe is signal 0: only "no such process" counts as dead. A live
// process we lack permission to signal (EPERM) still counts as alive.
func (m *Manager) IsStale(rec Record) bool {
	if rec.PID <= 0 {
		return true
	}
	proc, err := os.FindProcess(rec.PID)
	if err != nil {
		return true
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone)
}

// Path returns the lock file location.
func (m *Manager) Path() string { return m.path }
