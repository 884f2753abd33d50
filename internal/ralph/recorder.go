// Package ralph tracks work-phase sessions for tickets.
//
// A ralph session is an in-process record of one attempt at a ticket:
// idle → analyzing → implementing → testing → committing → reviewing → done,
// with testing → implementing as the expected rework edge. The machine is
// deliberately loose — any state may be set at any time until completion —
// because the states exist for observability, not control; sensible
// ordering is the caller's responsibility. The only hard rules: history is
// append-only, at most one active session per ticket, and a completed
// session accepts no further transitions.
package ralph

import (
	"errors"
	"fmt"
	"log"

	"github.com/ralphlabs/tickd/internal/integrity"
	"github.com/ralphlabs/tickd/internal/mirror"
	"github.com/ralphlabs/tickd/internal/store"
)

// ErrCompleted is returned when mutating a session that already completed.
var ErrCompleted = errors.New("session already completed")

// Recorder manages ralph sessions and keeps the local state mirror in sync.
type Recorder struct {
	store  *store.Store
	signer *integrity.Signer
}

// NewRecorder creates a Recorder over the shared store. signer may be a
// disabled signer when HMAC signing is off.
func NewRecorder(s *store.Store, signer *integrity.Signer) *Recorder {
	return &Recorder{store: s, signer: signer}
}

// CreateResult reports session creation, distinguishing a fresh session
// from an existing active one returned as-is.
type CreateResult struct {
	Session  *store.RalphSession
	Existing bool
	Warnings []string
}

// Create starts a session for a ticket. When an active session already
// exists it is returned unchanged — a soft failure, not an error: at most
// one active session per ticket.
func (r *Recorder) Create(ticketID string) (*CreateResult, error) {
	if _, err := r.store.GetTicket(ticketID); err != nil {
		return nil, err
	}

	if existing, err := r.store.ActiveRalphSession(ticketID); err == nil {
		return &CreateResult{Session: existing, Existing: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	sess, err := r.store.CreateRalphSession(ticketID)
	if err != nil {
		return nil, err
	}

	res := &CreateResult{Session: sess}
	res.Warnings = r.syncMirror(sess)
	r.emit("session_started", sess, "")
	return res, nil
}

// TransitionResult reports a state transition plus best-effort warnings.
type TransitionResult struct {
	Session  *store.RalphSession
	Warnings []string
}

// Transition appends a state change to the session's history and rewrites
// the local state mirror. Rejected once the session has completed.
func (r *Recorder) Transition(sessionID string, state store.RalphState, meta store.TransitionMeta) (*TransitionResult, error) {
	if err := store.ValidateRalphState(state); err != nil {
		return nil, err
	}

	sess, err := r.store.GetRalphSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Completed() {
		return nil, fmt.Errorf("%w: session %q completed at %s", ErrCompleted, sessionID, *sess.CompletedAt)
	}

	if err := r.store.AppendTransition(sessionID, state, meta); err != nil {
		return nil, err
	}

	sess, err = r.store.GetRalphSession(sessionID)
	if err != nil {
		return nil, err
	}

	res := &TransitionResult{Session: sess}
	res.Warnings = r.syncMirror(sess)
	r.emit("state_transition", sess, string(state))
	return res, nil
}

// Complete stamps the terminal state, removes the mirror file, and emits
// the completion event. Rejected if already completed.
func (r *Recorder) Complete(sessionID string, outcome store.Outcome, errorMessage string) (*TransitionResult, error) {
	if err := store.ValidateOutcome(outcome); err != nil {
		return nil, err
	}

	sess, err := r.store.GetRalphSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Completed() {
		return nil, fmt.Errorf("%w: session %q completed at %s", ErrCompleted, sessionID, *sess.CompletedAt)
	}

	if err := r.store.CompleteRalphSession(sessionID, outcome, errorMessage); err != nil {
		return nil, err
	}

	sess, err = r.store.GetRalphSession(sessionID)
	if err != nil {
		return nil, err
	}

	res := &TransitionResult{Session: sess}
	if root, rootErr := r.projectRoot(sess); rootErr != nil {
		res.Warnings = append(res.Warnings, rootErr.Error())
	} else if err := mirror.Remove(root); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("state mirror not removed: %v", err))
	}
	r.emit("session_completed", sess, string(outcome))
	return res, nil
}

// History returns a session's state history in insertion order.
func (r *Recorder) History(sessionID string) ([]store.HistoryEntry, error) {
	if _, err := r.store.GetRalphSession(sessionID); err != nil {
		return nil, err
	}
	return r.store.SessionHistory(sessionID)
}

// ─── Mirror & telemetry plumbing ─────────────────────────────────────────────

// projectRoot resolves the mirror location for a session's ticket.
func (r *Recorder) projectRoot(sess *store.RalphSession) (string, error) {
	t, err := r.store.GetTicket(sess.TicketID)
	if err != nil {
		return "", fmt.Errorf("resolving project for mirror: %v", err)
	}
	p, err := r.store.GetProject(t.ProjectID)
	if err != nil {
		return "", fmt.Errorf("resolving project for mirror: %v", err)
	}
	return p.Path, nil
}

// syncMirror rewrites the local state snapshot. Mirror failures never fail
// the transition — the database record is the source of truth and the
// mirror is a cache for hook scripts; failures come back as warnings.
func (r *Recorder) syncMirror(sess *store.RalphSession) []string {
	root, err := r.projectRoot(sess)
	if err != nil {
		return []string{err.Error()}
	}

	history, err := r.store.SessionHistory(sess.ID)
	if err != nil {
		return []string{fmt.Sprintf("state mirror not updated: %v", err)}
	}
	names := make([]string, len(history))
	for i, e := range history {
		names[i] = string(e.State)
	}

	snap := mirror.Snapshot{
		SessionID:    sess.ID,
		TicketID:     sess.TicketID,
		CurrentState: string(sess.CurrentState),
		StateHistory: names,
		StartedAt:    sess.StartedAt,
	}
	if len(history) > 0 {
		snap.UpdatedAt = history[len(history)-1].CreatedAt
	}

	if err := mirror.Write(root, snap, r.signer); err != nil {
		return []string{fmt.Sprintf("state mirror not updated: %v", err)}
	}
	return nil
}

// emit records a telemetry event; failures are logged, never propagated.
func (r *Recorder) emit(kind string, sess *store.RalphSession, payload string) {
	if err := r.store.RecordTelemetry(kind, sess.TicketID, sess.ID, payload); err != nil {
		log.Printf("WARNING: telemetry %s not recorded: %v", kind, err)
	}
}
