package ralph

import (
	"errors"
	"os"
	"testing"

	"github.com/ralphlabs/tickd/internal/integrity"
	"github.com/ralphlabs/tickd/internal/mirror"
	"github.com/ralphlabs/tickd/internal/store"
)

// testRecorder wires a Recorder to a temp store and a temp project tree.
func testRecorder(t *testing.T) (*Recorder, *store.Store, string) {
	t.Helper()
	s, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewRecorder(s, integrity.NewSigner(nil, false)), s, t.TempDir()
}

func newTicket(t *testing.T, s *store.Store, projectPath string) *store.Ticket {
	t.Helper()
	p, err := s.CreateProject("demo", projectPath)
	if err != nil {
		t.Fatal(err)
	}
	tk, err := s.CreateTicket(store.CreateTicketParams{ProjectID: p.ID, Title: "work"})
	if err != nil {
		t.Fatal(err)
	}
	return tk
}

// --- Create ---

func TestCreate_SecondCallReturnsExistingSession(t *testing.T) {
	r, s, root := testRecorder(t)
	tk := newTicket(t, s, root)

	first, err := r.Create(tk.ID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.Existing {
		t.Error("first create should be fresh")
	}

	second, err := r.Create(tk.ID)
	if err != nil {
		t.Fatalf("Create (second): %v", err)
	}
	if !second.Existing {
		t.Error("second create must report the existing session")
	}
	if second.Session.ID != first.Session.ID {
		t.Errorf("second create returned a different session: %s vs %s", second.Session.ID, first.Session.ID)
	}
}

func TestCreate_AfterCompletionStartsFresh(t *testing.T) {
	r, s, root := testRecorder(t)
	tk := newTicket(t, s, root)

	first, _ := r.Create(tk.ID)
	if _, err := r.Complete(first.Session.ID, store.OutcomeSuccess, ""); err != nil {
		t.Fatal(err)
	}

	second, err := r.Create(tk.ID)
	if err != nil {
		t.Fatalf("Create after completion: %v", err)
	}
	if second.Existing {
		t.Error("completed session must not count as active")
	}
	if second.Session.ID == first.Session.ID {
		t.Error("expected a new session id")
	}
}

func TestCreate_MissingTicket(t *testing.T) {
	r, _, _ := testRecorder(t)
	_, err := r.Create("ghost")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// --- Transition ---

func TestTransition_UpdatesMirror(t *testing.T) {
	r, s, root := testRecorder(t)
	tk := newTicket(t, s, root)
	created, _ := r.Create(tk.ID)

	res, err := r.Transition(created.Session.ID, store.RalphImplementing, store.TransitionMeta{Note: "go"})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
	if res.Session.CurrentState != store.RalphImplementing {
		t.Errorf("CurrentState = %s, want implementing", res.Session.CurrentState)
	}

	doc, err := mirror.Read(root)
	if err != nil {
		t.Fatalf("mirror.Read: %v", err)
	}
	if doc["currentState"] != "implementing" {
		t.Errorf("mirror currentState = %v, want implementing", doc["currentState"])
	}
	history, ok := doc["stateHistory"].([]any)
	if !ok || len(history) != 2 {
		t.Errorf("mirror stateHistory = %v, want [idle implementing]", doc["stateHistory"])
	}
}

func TestTransition_BackwardReworkEdgeAllowed(t *testing.T) {
	r, s, root := testRecorder(t)
	tk := newTicket(t, s, root)
	created, _ := r.Create(tk.ID)
	id := created.Session.ID

	for _, st := range []store.RalphState{store.RalphImplementing, store.RalphTesting, store.RalphImplementing} {
		if _, err := r.Transition(id, st, store.TransitionMeta{}); err != nil {
			t.Fatalf("Transition(%s): %v", st, err)
		}
	}

	history, _ := r.History(id)
	if len(history) != 4 {
		t.Errorf("history length = %d, want 4 (idle + 3)", len(history))
	}
}

func TestTransition_RejectedAfterCompletion(t *testing.T) {
	r, s, root := testRecorder(t)
	tk := newTicket(t, s, root)
	created, _ := r.Create(tk.ID)

	if _, err := r.Complete(created.Session.ID, store.OutcomeFailure, "timed out"); err != nil {
		t.Fatal(err)
	}

	_, err := r.Transition(created.Session.ID, store.RalphTesting, store.TransitionMeta{})
	if !errors.Is(err, ErrCompleted) {
		t.Errorf("err = %v, want ErrCompleted", err)
	}
}

func TestTransition_InvalidState(t *testing.T) {
	r, s, root := testRecorder(t)
	tk := newTicket(t, s, root)
	created, _ := r.Create(tk.ID)

	if _, err := r.Transition(created.Session.ID, "daydreaming", store.TransitionMeta{}); err == nil {
		t.Error("expected validation error for unknown state")
	}
}

// --- Complete ---

func TestComplete_RemovesMirrorExactlyOnce(t *testing.T) {
	r, s, root := testRecorder(t)
	tk := newTicket(t, s, root)
	created, _ := r.Create(tk.ID)

	if _, err := r.Transition(created.Session.ID, store.RalphTesting, store.TransitionMeta{}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(mirror.Path(root)); err != nil {
		t.Fatalf("mirror should exist before completion: %v", err)
	}

	res, err := r.Complete(created.Session.ID, store.OutcomeSuccess, "")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
	if _, err := os.Stat(mirror.Path(root)); !os.IsNotExist(err) {
		t.Error("mirror should be removed on completion")
	}

	// Double completion is rejected.
	if _, err := r.Complete(created.Session.ID, store.OutcomeSuccess, ""); !errors.Is(err, ErrCompleted) {
		t.Errorf("err = %v, want ErrCompleted", err)
	}
}

func TestComplete_TerminalHistoryCarriesOutcome(t *testing.T) {
	r, s, root := testRecorder(t)
	tk := newTicket(t, s, root)
	created, _ := r.Create(tk.ID)

	if _, err := r.Complete(created.Session.ID, store.OutcomeCancelled, "user interrupt"); err != nil {
		t.Fatal(err)
	}

	history, _ := r.History(created.Session.ID)
	last := history[len(history)-1]
	if last.State != store.RalphDone {
		t.Errorf("terminal state = %s, want done", last.State)
	}
	if last.Metadata.Outcome != "cancelled" || last.Metadata.ErrorMsg != "user interrupt" {
		t.Errorf("terminal metadata = %+v", last.Metadata)
	}
}

// --- Telemetry ---

func TestLifecycleEmitsTelemetry(t *testing.T) {
	r, s, root := testRecorder(t)
	tk := newTicket(t, s, root)

	created, _ := r.Create(tk.ID)
	if _, err := r.Transition(created.Session.ID, store.RalphAnalyzing, store.TransitionMeta{}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Complete(created.Session.ID, store.OutcomeSuccess, ""); err != nil {
		t.Fatal(err)
	}

	events, err := s.ListTelemetry("", 10)
	if err != nil {
		t.Fatal(err)
	}
	kinds := map[string]bool{}
	for _, e := range events {
		kinds[e.Kind] = true
	}
	for _, want := range []string{"session_started", "state_transition", "session_completed"} {
		if !kinds[want] {
			t.Errorf("missing telemetry event %q (got %v)", want, kinds)
		}
	}
}
