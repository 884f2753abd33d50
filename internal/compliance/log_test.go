package compliance

import (
	"errors"
	"testing"
	"time"

	"github.com/ralphlabs/tickd/internal/store"
)

func testLog(t *testing.T) (*Log, *store.Store) {
	t.Helper()
	s, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewLog(s), s
}

// --- Append ---

func TestAppendAssignsSequentialNumbers(t *testing.T) {
	l, _ := testLog(t)
	sess, err := l.Start(store.StartConversationParams{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i, content := range []string{"first", "second", "third"} {
		m, err := l.Append(sess.ID, "user", content, false)
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if m.SequenceNumber != i+1 {
			t.Errorf("message %d: sequence = %d, want %d", i, m.SequenceNumber, i+1)
		}
		if m.ContentHash == "" {
			t.Errorf("message %d: empty content hash", i)
		}
	}
}

func TestAppendRejectedAfterEnd(t *testing.T) {
	l, _ := testLog(t)
	sess, err := l.Start(store.StartConversationParams{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := l.Append(sess.ID, "user", "hello", false); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.End(sess.ID); err != nil {
		t.Fatalf("End: %v", err)
	}

	if _, err := l.Append(sess.ID, "user", "too late", false); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("Append after end: err = %v, want ErrSessionEnded", err)
	}
}

func TestAppendUnknownSession(t *testing.T) {
	l, _ := testLog(t)
	if _, err := l.Append("missing", "user", "hello", false); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// --- Export ---

func TestExportVerifiesEveryMessage(t *testing.T) {
	l, _ := testLog(t)
	sess, err := l.Start(store.StartConversationParams{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	l.Append(sess.ID, "user", "question", false)
	l.Append(sess.ID, "assistant", "answer", false)

	exp, err := l.ExportSession(sess.ID)
	if err != nil {
		t.Fatalf("ExportSession: %v", err)
	}
	if len(exp.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(exp.Messages))
	}
	if !exp.AllValid {
		t.Error("AllValid = false for untouched log")
	}
	for i, mc := range exp.Messages {
		if !mc.Valid {
			t.Errorf("message %d: Valid = false", i)
		}
	}
}

func TestExportFlagsTamperedMessage(t *testing.T) {
	l, s := testLog(t)
	sess, err := l.Start(store.StartConversationParams{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	l.Append(sess.ID, "user", "intact", false)
	// A row written with the wrong hash stands in for post-hoc tampering.
	if _, err := s.AppendMessage(sess.ID, "user", "edited later", "deadbeef", false); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	exp, err := l.ExportSession(sess.ID)
	if err != nil {
		t.Fatalf("ExportSession: %v", err)
	}
	if exp.AllValid {
		t.Error("AllValid = true despite tampered message")
	}
	if !exp.Messages[0].Valid {
		t.Error("intact message flagged invalid")
	}
	if exp.Messages[1].Valid {
		t.Error("tampered message flagged valid")
	}
	// Export must not repair anything.
	msgs, err := s.ListMessages(sess.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if msgs[1].ContentHash != "deadbeef" {
		t.Errorf("export mutated stored hash: %q", msgs[1].ContentHash)
	}
}

// --- Retention ---

// futureClock makes every existing session look older than any positive
// horizon measured from "now".
func futureClock(t *testing.T) {
	t.Helper()
	orig := timeNow
	timeNow = func() time.Time { return time.Now().AddDate(0, 0, 365) }
	t.Cleanup(func() { timeNow = orig })
}

func TestRetentionDryRunDeletesNothing(t *testing.T) {
	l, s := testLog(t)
	sess, err := l.Start(store.StartConversationParams{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	futureClock(t)

	res, err := l.RunRetention(30, false)
	if err != nil {
		t.Fatalf("RunRetention: %v", err)
	}
	if !res.DryRun {
		t.Error("DryRun = false")
	}
	if res.Examined != 1 {
		t.Errorf("Examined = %d, want 1", res.Examined)
	}
	if len(res.Deleted) != 0 {
		t.Errorf("dry run deleted %d session(s)", len(res.Deleted))
	}
	if _, err := s.GetConversation(sess.ID); err != nil {
		t.Errorf("session gone after dry run: %v", err)
	}
}

func TestRetentionConfirmDeletesExpired(t *testing.T) {
	l, s := testLog(t)
	sess, err := l.Start(store.StartConversationParams{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	l.Append(sess.ID, "user", "old message", false)
	futureClock(t)

	res, err := l.RunRetention(30, true)
	if err != nil {
		t.Fatalf("RunRetention: %v", err)
	}
	if len(res.Deleted) != 1 || res.Deleted[0] != sess.ID {
		t.Fatalf("Deleted = %v, want [%s]", res.Deleted, sess.ID)
	}
	if _, err := s.GetConversation(sess.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetConversation after delete: err = %v, want ErrNotFound", err)
	}
}

func TestRetentionSparesLegalHold(t *testing.T) {
	l, s := testLog(t)
	held, err := l.Start(store.StartConversationParams{LegalHold: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	futureClock(t)

	res, err := l.RunRetention(30, true)
	if err != nil {
		t.Fatalf("RunRetention: %v", err)
	}
	if res.Examined != 0 {
		t.Errorf("Examined = %d, want 0", res.Examined)
	}
	if _, err := s.GetConversation(held.ID); err != nil {
		t.Errorf("legal-hold session gone: %v", err)
	}
}

func TestRetentionRejectsBadHorizon(t *testing.T) {
	l, _ := testLog(t)
	if _, err := l.RunRetention(0, true); err == nil {
		t.Error("RunRetention(0) succeeded")
	}
	if _, err := l.RunRetention(-5, false); err == nil {
		t.Error("RunRetention(-5) succeeded")
	}
}
