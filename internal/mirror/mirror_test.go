package mirror

import (
	"bytes"
	"os"
	"testing"

	"github.com/ralphlabs/tickd/internal/integrity"
)

func testSnap() Snapshot {
	return Snapshot{
		SessionID:    "sess-1",
		TicketID:     "TK-1",
		CurrentState: "implementing",
		StateHistory: []string{"idle", "analyzing", "implementing"},
		StartedAt:    "2026-01-01T00:00:00Z",
		UpdatedAt:    "2026-01-01T00:05:00Z",
	}
}

func TestWriteAndRead(t *testing.T) {
	root := t.TempDir()

	if err := Write(root, testSnap(), nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	doc, err := Read(root)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc["sessionId"] != "sess-1" {
		t.Errorf("sessionId = %v, want sess-1", doc["sessionId"])
	}
	if doc["currentState"] != "implementing" {
		t.Errorf("currentState = %v, want implementing", doc["currentState"])
	}
	if _, ok := doc[integrity.SignatureField]; ok {
		t.Error("unsigned write must not carry a signature field")
	}
}

func TestWrite_ReplacesPreviousSnapshot(t *testing.T) {
	root := t.TempDir()

	if err := Write(root, testSnap(), nil); err != nil {
		t.Fatal(err)
	}
	next := testSnap()
	next.CurrentState = "testing"
	next.StateHistory = append(next.StateHistory, "testing")
	if err := Write(root, next, nil); err != nil {
		t.Fatal(err)
	}

	doc, err := Read(root)
	if err != nil {
		t.Fatal(err)
	}
	if doc["currentState"] != "testing" {
		t.Errorf("snapshot not rewritten: currentState = %v", doc["currentState"])
	}
	history, ok := doc["stateHistory"].([]any)
	if !ok || len(history) != 4 {
		t.Errorf("stateHistory = %v, want 4 entries", doc["stateHistory"])
	}
}

func TestWrite_SignedSnapshotVerifies(t *testing.T) {
	root := t.TempDir()
	signer := integrity.NewSigner(bytes.Repeat([]byte{7}, integrity.KeySize), true)

	if err := Write(root, testSnap(), signer); err != nil {
		t.Fatalf("Write: %v", err)
	}

	doc, err := Read(root)
	if err != nil {
		t.Fatal(err)
	}
	if res := signer.Verify(doc); !res.Valid {
		t.Errorf("signed snapshot failed verification after round trip: %s", res.Reason)
	}
}

func TestRemove_Idempotent(t *testing.T) {
	root := t.TempDir()

	if err := Write(root, testSnap(), nil); err != nil {
		t.Fatal(err)
	}
	if err := Remove(root); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(Path(root)); !os.IsNotExist(err) {
		t.Error("snapshot file should be gone")
	}

	// Second remove is a no-op, not an error.
	if err := Remove(root); err != nil {
		t.Errorf("Remove on missing file: %v", err)
	}
}
