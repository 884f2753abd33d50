// Package compliance implements the conversation log and its retention.
//
// Messages are hashed with a key derived from host identity plus the
// session id. This is deliberately simpler than the integrity package's
// managed-key HMAC: conversation hashes defend against accidental
// corruption and casual edits, not the mirror's hostile-process threat
// model. The two schemes stay separate on purpose — unifying them would
// need a fresh threat-model pass for this log.
package compliance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ralphlabs/tickd/internal/store"
)

// ErrSessionEnded is returned when appending to a closed session.
var ErrSessionEnded = errors.New("conversation session ended")

// hostname is a package-level var for test injection.
var hostname = os.Hostname

// timeNow is a package-level var for deterministic retention cutoffs in tests.
var timeNow = time.Now

// Log is the append-only conversation recorder.
type Log struct {
	store *store.Store
}

// NewLog creates a Log over the shared store.
func NewLog(s *store.Store) *Log {
	return &Log{store: s}
}

// Start opens a conversation session.
func (l *Log) Start(p store.StartConversationParams) (*store.ConversationSession, error) {
	return l.store.StartConversation(p)
}

// End closes a session to further messages.
func (l *Log) End(sessionID string) error {
	return l.store.EndConversation(sessionID)
}

// Append logs one message. The owning session must exist and be open;
// sequence numbers are assigned 1-based and gapless by the store.
func (l *Log) Append(sessionID, role, content string, secrets bool) (*store.Message, error) {
	sess, err := l.store.GetConversation(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Ended() {
		return nil, fmt.Errorf("%w: %q ended at %s", ErrSessionEnded, sessionID, *sess.EndedAt)
	}

	hash, err := contentHash(sessionID, content)
	if err != nil {
		return nil, err
	}
	return l.store.AppendMessage(sessionID, role, content, hash, secrets)
}

// contentHash computes the keyed message hash. The key is derived, not
// stored: hostname plus session id.
func contentHash(sessionID, content string) (string, error) {
	host, err := hostname()
	if err != nil {
		host = "unknown-host"
	}
	mac := hmac.New(sha256.New, []byte(host+":"+sessionID))
	mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// ─── Export ──────────────────────────────────────────────────────────────────

// MessageCheck is one message's verification result in an export.
type MessageCheck struct {
	Message store.Message `json:"message"`
	Valid   bool          `json:"valid"`
}

// Export is the full verified dump of one session.
type Export struct {
	Session  *store.ConversationSession `json:"session"`
	Messages []MessageCheck             `json:"messages"`
	AllValid bool                       `json:"all_valid"`
}

// ExportSession recomputes every message hash and reports per-message
// pass/fail plus the aggregate flag. Read-only: nothing is mutated, and a
// failed check never blocks the export — detection, not enforcement.
func (l *Log) ExportSession(sessionID string) (*Export, error) {
	sess, err := l.store.GetConversation(sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := l.store.ListMessages(sessionID)
	if err != nil {
		return nil, err
	}

	exp := &Export{Session: sess, AllValid: true}
	for _, m := range messages {
		expected, err := contentHash(sessionID, m.Content)
		if err != nil {
			return nil, err
		}
		valid := hmac.Equal([]byte(expected), []byte(m.ContentHash))
		if !valid {
			exp.AllValid = false
		}
		exp.Messages = append(exp.Messages, MessageCheck{Message: m, Valid: valid})
	}
	return exp, nil
}

// ─── Retention ───────────────────────────────────────────────────────────────

// RetentionResult reports one archival run.
type RetentionResult struct {
	DryRun   bool     `json:"dry_run"`
	Cutoff   string   `json:"cutoff"`
	Examined int      `json:"examined"`
	Deleted  []string `json:"deleted"`
	Failed   []string `json:"failed"`
}

// RunRetention deletes sessions older than the horizon. Legal-hold rows
// are excluded at the query level and never touched. Without confirm the
// run is a preview: candidates are listed, nothing is deleted. Every run,
// previews and failures included, lands in the access-audit log.
func (l *Log) RunRetention(days int, confirm bool) (*RetentionResult, error) {
	if days <= 0 {
		return nil, fmt.Errorf("retention horizon must be positive, got %d days", days)
	}

	cutoff := timeNow().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	res := &RetentionResult{DryRun: !confirm, Cutoff: cutoff}

	expired, err := l.store.ExpiredConversations(cutoff)
	if err != nil {
		return nil, err
	}
	res.Examined = len(expired)

	if !confirm {
		detail := fmt.Sprintf("retention preview: %d session(s) older than %s", len(expired), cutoff)
		if err := l.store.RecordAccessAudit("retention_preview", detail, true); err != nil {
			return nil, err
		}
		return res, nil
	}

	for _, sess := range expired {
		if err := l.store.DeleteConversation(sess.ID); err != nil {
			res.Failed = append(res.Failed, sess.ID)
			_ = l.store.RecordAccessAudit("retention_delete",
				fmt.Sprintf("session %s: %v", sess.ID, err), false)
			continue
		}
		res.Deleted = append(res.Deleted, sess.ID)
		_ = l.store.RecordAccessAudit("retention_delete",
			fmt.Sprintf("session %s (started %s)", sess.ID, sess.StartedAt), true)
	}
	return res, nil
}
