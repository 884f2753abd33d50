// Package integrity signs and verifies the local state mirror.
//
// This is a detection mechanism, not access control: verification failures
// are reported so callers can log a security warning, but nothing is ever
// blocked or rejected on mismatch. Blocking on a false positive (a
// legitimate schema change, say) was judged worse than a missed detection.
//
// The threat model: a hostile process can edit the state file on disk but
// cannot read the signing key, which lives under the user's private data
// directory with owner-only permissions — never inside a working tree the
// signed file might travel through.
package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// SignatureField is the JSON key carrying the HMAC inside signed documents.
const SignatureField = "_hmac"

// Signer computes HMAC-SHA-256 digests over canonicalized state documents.
// A disabled Signer (signing toggled off) passes data through untouched.
type Signer struct {
	key     []byte
	enabled bool
}

// NewSigner creates a Signer with the given key. Enabled is false when the
// feature toggle is off; the key may then be nil.
func NewSigner(key []byte, enabled bool) *Signer {
	return &Signer{key: key, enabled: enabled}
}

// Enabled reports whether signing is active.
func (s *Signer) Enabled() bool { return s.enabled }

// Sign computes the hex HMAC digest of doc, ignoring any signature field
// already present. Returns the empty string when signing is disabled.
func (s *Signer) Sign(doc map[string]any) (string, error) {
	if !s.enabled {
		return "", nil
	}

	payload := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == SignatureField {
			continue
		}
		payload[k] = v
	}

	data, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Attach signs doc and stores the digest under SignatureField.
// No-op when signing is disabled.
func (s *Signer) Attach(doc map[string]any) error {
	if !s.enabled {
		return nil
	}
	sig, err := s.Sign(doc)
	if err != nil {
		return err
	}
	doc[SignatureField] = sig
	return nil
}

// VerifyResult reports the outcome of a verification.
type VerifyResult struct {
	Valid  bool
	Reason string
}

// Verify recomputes the signature over doc minus its signature field and
// compares with constant-time byte comparison. Distinct reasons come back
// for: feature disabled, no signature present, length mismatch, and value
// mismatch (possible tampering).
func (s *Signer) Verify(doc map[string]any) VerifyResult {
	if !s.enabled {
		return VerifyResult{Valid: false, Reason: "signing not enabled"}
	}

	raw, ok := doc[SignatureField]
	if !ok {
		return VerifyResult{Valid: false, Reason: "no signature present"}
	}
	stored, ok := raw.(string)
	if !ok {
		return VerifyResult{Valid: false, Reason: fmt.Sprintf("malformed signature field (%T)", raw)}
	}

	expected, err := s.Sign(doc)
	if err != nil {
		return VerifyResult{Valid: false, Reason: fmt.Sprintf("recomputing signature: %v", err)}
	}

	if len(stored) != len(expected) {
		return VerifyResult{Valid: false, Reason: "signature length mismatch"}
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(expected)) != 1 {
		return VerifyResult{Valid: false, Reason: "signature mismatch — possible tampering"}
	}
	return VerifyResult{Valid: true}
}
