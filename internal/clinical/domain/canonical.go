package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON renders a ranking snapshot as its canonical byte string:
// keys in ascending code-point order (rank, remedy, score), array order
// preserved, separators without whitespace, UTF-8 verbatim (no HTML
// escaping), and scores in their shortest round-trip form. The signature
// is defined over exactly these bytes, so signer and verifier both come
// through here and nowhere else.
func CanonicalJSON(snapshot []SnapshotEntry) ([]byte, error) {
	if snapshot == nil {
		snapshot = []SnapshotEntry{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(snapshot); err != nil {
		return nil, fmt.Errorf("failed to canonicalize snapshot: %w", err)
	}

	// Encode appends a newline; the canonical form has none.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign computes the result signature over a snapshot.
func Sign(snapshot []SnapshotEntry) (string, error) {
	canonical, err := CanonicalJSON(snapshot)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// DecodeSnapshot parses a stored ranking_snapshot back into entries.
// The stored JSONB may round-trip with arbitrary key order; decoding into
// the struct re-establishes the canonical one.
func DecodeSnapshot(raw json.RawMessage) ([]SnapshotEntry, error) {
	var snapshot []SnapshotEntry
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode ranking snapshot: %w", err)
	}
	return snapshot, nil
}
