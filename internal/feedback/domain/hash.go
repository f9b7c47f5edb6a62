package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NarrativeHash derives the storable digest of a narrative. The raw text
// never reaches the database.
//
// Normalization before hashing:
//   - NFKC, so visually equivalent forms across scripts hash the same
//   - whitespace runs collapse to single spaces, leading/trailing trimmed
//   - lowercased only for English locales; other scripts stay as-is
//
// The locale is folded into the hashed payload so the same text under
// two locales cannot collide.
func NarrativeHash(narrative string, locale *string) string {
	normalized := norm.NFKC.String(narrative)
	normalized = strings.Join(strings.Fields(normalized), " ")

	loc := "unknown"
	if locale != nil && *locale != "" {
		loc = *locale
	}
	if strings.HasPrefix(strings.ToLower(loc), "en") {
		normalized = strings.ToLower(normalized)
	}

	sum := sha256.Sum256([]byte("locale:" + loc + ":" + normalized))
	return hex.EncodeToString(sum[:])
}

// CanonicalTop3 trims each entry, drops empties, and caps the list at
// five. The top-1 prediction is injected at the head when missing so
// coverage queries can rely on its presence.
func CanonicalTop3(top1 string, top3 []string) []string {
	capped := make([]string, 0, 5)
	for _, s := range top3 {
		if len(capped) == 5 {
			break
		}
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			capped = append(capped, trimmed)
		}
	}

	for _, s := range capped {
		if s == top1 {
			return capped
		}
	}

	if len(capped) > 4 {
		capped = capped[:4]
	}
	return append([]string{top1}, capped...)
}

// MarshalCanonical renders a value with sorted keys, compact separators,
// and no HTML escaping. JSONB columns are written through here so equal
// values always store equal bytes.
func MarshalCanonical(v interface{}) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
