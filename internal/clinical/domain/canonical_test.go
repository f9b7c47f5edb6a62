package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name     string
		snapshot []SnapshotEntry
		want     string
	}{
		{
			name:     "single deterministic row",
			snapshot: []SnapshotEntry{{Rank: 1, Remedy: "TestRemedy", Score: 1.0}},
			want:     `[{"rank":1,"remedy":"TestRemedy","score":1}]`,
		},
		{
			name:     "empty snapshot",
			snapshot: []SnapshotEntry{},
			want:     `[]`,
		},
		{
			name:     "nil snapshot renders as empty array",
			snapshot: nil,
			want:     `[]`,
		},
		{
			name: "multiple rows preserve array order",
			snapshot: []SnapshotEntry{
				{Rank: 1, Remedy: "Arnica", Score: 0.75},
				{Rank: 2, Remedy: "Belladonna", Score: 0.5},
			},
			want: `[{"rank":1,"remedy":"Arnica","score":0.75},{"rank":2,"remedy":"Belladonna","score":0.5}]`,
		},
		{
			name:     "non-ascii remedy stays verbatim",
			snapshot: []SnapshotEntry{{Rank: 1, Remedy: "Árnica montaña", Score: 0.5}},
			want:     `[{"rank":1,"remedy":"Árnica montaña","score":0.5}]`,
		},
		{
			name:     "html characters are not escaped",
			snapshot: []SnapshotEntry{{Rank: 1, Remedy: "A<B>&C", Score: 1.0}},
			want:     `[{"rank":1,"remedy":"A<B>&C","score":1}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalJSON(tt.snapshot)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestSign(t *testing.T) {
	tests := []struct {
		name     string
		snapshot []SnapshotEntry
		want     string
	}{
		{
			name:     "single deterministic row",
			snapshot: []SnapshotEntry{{Rank: 1, Remedy: "TestRemedy", Score: 1.0}},
			want:     "fa5c9eca9d522afcf87d98fb956e9d102f2bcb6fed821f3dc4943a98fe34139c",
		},
		{
			name:     "empty snapshot",
			snapshot: []SnapshotEntry{},
			want:     "4f53cda18c2baa0c0354bb5f9a3ecbe5ed12ab4d8e11ba873c2f11161202b945",
		},
		{
			name: "two rows",
			snapshot: []SnapshotEntry{
				{Rank: 1, Remedy: "Arnica", Score: 0.75},
				{Rank: 2, Remedy: "Belladonna", Score: 0.5},
			},
			want: "1d1c3dc9d074e15bb9fa5058f89c38c572983688a2b2d9ccc108f31cf3fdd0ca",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sign(tt.snapshot)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Len(t, got, 64)
		})
	}
}

func TestSign_Deterministic(t *testing.T) {
	snapshot := []SnapshotEntry{
		{Rank: 1, Remedy: "TestRemedy", Score: 1.0},
		{Rank: 2, Remedy: "Other", Score: 0.25},
	}

	first, err := Sign(snapshot)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Sign(snapshot)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDecodeSnapshot_RoundTripsSignature(t *testing.T) {
	original := []SnapshotEntry{{Rank: 1, Remedy: "TestRemedy", Score: 1.0}}
	sig, err := Sign(original)
	require.NoError(t, err)

	// Stored JSONB can come back with keys in any order.
	stored := json.RawMessage(`[{"score":1,"rank":1,"remedy":"TestRemedy"}]`)
	decoded, err := DecodeSnapshot(stored)
	require.NoError(t, err)

	recomputed, err := Sign(decoded)
	require.NoError(t, err)
	assert.Equal(t, sig, recomputed)
}

func TestDecodeSnapshot_Invalid(t *testing.T) {
	_, err := DecodeSnapshot(json.RawMessage(`{"not":"an array"}`))
	assert.Error(t, err)
}

func TestSign_TamperChangesSignature(t *testing.T) {
	snapshot := []SnapshotEntry{{Rank: 1, Remedy: "TestRemedy", Score: 1.0}}
	sig, err := Sign(snapshot)
	require.NoError(t, err)

	tampered := []SnapshotEntry{{Rank: 1, Remedy: "TestRemedy", Score: 0.999}}
	tamperedSig, err := Sign(tampered)
	require.NoError(t, err)

	assert.NotEqual(t, sig, tamperedSig)
}
