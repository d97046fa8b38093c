package models

import (
	"testing"
	"time"
)

// The paginated models must satisfy the cursor constraint on their value
// type, since FetchPageCompositeCursor instantiates with T, not *T.
var (
	_ CompositeCursor = Journal{}
	_ CompositeCursor = History{}
)

func TestCompositeCursorRoundTrip(t *testing.T) {
	journal := Journal{ID: 42, CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}

	encoded := EncodeCompositeCursor(journal.GetCursor(), journal.GetId())
	value, id := DecodeCompositeCursor(&encoded)
	if value != journal.GetCursor() || id != 42 {
		t.Fatalf("round trip gave (%q, %d)", value, id)
	}
}

func TestDecodeCompositeCursorMalformed(t *testing.T) {
	for _, cursor := range []*string{nil, strPtr(""), strPtr("not-base64!"), strPtr(EncodeCursor("no-separator"))} {
		value, id := DecodeCompositeCursor(cursor)
		if value != "" || id != 0 {
			t.Errorf("malformed cursor %v decoded to (%q, %d)", cursor, value, id)
		}
	}
}

func strPtr(s string) *string {
	return &s
}
