package crypto

import (
	"testing"
	"time"
)

func BenchmarkCanonicalizeLedgerView(b *testing.B) {
	input := map[string]any{
		"subject_table": "decisions",
		"subject_id":    "d-1",
		"operation":     "FieldChange",
		"field":         "risk_tier",
		"old_value":     "Unclassified",
		"new_value":     "High",
		"actor_id":      "risk-engine",
		"occurred_at":   time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		"prev_hash":     "sha256:abc",
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Canonicalize(input); err != nil {
			b.Fatalf("canonicalize: %v", err)
		}
	}
}
