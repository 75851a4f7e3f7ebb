package ledger

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/davidahmann/afaap/internal/crypto"
	"github.com/davidahmann/afaap/pkg/types"
)

// ComputeHash digests every hashed field of entry chained onto prevHash.
// EntryID, Seq and the stored Hash/PrevHash of entry are not part of the input.
//
// Text is hashed exactly as given, so a field that is not valid UTF-8 in NFC
// form is rejected instead of being normalized into the digest.
func ComputeHash(entry types.LedgerEntry, prevHash *string) (string, error) {
	if err := checkText(
		"subject_table", &entry.SubjectTable,
		"subject_id", &entry.SubjectID,
		"operation", (*string)(&entry.Operation),
		"field", entry.Field,
		"old_value", entry.OldValue,
		"new_value", entry.NewValue,
		"actor_id", &entry.ActorID,
		"prev_hash", prevHash,
	); err != nil {
		return "", err
	}
	view := map[string]any{
		"subject_table": entry.SubjectTable,
		"subject_id":    entry.SubjectID,
		"operation":     string(entry.Operation),
		"field":         entry.Field,
		"old_value":     entry.OldValue,
		"new_value":     entry.NewValue,
		"actor_id":      entry.ActorID,
		"occurred_at":   entry.OccurredAt,
		"prev_hash":     prevHash,
	}
	return crypto.DigestCanonical(view)
}

// checkText takes name/value pairs; nil values are skipped.
func checkText(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		name, _ := pairs[i].(string)
		v, _ := pairs[i+1].(*string)
		if v == nil {
			continue
		}
		if !utf8.ValidString(*v) {
			return fmt.Errorf("%w: %s is not valid UTF-8", ErrNonCanonicalText, name)
		}
		if !norm.NFC.IsNormalString(*v) {
			return fmt.Errorf("%w: %s is not NFC", ErrNonCanonicalText, name)
		}
	}
	return nil
}
