package types

import "time"

type Operation string

const (
	OperationCreate      Operation = "Create"
	OperationFieldChange Operation = "FieldChange"
	OperationVerdict     Operation = "Verdict"
)

// Valid reports whether op is one of the known ledger operations.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreate, OperationFieldChange, OperationVerdict:
		return true
	default:
		return false
	}
}

// Subject tables written by the governance core.
const (
	TableDecisions    = "decisions"
	TableModels       = "models"
	TableTransactions = "transactions"
)

// LedgerEntry is one immutable link in a subject chain.
// PrevHash is nil only for the first entry of a chain.
type LedgerEntry struct {
	EntryID      string    `json:"entry_id"`
	SubjectTable string    `json:"subject_table"`
	SubjectID    string    `json:"subject_id"`
	Seq          int64     `json:"seq"`
	Operation    Operation `json:"operation"`
	Field        *string   `json:"field,omitempty"`
	OldValue     *string   `json:"old_value,omitempty"`
	NewValue     *string   `json:"new_value,omitempty"`
	ActorID      string    `json:"actor_id"`
	OccurredAt   time.Time `json:"occurred_at"`
	PrevHash     *string   `json:"prev_hash"`
	Hash         string    `json:"hash"`
}

// VerifyResult is the outcome of replaying one subject chain.
// A broken chain is reported here, never as an error.
type VerifyResult struct {
	SubjectTable string `json:"subject_table"`
	SubjectID    string `json:"subject_id"`
	Valid        bool   `json:"valid"`
	Entries      int    `json:"entries"`
	BrokenAt     string `json:"broken_at,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
