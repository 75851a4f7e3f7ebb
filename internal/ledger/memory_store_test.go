package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/davidahmann/afaap/pkg/types"
)

func TestInMemoryStoreCompareAndAppend(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	genesis := types.LedgerEntry{EntryID: "e1", SubjectTable: types.TableModels, SubjectID: "m1", Seq: 1, Operation: types.OperationCreate, ActorID: "dev", Hash: "sha256:a"}
	if err := s.Insert(ctx, genesis); err != nil {
		t.Fatalf("insert genesis: %v", err)
	}

	// A second genesis for the same subject is a fork.
	dup := genesis
	dup.EntryID = "e2"
	if err := s.Insert(ctx, dup); !errors.Is(err, ErrConcurrentAppendConflict) {
		t.Fatalf("expected conflict for second genesis, got %v", err)
	}

	stale := types.LedgerEntry{EntryID: "e3", SubjectTable: types.TableModels, SubjectID: "m1", Seq: 2, Operation: types.OperationCreate, ActorID: "dev", PrevHash: types.StringPtr("sha256:other"), Hash: "sha256:b"}
	if err := s.Insert(ctx, stale); !errors.Is(err, ErrConcurrentAppendConflict) {
		t.Fatalf("expected conflict for stale predecessor, got %v", err)
	}

	next := stale
	next.PrevHash = types.StringPtr("sha256:a")
	if err := s.Insert(ctx, next); err != nil {
		t.Fatalf("insert successor: %v", err)
	}

	tail, ok, err := s.Tail(ctx, types.TableModels, "m1")
	if err != nil || !ok || tail.EntryID != "e3" {
		t.Fatalf("unexpected tail: ok=%v err=%v tail=%+v", ok, err, tail)
	}
	if _, ok, _ := s.Tail(ctx, types.TableModels, "m2"); ok {
		t.Fatalf("expected no tail for unknown subject")
	}
}

func TestInMemoryStoreEntriesAreSnapshots(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	_ = s.Insert(ctx, types.LedgerEntry{EntryID: "e1", SubjectTable: types.TableDecisions, SubjectID: "d1", Seq: 1, Hash: "sha256:a"})
	_ = s.Insert(ctx, types.LedgerEntry{EntryID: "e2", SubjectTable: types.TableDecisions, SubjectID: "d0", Seq: 1, Hash: "sha256:b"})

	entries, _ := s.Entries(ctx, types.TableDecisions, "d1")
	entries[0].ActorID = "mallory"
	again, _ := s.Entries(ctx, types.TableDecisions, "d1")
	if again[0].ActorID != "" {
		t.Fatalf("entries must be returned by copy")
	}

	subjects, _ := s.Subjects(ctx, types.TableDecisions)
	if len(subjects) != 2 || subjects[0] != "d0" || subjects[1] != "d1" {
		t.Fatalf("unexpected subjects: %v", subjects)
	}
	if none, _ := s.Subjects(ctx, types.TableModels); len(none) != 0 {
		t.Fatalf("expected no model subjects, got %v", none)
	}
}
