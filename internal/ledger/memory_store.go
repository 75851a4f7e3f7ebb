package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/davidahmann/afaap/pkg/types"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	chains map[string][]types.LedgerEntry
	tables map[string]map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		chains: make(map[string][]types.LedgerEntry),
		tables: make(map[string]map[string]struct{}),
	}
}

func (s *InMemoryStore) Tail(_ context.Context, subjectTable, subjectID string) (types.LedgerEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[chainKey(subjectTable, subjectID)]
	if len(chain) == 0 {
		return types.LedgerEntry{}, false, nil
	}
	return chain[len(chain)-1], true, nil
}

func (s *InMemoryStore) Insert(_ context.Context, entry types.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := chainKey(entry.SubjectTable, entry.SubjectID)
	chain := s.chains[key]

	var tailSeq int64
	var tailHash *string
	if n := len(chain); n > 0 {
		tailSeq = chain[n-1].Seq
		tailHash = &chain[n-1].Hash
	}
	if entry.Seq != tailSeq+1 || !samePrev(entry.PrevHash, tailHash) {
		return ErrConcurrentAppendConflict
	}

	s.chains[key] = append(chain, entry)
	subjects, ok := s.tables[entry.SubjectTable]
	if !ok {
		subjects = make(map[string]struct{})
		s.tables[entry.SubjectTable] = subjects
	}
	subjects[entry.SubjectID] = struct{}{}
	return nil
}

func (s *InMemoryStore) Entries(_ context.Context, subjectTable, subjectID string) ([]types.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[chainKey(subjectTable, subjectID)]
	out := make([]types.LedgerEntry, len(chain))
	copy(out, chain)
	return out, nil
}

func (s *InMemoryStore) Subjects(_ context.Context, subjectTable string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.tables[subjectTable]))
	for id := range s.tables[subjectTable] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func samePrev(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
