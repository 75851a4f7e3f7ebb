package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/davidahmann/afaap/internal/metrics"
	"github.com/davidahmann/afaap/pkg/types"
)

// DefaultMaxAttempts bounds how often an append is retried after losing
// the race for a chain tail.
const DefaultMaxAttempts = 5

type AppendInput struct {
	SubjectTable string
	SubjectID    string
	Operation    types.Operation
	Field        *string
	OldValue     *string
	NewValue     *string
	ActorID      string
}

// Ledger is the append-only, hash-chained audit log. Appends to one
// subject chain are serialized; appends to different chains are not.
type Ledger struct {
	store       Store
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
	maxAttempts uint
	backoff     func() backoff.BackOff
	locks       subjectLocks
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

func WithMaxAttempts(n uint) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		logger:      slog.Default(),
		now:         time.Now,
		newID:       uuid.NewString,
		maxAttempts: DefaultMaxAttempts,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Millisecond
			b.MaxInterval = 50 * time.Millisecond
			return b
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Store() Store {
	return l.store
}

// Validate checks the append contract without touching the store.
func Validate(in AppendInput) error {
	if strings.TrimSpace(in.ActorID) == "" {
		return ErrActorMissing
	}
	if in.SubjectTable == "" || in.SubjectID == "" {
		return ErrMissingSubject
	}
	if !in.Operation.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownOperation, in.Operation)
	}
	if in.Operation == types.OperationFieldChange {
		if in.Field == nil || *in.Field == "" || in.NewValue == nil {
			return ErrMalformedFieldChange
		}
	}
	return checkText(
		"subject_table", &in.SubjectTable,
		"subject_id", &in.SubjectID,
		"field", in.Field,
		"old_value", in.OldValue,
		"new_value", in.NewValue,
		"actor_id", &in.ActorID,
	)
}

// Append links a new entry onto the subject's chain. A lost race against
// another writer is retried with a fresh tail read, at most maxAttempts times.
func (l *Ledger) Append(ctx context.Context, in AppendInput) (types.LedgerEntry, error) {
	return l.append(ctx, in, false)
}

// AppendGenesis is Append for the first entry of a chain only. It returns
// ErrChainExists when the subject already has entries.
func (l *Ledger) AppendGenesis(ctx context.Context, in AppendInput) (types.LedgerEntry, error) {
	return l.append(ctx, in, true)
}

func (l *Ledger) append(ctx context.Context, in AppendInput, genesis bool) (types.LedgerEntry, error) {
	if err := Validate(in); err != nil {
		return types.LedgerEntry{}, err
	}

	start := time.Now()
	defer func() { metrics.LedgerAppendDuration.Observe(time.Since(start).Seconds()) }()

	unlock := l.locks.lock(chainKey(in.SubjectTable, in.SubjectID))
	defer unlock()

	entry, err := backoff.Retry(ctx, func() (types.LedgerEntry, error) {
		entry, err := l.appendOnce(ctx, in, genesis)
		if errors.Is(err, ErrConcurrentAppendConflict) {
			metrics.LedgerAppendConflicts.Inc()
			return types.LedgerEntry{}, err
		}
		if err != nil {
			return types.LedgerEntry{}, backoff.Permanent(err)
		}
		return entry, nil
	}, backoff.WithBackOff(l.backoff()), backoff.WithMaxTries(l.maxAttempts))
	if err != nil {
		return types.LedgerEntry{}, fmt.Errorf("append %s: %w", chainKey(in.SubjectTable, in.SubjectID), err)
	}

	metrics.LedgerAppends.WithLabelValues(entry.SubjectTable, string(entry.Operation)).Inc()
	l.logger.Debug("ledger append",
		"subject_table", entry.SubjectTable,
		"subject_id", entry.SubjectID,
		"seq", entry.Seq,
		"operation", entry.Operation,
		"actor_id", entry.ActorID,
	)
	return entry, nil
}

func (l *Ledger) appendOnce(ctx context.Context, in AppendInput, genesis bool) (types.LedgerEntry, error) {
	tail, ok, err := l.store.Tail(ctx, in.SubjectTable, in.SubjectID)
	if err != nil {
		return types.LedgerEntry{}, err
	}
	if ok && genesis {
		return types.LedgerEntry{}, ErrChainExists
	}

	entry := types.LedgerEntry{
		EntryID:      l.newID(),
		SubjectTable: in.SubjectTable,
		SubjectID:    in.SubjectID,
		Seq:          1,
		Operation:    in.Operation,
		Field:        in.Field,
		OldValue:     in.OldValue,
		NewValue:     in.NewValue,
		ActorID:      in.ActorID,
		// Microseconds survive a Postgres TIMESTAMPTZ round trip.
		OccurredAt: l.now().UTC().Truncate(time.Microsecond),
	}
	if ok {
		entry.Seq = tail.Seq + 1
		prev := tail.Hash
		entry.PrevHash = &prev
	}

	entry.Hash, err = ComputeHash(entry, entry.PrevHash)
	if err != nil {
		return types.LedgerEntry{}, err
	}
	if err := l.store.Insert(ctx, entry); err != nil {
		return types.LedgerEntry{}, err
	}
	return entry, nil
}

// Entries returns the chain snapshot for a subject.
func (l *Ledger) Entries(ctx context.Context, subjectTable, subjectID string) ([]types.LedgerEntry, error) {
	return l.store.Entries(ctx, subjectTable, subjectID)
}

type subjectLocks struct {
	mu    sync.Mutex
	locks map[string]*subjectLock
}

type subjectLock struct {
	mu   sync.Mutex
	refs int
}

func (s *subjectLocks) lock(key string) func() {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[string]*subjectLock)
	}
	lk, ok := s.locks[key]
	if !ok {
		lk = &subjectLock{}
		s.locks[key] = lk
	}
	lk.refs++
	s.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		s.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}
