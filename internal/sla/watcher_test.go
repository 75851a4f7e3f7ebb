package sla

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/davidahmann/afaap/internal/risk"
	"github.com/davidahmann/afaap/pkg/types"
)

type staticSource struct {
	mu         sync.Mutex
	violations []risk.Violation
	err        error
}

func (s *staticSource) set(v ...risk.Violation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations = v
}

func (s *staticSource) SLAViolations(context.Context, time.Time) ([]risk.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]risk.Violation(nil), s.violations...), s.err
}

type flakyNotifier struct {
	mu    sync.Mutex
	calls []string
	fail  int
}

func (n *flakyNotifier) NotifyOverdue(_ context.Context, v risk.Violation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, v.DecisionID)
	if len(n.calls) <= n.fail {
		return errors.New("pager unavailable")
	}
	return nil
}

func overdue(id string, deadline time.Time) risk.Violation {
	return risk.Violation{DecisionID: id, Tier: types.RiskHigh, Deadline: deadline, Kind: risk.ViolationOverdue}
}

func TestProcessOnceNotifiesOnce(t *testing.T) {
	now := time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC)
	src := &staticSource{}
	src.set(
		overdue("d1", now.Add(-time.Hour)),
		risk.Violation{DecisionID: "d2", Tier: types.RiskMedium, Deadline: now.Add(-2 * time.Hour), Kind: risk.ViolationLateReview},
	)
	notifier := &flakyNotifier{}
	w := NewWatcher(src, notifier, nil)

	if n, err := w.ProcessOnce(context.Background(), now); err != nil || n != 1 {
		t.Fatalf("first pass: n=%d err=%v", n, err)
	}
	if n, err := w.ProcessOnce(context.Background(), now.Add(time.Minute)); err != nil || n != 0 {
		t.Fatalf("second pass must not re-notify: n=%d err=%v", n, err)
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != "d1" {
		t.Fatalf("unexpected notifications: %v", notifier.calls)
	}
}

func TestProcessOnceRetriesWithBackoff(t *testing.T) {
	now := time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC)
	src := &staticSource{}
	src.set(overdue("d1", now.Add(-time.Hour)))
	notifier := &flakyNotifier{fail: 1}
	w := NewWatcher(src, notifier, nil)

	if n, _ := w.ProcessOnce(context.Background(), now); n != 0 {
		t.Fatalf("expected failed delivery")
	}
	if n, _ := w.ProcessOnce(context.Background(), now.Add(time.Second)); n != 0 {
		t.Fatalf("expected backoff to defer retry")
	}
	if n, _ := w.ProcessOnce(context.Background(), now.Add(5*time.Second)); n != 1 {
		t.Fatalf("expected retry to deliver")
	}
	if len(notifier.calls) != 2 {
		t.Fatalf("expected two attempts, got %d", len(notifier.calls))
	}
}

func TestProcessOnceForgetsReviewedDecisions(t *testing.T) {
	now := time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC)
	src := &staticSource{}
	src.set(overdue("d1", now.Add(-time.Hour)))
	notifier := &flakyNotifier{}
	w := NewWatcher(src, notifier, nil)

	_, _ = w.ProcessOnce(context.Background(), now)
	src.set()
	_, _ = w.ProcessOnce(context.Background(), now.Add(time.Minute))
	if len(w.state) != 0 {
		t.Fatalf("expected state to be cleared, got %d", len(w.state))
	}
}

func TestProcessOnceSourceError(t *testing.T) {
	src := &staticSource{err: errors.New("db down")}
	w := NewWatcher(src, &flakyNotifier{}, nil)
	if _, err := w.ProcessOnce(context.Background(), time.Now()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := NewWatcher(nil, nil, nil).ProcessOnce(context.Background(), time.Now()); err == nil {
		t.Fatalf("expected missing source error")
	}
}

func TestNextAttemptCaps(t *testing.T) {
	if nextAttempt(0) != 5*time.Second || nextAttempt(1) != 10*time.Second {
		t.Fatalf("unexpected early backoff")
	}
	if nextAttempt(40) != 5*time.Minute {
		t.Fatalf("expected cap")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &staticSource{}
	src.set(overdue("d1", time.Now().Add(-time.Hour)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunWatcher(ctx, src, LogNotifier{}, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("watcher did not stop")
	}
}
