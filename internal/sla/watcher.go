// Package sla watches High and Medium decisions for missed review deadlines
// and notifies once per overdue decision.
package sla

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/davidahmann/afaap/internal/metrics"
	"github.com/davidahmann/afaap/internal/risk"
)

type Source interface {
	SLAViolations(ctx context.Context, now time.Time) ([]risk.Violation, error)
}

type Notifier interface {
	NotifyOverdue(ctx context.Context, v risk.Violation) error
}

// LogNotifier reports overdue decisions as structured warnings.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) NotifyOverdue(_ context.Context, v risk.Violation) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("decision review overdue",
		"decision_id", v.DecisionID,
		"risk_tier", string(v.Tier),
		"sla_deadline", v.Deadline.Format(time.RFC3339),
	)
	return nil
}

type pending struct {
	notified      bool
	attemptCount  int
	nextAttemptAt time.Time
}

type Watcher struct {
	source   Source
	notifier Notifier
	logger   *slog.Logger

	mu    sync.Mutex
	state map[string]*pending
}

func NewWatcher(source Source, notifier Notifier, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{source: source, notifier: notifier, logger: logger, state: map[string]*pending{}}
}

// ProcessOnce notifies every decision that became overdue since the last
// pass. A failed notification is retried with backoff on a later pass;
// decisions that are no longer overdue are forgotten. It returns the number
// of notifications delivered.
func (w *Watcher) ProcessOnce(ctx context.Context, now time.Time) (int, error) {
	if w.source == nil {
		return 0, fmt.Errorf("missing source")
	}
	violations, err := w.source.SLAViolations(ctx, now)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	overdue := make(map[string]struct{}, len(violations))
	sent := 0
	for _, v := range violations {
		if v.Kind != risk.ViolationOverdue {
			continue
		}
		overdue[v.DecisionID] = struct{}{}
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		p, ok := w.state[v.DecisionID]
		if !ok {
			p = &pending{}
			w.state[v.DecisionID] = p
		}
		if p.notified || now.Before(p.nextAttemptAt) || w.notifier == nil {
			continue
		}
		if err := w.notifier.NotifyOverdue(ctx, v); err != nil {
			p.nextAttemptAt = now.Add(nextAttempt(p.attemptCount))
			p.attemptCount++
			w.logger.Warn("sla notification failed",
				"decision_id", v.DecisionID,
				"attempt", p.attemptCount,
				"error", err,
			)
			continue
		}
		p.notified = true
		sent++
	}

	for id := range w.state {
		if _, ok := overdue[id]; !ok {
			delete(w.state, id)
		}
	}
	metrics.SLAOverdue.Set(float64(len(overdue)))
	return sent, nil
}

func nextAttempt(attemptCount int) time.Duration {
	// 5s, 10s, 20s, 40s, ... capped at 5m.
	base := 5 * time.Second
	if attemptCount <= 0 {
		return base
	}
	if attemptCount > 6 {
		return 5 * time.Minute
	}
	d := base << attemptCount
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}

// Run polls the source until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := w.ProcessOnce(ctx, now.UTC()); err != nil && ctx.Err() == nil {
				w.logger.Error("sla watch pass failed", "error", err)
			}
		}
	}
}

// RunWatcher builds a Watcher that logs through slog.Default and runs it
// until ctx is cancelled.
func RunWatcher(ctx context.Context, source Source, notifier Notifier, interval time.Duration) {
	NewWatcher(source, notifier, nil).Run(ctx, interval)
}
