// Package jobs runs scheduled background maintenance.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

const (
	DefaultTypingSweepCron  = "* * * * *"
	DefaultTypingStaleAfter = 30 * time.Second
	retryDelay              = 30 * time.Second
)

// StaleTypingSweeper removes typing rows older than a threshold.
type StaleTypingSweeper interface {
	SweepStale(ctx context.Context, staleAfter time.Duration) (int, error)
}

// TypingSweeper deletes typing indicators left behind by clients that went
// away before clearing them, on a cron schedule.
type TypingSweeper struct {
	sweeper    StaleTypingSweeper
	cron       string
	staleAfter time.Duration
	log        *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewTypingSweeper validates cronExpr. Empty values fall back to the defaults.
func NewTypingSweeper(s StaleTypingSweeper, cronExpr string, staleAfter time.Duration, logger *slog.Logger) (*TypingSweeper, error) {
	if cronExpr == "" {
		cronExpr = DefaultTypingSweepCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid typing sweep cron expression: %s", cronExpr)
	}
	if staleAfter <= 0 {
		staleAfter = DefaultTypingStaleAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TypingSweeper{
		sweeper:    s,
		cron:       cronExpr,
		staleAfter: staleAfter,
		log:        logger,
		now:        time.Now,
		after:      time.After,
	}, nil
}

// NextRun returns the first scheduled tick strictly after t.
func (j *TypingSweeper) NextRun(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(j.cron, t.UTC(), false)
}

// RunOnce performs a single sweep.
func (j *TypingSweeper) RunOnce(ctx context.Context) (int, error) {
	n, err := j.sweeper.SweepStale(ctx, j.staleAfter)
	if err != nil {
		return 0, fmt.Errorf("sweep typing indicators: %w", err)
	}
	if n > 0 {
		j.log.InfoContext(ctx, "typing_sweep_removed", "rows", n, "stale_after", j.staleAfter)
	}
	return n, nil
}

// Run sleeps until each scheduled tick and sweeps, until ctx is cancelled.
func (j *TypingSweeper) Run(ctx context.Context) {
	j.log.InfoContext(ctx, "typing_sweeper_started", "cron", j.cron, "stale_after", j.staleAfter)
	for {
		wait := retryDelay
		next, err := j.NextRun(j.now())
		if err != nil {
			j.log.ErrorContext(ctx, "typing_sweep_nexttick_failed", "cron", j.cron, "error", err)
		} else {
			wait = max(next.Sub(j.now()), 0)
		}

		select {
		case <-ctx.Done():
			j.log.InfoContext(ctx, "typing_sweeper_stopping")
			return
		case <-j.after(wait):
		}
		if err != nil {
			continue
		}
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.log.ErrorContext(ctx, "typing_sweep_failed", "error", err)
		}
	}
}

// Start runs the sweeper in its own goroutine.
func (j *TypingSweeper) Start(ctx context.Context) {
	go j.Run(ctx)
}
