package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scraper-worker-service/internal/entity"
)

type TimeoutStore interface {
	ListExpired(ctx context.Context, now time.Time) ([]entity.TimeoutRecord, error)
	MarkProcessed(ctx context.Context, runID uuid.UUID) error
}

type ReaperRunStore interface {
	FailIfActive(ctx context.Context, id uuid.UUID, errText string) (bool, error)
}

// Reaper fails runs whose registered deadline has passed. It is the
// safety net for workers that died mid-run: the run row itself still
// says running, only the timeout record tells us it is overdue.
type Reaper struct {
	timeouts TimeoutStore
	runs     ReaperRunStore
	interval time.Duration
	log      *zap.Logger
}

func NewReaper(timeouts TimeoutStore, runs ReaperRunStore, interval time.Duration, log *zap.Logger) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{timeouts: timeouts, runs: runs, interval: interval, log: log}
}

func (r *Reaper) Run(ctx context.Context) {
	r.log.Info("timeout reaper started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("timeout reaper stopped")
			return
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				r.log.Error("timeout sweep failed", zap.Error(err))
			} else if n > 0 {
				r.log.Info("timed out runs failed", zap.Int("count", n))
			}
		}
	}
}

// Sweep processes all expired timeout records once and reports how many
// runs it failed. The guarded update is the whole decision: a run that
// reached a terminal status on its own, even an instant before the
// write, is left alone. Records are marked processed whether or not the
// run needed failing, so each deadline fires at most once.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	expired, err := r.timeouts.ListExpired(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("list expired timeouts: %w", err)
	}

	failed := 0
	for _, rec := range expired {
		msg := fmt.Sprintf("run exceeded its timeout period (deadline %s)", rec.TimeoutAt.UTC().Format(time.RFC3339))
		failedNow, err := r.runs.FailIfActive(ctx, rec.RunID, msg)
		if err != nil {
			r.log.Error("fail overdue run", zap.String("run_id", rec.RunID.String()), zap.Error(err))
			continue
		}
		if failedNow {
			failed++
			r.log.Warn("run timed out", zap.String("run_id", rec.RunID.String()))
		}

		if err := r.timeouts.MarkProcessed(ctx, rec.RunID); err != nil {
			r.log.Error("mark timeout processed", zap.String("run_id", rec.RunID.String()), zap.Error(err))
		}
	}
	return failed, nil
}
