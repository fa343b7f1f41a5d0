package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scraper-worker-service/internal/entity"
	"scraper-worker-service/internal/repository/postgresql"
)

// Executor runs a claimed run to completion and writes its final
// status. Execute never leaves a run in a non-terminal state unless the
// process itself dies (the reaper covers that).
type Executor interface {
	Execute(ctx context.Context, run *entity.Run) error
}

type PendingClaimer interface {
	OldestPending(ctx context.Context, kind entity.RunKind) (*entity.Run, error)
	ClaimPending(ctx context.Context, id uuid.UUID) (bool, error)
}

// Poller is the single-slot polling loop for script runs: scan for the
// oldest pending run, claim it with a guarded update, execute. The
// guarded update is the only cross-process coordination; losing the
// race to another worker is normal and silent.
type Poller struct {
	runs     PendingClaimer
	exec     Executor
	kind     entity.RunKind
	interval time.Duration
	log      *zap.Logger

	maxActive int32
	active    atomic.Int32
}

func NewPoller(runs PendingClaimer, exec Executor, kind entity.RunKind, interval time.Duration, maxActive int, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxActive <= 0 {
		maxActive = 1
	}
	return &Poller{
		runs:      runs,
		exec:      exec,
		kind:      kind,
		interval:  interval,
		log:       log,
		maxActive: int32(maxActive),
	}
}

func (p *Poller) Run(ctx context.Context) {
	p.log.Info("poller started",
		zap.String("kind", string(p.kind)),
		zap.Duration("interval", p.interval),
		zap.Int32("max_active", p.maxActive))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped", zap.String("kind", string(p.kind)))
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	if p.active.Load() >= p.maxActive {
		return
	}

	run, err := p.runs.OldestPending(ctx, p.kind)
	if err != nil {
		if !errors.Is(err, postgresql.ErrNotFound) {
			p.log.Error("scan pending runs", zap.Error(err))
		}
		return
	}

	claimed, err := p.runs.ClaimPending(ctx, run.ID)
	if err != nil {
		p.log.Error("claim run", zap.String("run_id", run.ID.String()), zap.Error(err))
		return
	}
	if !claimed {
		// another worker won the row between scan and claim
		return
	}
	run.Status = entity.StatusRunning

	p.active.Add(1)
	go func() {
		defer p.active.Add(-1)

		start := time.Now()
		if err := p.exec.Execute(ctx, run); err != nil {
			p.log.Error("run failed",
				zap.String("run_id", run.ID.String()),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
			return
		}
		p.log.Info("run finished",
			zap.String("run_id", run.ID.String()),
			zap.Duration("duration", time.Since(start)))
	}()
}
