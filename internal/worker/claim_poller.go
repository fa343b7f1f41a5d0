package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"scraper-worker-service/internal/entity"
	"scraper-worker-service/internal/repository/postgresql"
)

const (
	idleLogEvery     = time.Minute
	healthCheckEvery = 5 * time.Minute
)

type NextClaimer interface {
	ClaimNext(ctx context.Context, kind entity.RunKind) (*entity.Run, error)
}

// ClaimPoller drives platform sync runs. Selection and claim are one
// SQL statement (SKIP LOCKED), so any number of these can run against
// the same table. The busy flag only stops overlapping cycles inside
// one process; correctness rests entirely on the claim statement.
type ClaimPoller struct {
	runs      NextClaimer
	exec      Executor
	heartbeat *Heartbeat
	interval  time.Duration
	log       *zap.Logger

	busy      atomic.Bool
	lastIdle  time.Time
	lastCheck time.Time
	lastJobAt time.Time
}

func NewClaimPoller(runs NextClaimer, exec Executor, heartbeat *Heartbeat, interval time.Duration, log *zap.Logger) *ClaimPoller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ClaimPoller{
		runs:      runs,
		exec:      exec,
		heartbeat: heartbeat,
		interval:  interval,
		log:       log,
		lastJobAt: time.Now(),
	}
}

func (p *ClaimPoller) Run(ctx context.Context) {
	p.log.Info("claim poller started", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("claim poller stopped")
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *ClaimPoller) cycle(ctx context.Context) {
	if !p.busy.CompareAndSwap(false, true) {
		return
	}
	defer p.busy.Store(false)

	p.healthCheck()

	run, err := p.runs.ClaimNext(ctx, entity.KindPlatformSync)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			p.logIdle()
		} else {
			p.log.Error("claim next run", zap.Error(err))
		}
		return
	}
	run.Status = entity.StatusProcessing
	p.lastJobAt = time.Now()

	p.log.Info("run claimed",
		zap.String("run_id", run.ID.String()),
		zap.Bool("is_test_run", run.IsTestRun))

	stop := p.heartbeat.Start(ctx, run.ID)
	defer stop()

	start := time.Now()
	if err := p.exec.Execute(ctx, run); err != nil {
		p.log.Error("sync run failed",
			zap.String("run_id", run.ID.String()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	p.log.Info("sync run finished",
		zap.String("run_id", run.ID.String()),
		zap.Duration("duration", time.Since(start)))
}

// logIdle notes an empty queue at most once per minute so an idle
// worker does not flood the logs.
func (p *ClaimPoller) logIdle() {
	if time.Since(p.lastIdle) < idleLogEvery {
		return
	}
	p.lastIdle = time.Now()
	p.log.Info("no pending sync runs")
}

// healthCheck emits a liveness line every five minutes with how long
// the worker has been without work.
func (p *ClaimPoller) healthCheck() {
	if time.Since(p.lastCheck) < healthCheckEvery {
		return
	}
	p.lastCheck = time.Now()
	p.log.Info("worker health check",
		zap.Float64("seconds_since_last_job", time.Since(p.lastJobAt).Seconds()))
}
