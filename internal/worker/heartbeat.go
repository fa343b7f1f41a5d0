package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProgressStamper is the single repository method the heartbeat needs.
type ProgressStamper interface {
	Heartbeat(ctx context.Context, id uuid.UUID) error
}

// Heartbeat periodically stamps last_progress_at on an executing run so
// external monitors can tell a live long run from a stalled one.
type Heartbeat struct {
	repo     ProgressStamper
	interval time.Duration
	log      *zap.Logger
}

func NewHeartbeat(repo ProgressStamper, log *zap.Logger) *Heartbeat {
	return &Heartbeat{repo: repo, interval: 30 * time.Second, log: log}
}

// Start begins stamping for the run and returns a stop function. Stop
// is idempotent and blocks until the goroutine has exited, so no timer
// outlives the job that started it.
func (h *Heartbeat) Start(ctx context.Context, runID uuid.UUID) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := h.repo.Heartbeat(ctx, runID); err != nil {
					// A missed beat is not fatal; the next tick tries again.
					h.log.Warn("heartbeat write failed",
						zap.String("run_id", runID.String()), zap.Error(err))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
