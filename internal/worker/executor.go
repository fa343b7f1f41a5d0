package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scraper-worker-service/internal/entity"
	"scraper-worker-service/internal/notify"
	"scraper-worker-service/internal/retry"
)

type ResultStore interface {
	SetCompleted(ctx context.Context, id uuid.UUID, processed, created, updated int) error
	SetFailed(ctx context.Context, id uuid.UUID, errText string) error
	FlushLogs(ctx context.Context, id uuid.UUID, entries []entity.LogEntry) error
}

type TargetResolver interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Target, error)
}

// ScriptEngine is implemented by sandbox.Engine: it executes a stored
// script and streams extracted records through the sink.
type ScriptEngine interface {
	Run(ctx context.Context, script string, kind entity.ScriptKind, sink func(context.Context, []entity.ExtractedRecord) error, progress func(string)) (int, error)
}

// storePolicy retries transient store failures around log flushes and
// final status writes.
var storePolicy = retry.Fixed(3, time.Second)

// ScriptExecutor runs script-kind runs: resolve the target's stored
// script, execute it in the sandbox, stage emitted records through the
// ingestor. It always writes a terminal status before returning.
type ScriptExecutor struct {
	targets  TargetResolver
	results  ResultStore
	engine   ScriptEngine
	ingestor *Ingestor
	notifier notify.Notifier
	log      *zap.Logger
}

func NewScriptExecutor(targets TargetResolver, results ResultStore, engine ScriptEngine, ingestor *Ingestor, notifier notify.Notifier, log *zap.Logger) *ScriptExecutor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &ScriptExecutor{
		targets:  targets,
		results:  results,
		engine:   engine,
		ingestor: ingestor,
		notifier: notifier,
		log:      log,
	}
}

func (e *ScriptExecutor) Execute(ctx context.Context, run *entity.Run) error {
	rl := &runLog{}
	rl.info("setup", "script run started")

	target, err := e.targets.GetByID(ctx, run.TargetID)
	if err != nil {
		return e.finishFailed(ctx, run, rl, fmt.Errorf("resolve target: %w", err))
	}

	staged := 0
	sink := func(ctx context.Context, batch []entity.ExtractedRecord) error {
		n, err := e.ingestor.Ingest(ctx, run, batch)
		staged += n
		if err != nil {
			return fmt.Errorf("stage records: %w", err)
		}
		rl.info("progress", fmt.Sprintf("staged %d records so far", staged))
		return nil
	}
	progress := func(msg string) {
		rl.info("progress", msg)
	}

	total, err := e.engine.Run(ctx, target.ScriptContent, target.ScriptKind, sink, progress)
	if err != nil {
		return e.finishFailed(ctx, run, rl, fmt.Errorf("script execution: %w", err))
	}

	rl.info("finalize", fmt.Sprintf("script emitted %d records, %d staged", total, staged))
	return e.finishCompleted(ctx, run, rl, staged)
}

func (e *ScriptExecutor) finishCompleted(ctx context.Context, run *entity.Run, rl *runLog, processed int) error {
	flushLogs(ctx, e.results, run.ID, rl, e.log)

	err := retry.Do(ctx, storePolicy, func(ctx context.Context) error {
		return e.results.SetCompleted(ctx, run.ID, processed, 0, 0)
	})
	if err != nil {
		return fmt.Errorf("write completed status: %w", err)
	}
	e.notifier.Publish(ctx, notify.EventCompleted, run.ID, "")
	return nil
}

func (e *ScriptExecutor) finishFailed(ctx context.Context, run *entity.Run, rl *runLog, cause error) error {
	rl.fail("finalize", cause.Error())
	flushLogs(ctx, e.results, run.ID, rl, e.log)

	err := retry.Do(ctx, storePolicy, func(ctx context.Context) error {
		return e.results.SetFailed(ctx, run.ID, cause.Error())
	})
	if err != nil {
		e.log.Error("write failed status", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
	e.notifier.Publish(ctx, notify.EventFailed, run.ID, cause.Error())
	return cause
}

// PlatformClient fetches records from an external platform. Real
// implementations live outside this service; test runs receive a
// bounded sample.
type PlatformClient interface {
	FetchRecords(ctx context.Context, target *entity.Target, testRun bool) ([]entity.ExtractedRecord, error)
}

// SyncExecutor runs platform_sync runs claimed by the ClaimPoller.
type SyncExecutor struct {
	targets  TargetResolver
	results  ResultStore
	client   PlatformClient
	ingestor *Ingestor
	notifier notify.Notifier
	log      *zap.Logger
}

func NewSyncExecutor(targets TargetResolver, results ResultStore, client PlatformClient, ingestor *Ingestor, notifier notify.Notifier, log *zap.Logger) *SyncExecutor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &SyncExecutor{
		targets:  targets,
		results:  results,
		client:   client,
		ingestor: ingestor,
		notifier: notifier,
		log:      log,
	}
}

func (e *SyncExecutor) Execute(ctx context.Context, run *entity.Run) error {
	rl := &runLog{}
	if run.IsTestRun {
		rl.info("setup", "platform test sync started")
	} else {
		rl.info("setup", "platform sync started")
	}

	target, err := e.targets.GetByID(ctx, run.TargetID)
	if err != nil {
		return e.finishFailed(ctx, run, rl, fmt.Errorf("resolve target: %w", err))
	}

	records, err := e.client.FetchRecords(ctx, target, run.IsTestRun)
	if err != nil {
		return e.finishFailed(ctx, run, rl, fmt.Errorf("fetch from %s: %w", target.Platform, err))
	}
	rl.info("progress", fmt.Sprintf("fetched %d records from %s", len(records), target.Platform))

	staged, err := e.ingestor.Ingest(ctx, run, records)
	if err != nil {
		return e.finishFailed(ctx, run, rl, fmt.Errorf("stage records: %w", err))
	}

	rl.info("finalize", fmt.Sprintf("%d records staged", staged))
	flushLogs(ctx, e.results, run.ID, rl, e.log)

	err = retry.Do(ctx, storePolicy, func(ctx context.Context) error {
		return e.results.SetCompleted(ctx, run.ID, staged, 0, 0)
	})
	if err != nil {
		return fmt.Errorf("write completed status: %w", err)
	}
	e.notifier.Publish(ctx, notify.EventCompleted, run.ID, "")
	return nil
}

func (e *SyncExecutor) finishFailed(ctx context.Context, run *entity.Run, rl *runLog, cause error) error {
	rl.fail("finalize", cause.Error())
	flushLogs(ctx, e.results, run.ID, rl, e.log)

	err := retry.Do(ctx, storePolicy, func(ctx context.Context) error {
		return e.results.SetFailed(ctx, run.ID, cause.Error())
	})
	if err != nil {
		e.log.Error("write failed status", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
	e.notifier.Publish(ctx, notify.EventFailed, run.ID, cause.Error())
	return cause
}

func flushLogs(ctx context.Context, store ResultStore, runID uuid.UUID, rl *runLog, log *zap.Logger) {
	err := retry.Do(ctx, storePolicy, func(ctx context.Context) error {
		return store.FlushLogs(ctx, runID, rl.snapshot())
	})
	if err != nil {
		log.Warn("flush run logs", zap.String("run_id", runID.String()), zap.Error(err))
	}
}
