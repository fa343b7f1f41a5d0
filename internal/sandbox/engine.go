package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"scraper-worker-service/internal/entity"
)

const (
	runWallClock    = 2 * time.Hour
	recordBufferCap = 100
)

// Engine executes a stored script for a real run: no page or record
// caps, a long wall-clock budget, and records streamed out through a
// sink as they arrive. Records are buffered and flushed in groups so
// the sink sees reasonably sized batches instead of single rows.
type Engine struct {
	log *zap.Logger

	wallClock time.Duration
	bufferCap int
	command   commandFunc
}

func NewEngine(log *zap.Logger) *Engine {
	return &Engine{
		log:       log,
		wallClock: runWallClock,
		bufferCap: recordBufferCap,
		command:   defaultCommand,
	}
}

// Run executes the script and returns how many records reached the
// sink. A sink error aborts the run; the script is killed and the
// error propagates.
func (e *Engine) Run(ctx context.Context, script string, kind entity.ScriptKind, sink func(context.Context, []entity.ExtractedRecord) error, progress func(string)) (int, error) {
	if err := CheckStructure(script, kind); err != nil {
		return 0, err
	}

	dir, err := os.MkdirTemp("", "scraper-run-*")
	if err != nil {
		return 0, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path, err := writeScript(dir, script, kind)
	if err != nil {
		return 0, err
	}

	ctxJSON, _ := json.Marshal(scrapeContext{IsTestRun: false})

	runCtx, cancel := context.WithTimeout(ctx, e.wallClock)
	defer cancel()

	cmd := e.command(kind, path, "scrape", "--context="+string(ctxJSON))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := startGroup(cmd); err != nil {
		return 0, fmt.Errorf("start script: %w", err)
	}

	watchDone := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			killGroup(cmd)
		case <-watchDone:
		}
	}()

	errSink := &stderrSink{onProgress: progress}
	var (
		wg       sync.WaitGroup
		buf      []entity.ExtractedRecord
		total    int
		sinkErr  error
		parseErr error
	)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if err := sink(runCtx, buf); err != nil {
			return err
		}
		total += len(buf)
		buf = buf[:0]
		return nil
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		parseErr = consumeRecords(stdout, func(batch []entity.ExtractedRecord) bool {
			buf = append(buf, batch...)
			if len(buf) >= e.bufferCap {
				if err := flush(); err != nil {
					sinkErr = err
					killGroup(cmd)
					return false
				}
			}
			return true
		})
	}()
	go func() {
		defer wg.Done()
		errSink.consume(stderr)
	}()

	wg.Wait()
	waitErr := cmd.Wait()
	close(watchDone)

	switch {
	case sinkErr != nil:
		return total, sinkErr
	case runCtx.Err() != nil:
		return total, fmt.Errorf("%w after %s", ErrTimeout, e.wallClock)
	case waitErr != nil:
		err := fmt.Errorf("script exited abnormally: %v", waitErr)
		if tail := errSink.tailText(); tail != "" {
			err = fmt.Errorf("%w\n%s", err, tail)
		}
		return total, err
	}

	if err := flush(); err != nil {
		return total, err
	}
	if parseErr != nil {
		e.log.Warn("script emitted unparseable output", zap.Error(parseErr))
	}
	if scriptErrs := errSink.errorLines(); len(scriptErrs) > 0 {
		e.log.Warn("script reported errors", zap.Strings("errors", scriptErrs))
	}
	return total, nil
}
