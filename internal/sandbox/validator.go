package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"scraper-worker-service/internal/entity"
)

const (
	validateWallClock  = 120 * time.Second
	metadataBudget     = 20 * time.Second
	validateMaxPages   = 5
	validateMaxRecords = 10
	validateMaxBatches = 3
)

// Result is everything a validation run learned about the script.
type Result struct {
	Valid        bool
	Records      []entity.ExtractedRecord
	Logs         []string
	ScriptErrors []string
	Metadata     Metadata

	// Err classifies the failure when Valid is false: ErrTimeout,
	// ErrNoRecords, a structure error, or an exit error with the
	// script's trailing stderr.
	Err error
}

// Validator runs an untrusted script once against a small sample to
// decide whether it can be saved. Three independent caps bound the run:
// a wall clock, a record count, and a batch count. Hitting the
// consumption caps is success; hitting the wall clock is failure and
// discards everything the script produced.
type Validator struct {
	log *zap.Logger

	wallClock      time.Duration
	metadataBudget time.Duration
	maxPages       int
	maxRecords     int
	maxBatches     int

	command commandFunc
}

func NewValidator(log *zap.Logger) *Validator {
	return &Validator{
		log:            log,
		wallClock:      validateWallClock,
		metadataBudget: metadataBudget,
		maxPages:       validateMaxPages,
		maxRecords:     validateMaxRecords,
		maxBatches:     validateMaxBatches,
		command:        defaultCommand,
	}
}

// Validate executes the sample run. The returned error is reserved for
// sandbox infrastructure problems; script failures land in Result.Err
// with Valid=false so the caller can render them.
func (v *Validator) Validate(ctx context.Context, script string, kind entity.ScriptKind) (*Result, error) {
	res := &Result{Metadata: defaultMetadata()}

	if err := CheckStructure(script, kind); err != nil {
		res.Err = err
		return res, nil
	}

	dir, err := os.MkdirTemp("", "scraper-validate-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path, err := writeScript(dir, script, kind)
	if err != nil {
		return nil, err
	}

	if md, err := v.fetchMetadata(ctx, path, kind); err != nil {
		res.Logs = append(res.Logs, fmt.Sprintf("metadata pre-flight failed, using defaults: %v", err))
	} else {
		res.Metadata = md
	}

	v.sampleRun(ctx, path, kind, res)
	return res, nil
}

// fetchMetadata asks the script to describe itself. A failure here
// never fails validation; the caller falls back to defaults.
func (v *Validator) fetchMetadata(ctx context.Context, path string, kind entity.ScriptKind) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, v.metadataBudget)
	defer cancel()

	cmd := v.command(kind, path, "metadata")
	out, err := runCapped(ctx, cmd)
	if err != nil {
		return Metadata{}, err
	}

	var md Metadata
	if err := json.Unmarshal(out, &md); err != nil {
		return Metadata{}, fmt.Errorf("parse metadata output: %w", err)
	}
	if md.Name == "" {
		md.Name = defaultMetadata().Name
	}
	if md.Description == "" {
		md.Description = defaultMetadata().Description
	}
	return md, nil
}

func (v *Validator) sampleRun(ctx context.Context, path string, kind entity.ScriptKind, res *Result) {
	ctxJSON, _ := json.Marshal(scrapeContext{
		IsTestRun:  true,
		MaxPages:   v.maxPages,
		MaxRecords: v.maxRecords,
	})

	runCtx, cancel := context.WithTimeout(ctx, v.wallClock)
	defer cancel()

	cmd := v.command(kind, path, "scrape", "--context="+string(ctxJSON))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		res.Err = fmt.Errorf("stdout pipe: %w", err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		res.Err = fmt.Errorf("stderr pipe: %w", err)
		return
	}

	if err := startGroup(cmd); err != nil {
		res.Err = fmt.Errorf("start script: %w", err)
		return
	}

	// wall-clock enforcement kills the whole process group
	var capped atomic.Bool
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			killGroup(cmd)
		case <-watchDone:
		}
	}()

	sink := &stderrSink{}
	var (
		wg       sync.WaitGroup
		parseErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		batches := 0
		parseErr = consumeRecords(stdout, func(batch []entity.ExtractedRecord) bool {
			batches++
			res.Records = append(res.Records, batch...)
			if !capped.Load() && (len(res.Records) >= v.maxRecords || batches >= v.maxBatches) {
				// enough sample output: stop the script, but keep
				// consuming whatever it already flushed
				capped.Store(true)
				killGroup(cmd)
			}
			return true
		})
	}()
	go func() {
		defer wg.Done()
		sink.consume(stderr)
	}()

	wg.Wait()
	waitErr := cmd.Wait()
	close(watchDone)

	res.Logs = append(res.Logs, sink.progressLines()...)
	res.Logs = append(res.Logs, sink.diagnosticLines()...)
	res.ScriptErrors = sink.errorLines()
	if parseErr != nil {
		res.ScriptErrors = append(res.ScriptErrors, parseErr.Error())
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && !capped.Load():
		// all-or-nothing: a timed-out script forfeits its output
		res.Records = nil
		res.Err = fmt.Errorf("%w after %s", ErrTimeout, v.wallClock)
		v.log.Warn("validation run timed out", zap.Duration("budget", v.wallClock))
	case runCtx.Err() != nil && !capped.Load():
		// caller went away, not a slow script
		res.Records = nil
		res.Err = fmt.Errorf("validation cancelled: %w", runCtx.Err())
	case capped.Load():
		// we killed it because it produced enough; that is a pass
		res.Valid = true
	case waitErr != nil:
		err := fmt.Errorf("script exited abnormally: %v", waitErr)
		if tail := sink.tailText(); tail != "" {
			err = fmt.Errorf("%w\n%s", err, tail)
		}
		res.Err = err
	case len(res.Records) == 0:
		res.Err = ErrNoRecords
	default:
		res.Valid = true
	}
}

// runCapped runs a short helper invocation and returns its stdout,
// killing the group if the context expires first.
func runCapped(ctx context.Context, cmd *exec.Cmd) ([]byte, error) {
	var out bytes.Buffer
	cmd.Stdout = &out

	if err := startGroup(cmd); err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		killGroup(cmd)
		<-done
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	}
}
