package sandbox

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"scraper-worker-service/internal/entity"
)

const (
	progressPrefix = "PROGRESS:"
	errorPrefix    = "ERROR:"

	// scripts can emit arbitrarily large JSON array lines
	maxLineBytes = 4 * 1024 * 1024

	stderrTailLines = 5
)

// consumeRecords reads the script's stdout protocol: one JSON value per
// line, either a single record object or an array forming a batch.
// Partial lines stay buffered until their newline arrives. The first
// malformed line is remembered and returned, but consumption continues
// so one bad line does not sink an otherwise healthy script. onBatch
// returning false stops consumption early.
func consumeRecords(r io.Reader, onBatch func([]entity.ExtractedRecord) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var firstErr error
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		batch, err := parseRecordLine(line)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !onBatch(batch) {
			// drain the pipe so the child never blocks on a full buffer
			_, _ = io.Copy(io.Discard, r)
			return firstErr
		}
	}
	if err := sc.Err(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func parseRecordLine(line string) ([]entity.ExtractedRecord, error) {
	if strings.HasPrefix(line, "[") {
		var batch []entity.ExtractedRecord
		if err := json.Unmarshal([]byte(line), &batch); err != nil {
			return nil, fmt.Errorf("parse record batch: %w", err)
		}
		return batch, nil
	}

	var rec entity.ExtractedRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil, fmt.Errorf("parse record line: %w", err)
	}
	return []entity.ExtractedRecord{rec}, nil
}

// stderrSink sorts the script's stderr lines: PROGRESS: lines are
// progress updates, ERROR: lines are script-reported errors, anything
// else is a diagnostic. It keeps a short tail of raw lines to attach
// to exit errors.
type stderrSink struct {
	// onProgress, when set, receives progress updates as they arrive
	// instead of only after the run.
	onProgress func(string)

	mu         sync.Mutex
	progress   []string
	scriptErrs []string
	diags      []string
	tail       []string
}

func (s *stderrSink) consume(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		s.mu.Lock()
		s.tail = append(s.tail, line)
		if len(s.tail) > stderrTailLines {
			s.tail = s.tail[1:]
		}
		switch {
		case strings.HasPrefix(line, progressPrefix):
			msg := strings.TrimSpace(strings.TrimPrefix(line, progressPrefix))
			s.progress = append(s.progress, msg)
			if s.onProgress != nil {
				s.onProgress(msg)
			}
		case strings.HasPrefix(line, errorPrefix):
			s.scriptErrs = append(s.scriptErrs, strings.TrimSpace(strings.TrimPrefix(line, errorPrefix)))
		default:
			s.diags = append(s.diags, line)
		}
		s.mu.Unlock()
	}
}

func (s *stderrSink) progressLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.progress...)
}

func (s *stderrSink) errorLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scriptErrs...)
}

func (s *stderrSink) diagnosticLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.diags...)
}

func (s *stderrSink) tailText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.tail, "\n")
}
