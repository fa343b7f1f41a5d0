package worker

import (
	"sync"
	"time"

	"scraper-worker-service/internal/entity"
)

// runLog accumulates a run's structured log entries in memory. The
// executing component is the sole writer for the run's lifetime, so
// entries are flushed wholesale over whatever the row held before.
type runLog struct {
	mu      sync.Mutex
	entries []entity.LogEntry
}

func (l *runLog) add(level, phase, message string, data any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entity.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Phase:     phase,
		Message:   message,
		Data:      data,
	})
}

func (l *runLog) info(phase, message string) { l.add("info", phase, message, nil) }
func (l *runLog) fail(phase, message string) { l.add("error", phase, message, nil) }

func (l *runLog) snapshot() []entity.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]entity.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
