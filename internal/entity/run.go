package entity

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	StatusPending      RunStatus = "pending"
	StatusInitializing RunStatus = "initializing"
	// StatusRunning is set by the conditional-update claim path,
	// StatusProcessing by the server-side atomic claim path. Both mean
	// "a worker owns this run".
	StatusRunning    RunStatus = "running"
	StatusProcessing RunStatus = "processing"
	StatusCompleted  RunStatus = "completed"
	StatusFailed     RunStatus = "failed"
)

// Active reports whether a worker currently owns the run.
func (s RunStatus) Active() bool {
	return s == StatusRunning || s == StatusProcessing
}

// Terminal reports whether the run has reached a final state.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type RunKind string

const (
	KindScript       RunKind = "script"
	KindPlatformSync RunKind = "platform_sync"
)

// Run is one unit of asynchronous scraping/sync work. The status column is
// the ownership record: all transitions out of pending must go through an
// atomic compare-and-set in the store, never a read-then-write pair.
type Run struct {
	ID             uuid.UUID  `json:"id"`
	TargetID       uuid.UUID  `json:"target_id"`
	OwnerID        uuid.UUID  `json:"owner_id"`
	Kind           RunKind    `json:"kind"`
	Status         RunStatus  `json:"status"`
	IsTestRun      bool       `json:"is_test_run"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	LastProgressAt *time.Time `json:"last_progress_at,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`

	RecordsProcessed int  `json:"records_processed"`
	RecordsCreated   int  `json:"records_created"`
	RecordsUpdated   int  `json:"records_updated"`
	CurrentBatch     int  `json:"current_batch"`
	TotalBatches     *int `json:"total_batches,omitempty"`

	LogDetails []LogEntry `json:"log_details,omitempty"`
}

// LogEntry is one structured line in a run's log_details. The slice is
// owned by the executing component for the run's lifetime and flushed
// wholesale, never merged.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
}

// TimeoutRecord registers a deadline for a run, consumed by the reaper.
// At most one exists per run.
type TimeoutRecord struct {
	RunID     uuid.UUID `json:"run_id"`
	TimeoutAt time.Time `json:"timeout_at"`
	Processed bool      `json:"processed"`
}

const (
	TestRunTimeout   = 1 * time.Minute
	NormalRunTimeout = 24 * time.Hour
)

// TimeoutFor returns the reaper deadline for a run created now.
func TimeoutFor(isTestRun bool, now time.Time) time.Time {
	if isTestRun {
		return now.Add(TestRunTimeout)
	}
	return now.Add(NormalRunTimeout)
}
