package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"scraper-worker-service/internal/entity"
)

// progressTail bounds how many recent progress lines the status payload
// carries.
const progressTail = 10

type RunStatusResponse struct {
	RunID            string   `json:"run_id"`
	Status           string   `json:"status"`
	RecordsProcessed int      `json:"records_processed"`
	CurrentBatch     int      `json:"current_batch"`
	TotalBatches     *int     `json:"total_batches"`
	ElapsedMS        int64    `json:"elapsed_ms"`
	ErrorMessage     *string  `json:"error_message,omitempty"`
	ProgressMessages []string `json:"progress_messages"`
	IsComplete       bool     `json:"is_complete"`
}

type RunGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Run, error)
}

type StatusService struct {
	runs RunGetter
}

func NewStatusService(runs RunGetter) *StatusService {
	return &StatusService{runs: runs}
}

// Status projects a run row into the polling payload. The projection is
// always well-formed: a run that failed mid-batch still reports its
// counters and the messages logged before the failure.
func (s *StatusService) Status(ctx context.Context, id uuid.UUID) (*RunStatusResponse, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	end := time.Now()
	if run.CompletedAt != nil {
		end = *run.CompletedAt
	}

	return &RunStatusResponse{
		RunID:            run.ID.String(),
		Status:           string(run.Status),
		RecordsProcessed: run.RecordsProcessed,
		CurrentBatch:     run.CurrentBatch,
		TotalBatches:     run.TotalBatches,
		ElapsedMS:        end.Sub(run.StartedAt).Milliseconds(),
		ErrorMessage:     run.ErrorMessage,
		ProgressMessages: progressMessages(run.LogDetails),
		IsComplete:       run.Status.Terminal(),
	}, nil
}

func progressMessages(entries []entity.LogEntry) []string {
	msgs := make([]string, 0, progressTail)
	for _, e := range entries {
		if e.Phase == "progress" || e.Level == "info" {
			msgs = append(msgs, e.Message)
		}
	}
	if len(msgs) > progressTail {
		msgs = msgs[len(msgs)-progressTail:]
	}
	return msgs
}
