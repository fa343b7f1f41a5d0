package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"scraper-worker-service/internal/entity"
	"scraper-worker-service/internal/repository/postgresql"
	"scraper-worker-service/internal/sandbox"
	"scraper-worker-service/internal/service"
)

type Submitter interface {
	Submit(ctx context.Context, targetID uuid.UUID, isTestRun bool) (uuid.UUID, error)
}

type StatusProvider interface {
	Status(ctx context.Context, id uuid.UUID) (*service.RunStatusResponse, error)
}

type RunReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Run, error)
}

type ScriptValidator interface {
	Validate(ctx context.Context, script string, kind entity.ScriptKind) (*sandbox.Result, error)
}

type Handler struct {
	submit    Submitter
	status    StatusProvider
	runs      RunReader
	validator ScriptValidator
}

func NewHandler(submit Submitter, status StatusProvider, runs RunReader, validator ScriptValidator) *Handler {
	return &Handler{submit: submit, status: status, runs: runs, validator: validator}
}

type submitRunDTO struct {
	TargetID  string `json:"target_id"`
	IsTestRun bool   `json:"is_test_run"`
}

type submitRunResp struct {
	RunID string `json:"run_id"`
}

type runResp struct {
	ID               string     `json:"id"`
	TargetID         string     `json:"target_id"`
	OwnerID          string     `json:"owner_id"`
	Kind             string     `json:"kind"`
	Status           string     `json:"status"`
	IsTestRun        bool       `json:"is_test_run"`
	StartedAt        string     `json:"started_at"`
	CompletedAt      *string    `json:"completed_at,omitempty"`
	LastProgressAt   *string    `json:"last_progress_at,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsCreated   int        `json:"records_created"`
	RecordsUpdated   int        `json:"records_updated"`
	CurrentBatch     int        `json:"current_batch"`
	TotalBatches     *int       `json:"total_batches,omitempty"`
	LogDetails       []logEntry `json:"log_details,omitempty"`
}

type logEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Phase     string `json:"phase"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
}

// SubmitRun godoc
// @Summary Submit a scraper or sync run
// @Description Creates the run (pending), registers its timeout, and for test runs waits briefly for worker pickup. The run id is returned even when no worker picks the run up; the diagnostic lands on the run row.
// @Tags runs
// @Accept json
// @Produce json
// @Param request body submitRunDTO true "run payload"
// @Success 202 {object} submitRunResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /runs [post]
func (h *Handler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	var dto submitRunDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	targetID, err := uuid.Parse(dto.TargetID)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid target_id")
		return
	}

	id, err := h.submit.Submit(r.Context(), targetID, dto.IsTestRun)
	if err != nil {
		switch {
		case errors.Is(err, postgresql.ErrNotFound):
			writeErr(w, http.StatusNotFound, "target not found")
		case errors.Is(err, service.ErrTargetInactive):
			writeErr(w, http.StatusConflict, "target is not active")
		default:
			writeErr(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, submitRunResp{RunID: id.String()})
}

// GetRun godoc
// @Summary Get run by id
// @Tags runs
// @Produce json
// @Param id path string true "run id (uuid)"
// @Success 200 {object} runResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "run not found")
		return
	}

	resp := runResp{
		ID:               run.ID.String(),
		TargetID:         run.TargetID.String(),
		OwnerID:          run.OwnerID.String(),
		Kind:             string(run.Kind),
		Status:           string(run.Status),
		IsTestRun:        run.IsTestRun,
		StartedAt:        run.StartedAt.Format(time.RFC3339),
		ErrorMessage:     run.ErrorMessage,
		RecordsProcessed: run.RecordsProcessed,
		RecordsCreated:   run.RecordsCreated,
		RecordsUpdated:   run.RecordsUpdated,
		CurrentBatch:     run.CurrentBatch,
		TotalBatches:     run.TotalBatches,
	}
	if run.CompletedAt != nil {
		s := run.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	if run.LastProgressAt != nil {
		s := run.LastProgressAt.Format(time.RFC3339)
		resp.LastProgressAt = &s
	}
	for _, e := range run.LogDetails {
		resp.LogDetails = append(resp.LogDetails, logEntry{
			Timestamp: e.Timestamp.Format(time.RFC3339),
			Level:     e.Level,
			Phase:     e.Phase,
			Message:   e.Message,
			Data:      e.Data,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetRunStatus godoc
// @Summary Get run status projection
// @Description Read-only polling payload: status, counters, elapsed time, recent progress messages. Well-formed for failed runs too.
// @Tags runs
// @Produce json
// @Param id path string true "run id (uuid)"
// @Success 200 {object} service.RunStatusResponse
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /runs/{id}/status [get]
func (h *Handler) GetRunStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	st, err := h.status.Status(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "run not found")
		return
	}

	writeJSON(w, http.StatusOK, st)
}

type validateDTO struct {
	ScraperType   string `json:"scraper_type"`
	ScriptContent string `json:"script_content"`
}

type validateResp struct {
	Valid    bool                     `json:"valid"`
	Error    string                   `json:"error,omitempty"`
	Metadata *sandbox.Metadata        `json:"metadata,omitempty"`
	Products []entity.ExtractedRecord `json:"products"`
	Logs     []string                 `json:"logs"`
}

// ValidateScript godoc
// @Summary Validate a scraper script in the sandbox
// @Description Runs the script against a small sample under wall-clock, record and batch caps and reports what it produced.
// @Tags scrapers
// @Accept json
// @Produce json
// @Param request body validateDTO true "script payload"
// @Success 200 {object} validateResp
// @Failure 400 {object} apiError
// @Router /scrapers/validate [post]
func (h *Handler) ValidateScript(w http.ResponseWriter, r *http.Request) {
	var dto validateDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	kind := entity.ScriptKind(dto.ScraperType)
	if kind != entity.ScriptPython && kind != entity.ScriptTypeScript {
		writeErr(w, http.StatusBadRequest, "scraper_type must be python or typescript")
		return
	}

	res, err := h.validator.Validate(r.Context(), dto.ScriptContent, kind)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := validateResp{
		Valid:    res.Valid,
		Metadata: &res.Metadata,
		Products: res.Records,
		Logs:     res.Logs,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	for _, e := range res.ScriptErrors {
		resp.Logs = append(resp.Logs, "ERROR: "+e)
	}
	if resp.Products == nil {
		resp.Products = []entity.ExtractedRecord{}
	}
	if resp.Logs == nil {
		resp.Logs = []string{}
	}

	writeJSON(w, http.StatusOK, resp)
}
