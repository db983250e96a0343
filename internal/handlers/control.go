package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/benvon/timesheet-sync/internal/allocation"
	"github.com/benvon/timesheet-sync/internal/entries"
	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/benvon/timesheet-sync/internal/request"
	"github.com/benvon/timesheet-sync/internal/store"
	"github.com/benvon/timesheet-sync/internal/workers"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxBacklogDays bounds the ?days= parameter of a backlog ingestion.
const maxBacklogDays = 366

// Controller is the processor surface driven by the control API.
type Controller interface {
	workers.Runner
	Plan(ctx context.Context, dateKey string) ([]models.ScheduleSlot, error)
}

// StateReader reads the queue and the recorded run summaries.
type StateReader interface {
	ListPending(ctx context.Context) ([]models.WorkItem, error)
	LoadState(ctx context.Context, key string, dest any) error
}

// ControlHandler exposes manual entry and run triggers over HTTP.
type ControlHandler struct {
	runner Controller
	state  StateReader
	logger *zap.Logger
}

// NewControlHandler creates a control handler.
func NewControlHandler(runner Controller, state StateReader, logger *zap.Logger) *ControlHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ControlHandler{runner: runner, state: state, logger: logger}
}

// PendingResponse lists the pending queue.
type PendingResponse struct {
	Items []models.WorkItem `json:"items"`
	Count int               `json:"count"`
}

// LastRunsResponse holds the most recent run summaries; nil when no run happened yet.
type LastRunsResponse struct {
	LastIngest *models.IngestSummary `json:"last_ingest"`
	LastBatch  *models.BatchSummary  `json:"last_batch"`
}

// PlanResponse is the dry-run schedule of one date.
type PlanResponse struct {
	Date  string                `json:"date"`
	Slots []models.ScheduleSlot `json:"slots"`
}

// ListPending handles GET /api/v1/pending
func (h *ControlHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	items, err := h.state.ListPending(r.Context())
	if err != nil {
		h.logger.Error("list_pending_failed", zap.Error(err), zap.String("request_id", request.RequestID(r.Context())))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to read the pending queue")
		return
	}
	if items == nil {
		items = []models.WorkItem{}
	}
	respondJSON(w, http.StatusOK, PendingResponse{Items: items, Count: len(items)})
}

// CreateEntry handles POST /api/v1/entries
func (h *ControlHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req entries.Request
	if err := decodeJSON(r, &req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Validation Error", err.Error())
		return
	}

	items, err := h.runner.EnqueueManual(r.Context(), req, entryRef(r))
	if err != nil {
		h.logger.Error("manual_entry_failed", zap.Error(err), zap.String("request_id", request.RequestID(r.Context())))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to queue the entry")
		return
	}
	respondJSON(w, http.StatusCreated, items)
}

// IdempotencyKeyHeader carries a client UUID that makes a resubmitted entry
// resolve to the items of the first submission.
const IdempotencyKeyHeader = "Idempotency-Key"

func entryRef(r *http.Request) entries.Ref {
	id, err := uuid.Parse(r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		return entries.Ref{}
	}
	return entries.Ref{ID: id}
}

// TriggerIngest handles POST /api/v1/runs/ingest. ?days=N runs a backlog
// ingestion instead of today's.
func (h *ControlHandler) TriggerIngest(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxBacklogDays {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "days must be an integer between 1 and "+strconv.Itoa(maxBacklogDays))
			return
		}
		days = n
	}

	var (
		summary models.IngestSummary
		err     error
	)
	// The run outlives a request cut off by the timeout handler.
	ctx := context.WithoutCancel(r.Context())
	if days > 0 {
		summary, err = h.runner.IngestBacklog(ctx, days)
	} else {
		summary, err = h.runner.IngestToday(ctx)
	}
	h.respondRun(w, r, "ingest", summary, err)
}

// TriggerProcess handles POST /api/v1/runs/process
func (h *ControlHandler) TriggerProcess(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.ProcessBatch(context.WithoutCancel(r.Context()))
	h.respondRun(w, r, "process", summary, err)
}

func (h *ControlHandler) respondRun(w http.ResponseWriter, r *http.Request, run string, summary any, err error) {
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, summary)
	case errors.Is(err, workers.ErrRunInProgress):
		respondJSONError(w, http.StatusConflict, "Conflict", "Another run is in progress, try again later")
	default:
		h.logger.Warn("triggered_run_failed",
			zap.String("run", run),
			zap.Error(err),
			zap.String("request_id", request.RequestID(r.Context())),
		)
		respondJSONError(w, http.StatusBadGateway, "Run Failed", err.Error())
	}
}

// LastRuns handles GET /api/v1/runs/last
func (h *ControlHandler) LastRuns(w http.ResponseWriter, r *http.Request) {
	var resp LastRunsResponse

	var ingest models.IngestSummary
	switch err := h.state.LoadState(r.Context(), store.StateLastIngest, &ingest); {
	case err == nil:
		resp.LastIngest = &ingest
	case !errors.Is(err, store.ErrNotFound):
		h.stateError(w, r, err)
		return
	}

	var batch models.BatchSummary
	switch err := h.state.LoadState(r.Context(), store.StateLastBatch, &batch); {
	case err == nil:
		resp.LastBatch = &batch
	case !errors.Is(err, store.ErrNotFound):
		h.stateError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *ControlHandler) stateError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("load_state_failed", zap.Error(err), zap.String("request_id", request.RequestID(r.Context())))
	respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to read run state")
}

// PlanDate handles GET /api/v1/plan?date=YYYY-MM-DD
func (h *ControlHandler) PlanDate(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "date must be formatted YYYY-MM-DD")
		return
	}

	slots, err := h.runner.Plan(r.Context(), date)
	if err != nil {
		if errors.Is(err, allocation.ErrInvalidPlan) {
			respondJSONError(w, http.StatusUnprocessableEntity, "Invalid Plan", err.Error())
			return
		}
		h.logger.Error("plan_failed", zap.Error(err), zap.String("request_id", request.RequestID(r.Context())))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to build the plan")
		return
	}
	if slots == nil {
		slots = []models.ScheduleSlot{}
	}
	respondJSON(w, http.StatusOK, PlanResponse{Date: date, Slots: slots})
}
