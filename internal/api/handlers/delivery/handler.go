package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/advisorly/courier/internal/api/dto"
	"github.com/advisorly/courier/internal/api/respond"
	"github.com/advisorly/courier/internal/config"
	"github.com/advisorly/courier/internal/model"
	deliveryrepo "github.com/advisorly/courier/internal/repository/delivery"
	"github.com/advisorly/courier/internal/service/scheduler"
)

// schedulerService defines the scheduling operations the Handler depends on.
type schedulerService interface {
	ScheduleWindow(ctx context.Context, strategy retry.Strategy, targetDate time.Time) (model.SchedulingReport, error)
	SendImmediate(ctx context.Context, strategy retry.Strategy, advisorID, contentID uuid.UUID) (model.DeliveryResult, error)
	Cancel(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error
	JobStatus(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (string, error)
	LatestResult(ctx context.Context, id uuid.UUID) (model.DeliveryResult, error)
	Metrics() *scheduler.Metrics
}

// Handler handles HTTP requests for delivery scheduling and job lookups.
type Handler struct {
	service   schedulerService
	validator *validator.Validate
	cfg       *config.Config
}

// NewHandler creates a new Handler instance.
func NewHandler(s schedulerService, v *validator.Validate, cfg *config.Config) *Handler {
	return &Handler{service: s, validator: v, cfg: cfg}
}

// Schedule handles HTTP POST requests to run a scheduling pass for a date.
func (h *Handler) Schedule(c *ginext.Context) {
	var req dto.ScheduleRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	targetDate, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid date format"))
		return
	}

	report, err := h.service.ScheduleWindow(c.Request.Context(), h.cfg.Retry, targetDate)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("date", req.Date).Msg("failed to run scheduling pass")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, report)
}

// SendNow handles HTTP POST requests to send one content item immediately.
// The request blocks until the send reaches a terminal state.
func (h *Handler) SendNow(c *ginext.Context) {
	var req dto.SendNowRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	advisorID, err := uuid.Parse(req.AdvisorID)
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid advisor_id"))
		return
	}
	contentID, err := uuid.Parse(req.ContentID)
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid content_id"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	result, err := h.service.SendImmediate(ctx, h.cfg.Retry, advisorID, contentID)
	if err != nil {
		zlog.Logger.Error().Err(err).
			Str("advisor_id", req.AdvisorID).
			Str("content_id", req.ContentID).
			Msg("immediate send failed")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, result)
}

// GetStatus handles HTTP GET requests for one job: its current status and
// the latest recorded attempt, if any.
func (h *Handler) GetStatus(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	status, err := h.service.JobStatus(c.Request.Context(), h.cfg.Retry, id)
	if err != nil {
		if errors.Is(err, deliveryrepo.ErrJobNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("job not found"))
			return
		}

		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to get job status")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	body := map[string]interface{}{"id": id, "status": status}

	result, err := h.service.LatestResult(c.Request.Context(), id)
	if err == nil {
		body["last_result"] = result
	} else if !errors.Is(err, deliveryrepo.ErrResultNotFound) {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to get latest result")
	}

	respond.OK(c.Writer, body)
}

// Cancel handles HTTP DELETE requests to cancel a pending job.
func (h *Handler) Cancel(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	err := h.service.Cancel(c.Request.Context(), h.cfg.Retry, id)
	if err != nil {
		switch {
		case errors.Is(err, deliveryrepo.ErrJobNotFound):
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("job not found"))
		case errors.Is(err, scheduler.ErrJobCompleted):
			respond.Fail(c.Writer, http.StatusConflict, fmt.Errorf("job already completed"))
		default:
			zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cancel job")
			respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		}
		return
	}

	respond.OK(c.Writer, "job cancelled")
}

// Metrics handles HTTP GET requests for the rolling SLA snapshot.
func (h *Handler) Metrics(c *ginext.Context) {
	respond.OK(c.Writer, h.service.Metrics().Snapshot())
}

func parseID(c *ginext.Context) (uuid.UUID, bool) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		zlog.Logger.Error().Err(err).Interface("idStr", idStr).Msg("failed to parse id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return uuid.Nil, false
	}
	if id == uuid.Nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing id"))
		return uuid.Nil, false
	}

	return id, true
}
