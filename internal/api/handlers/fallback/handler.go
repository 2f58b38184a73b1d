package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/advisorly/courier/internal/api/dto"
	"github.com/advisorly/courier/internal/api/respond"
	"github.com/advisorly/courier/internal/model"
)

type fallbackService interface {
	AssignFallbacks(ctx context.Context, targetDate time.Time) (model.FallbackReport, error)
	Stats(ctx context.Context, from, to time.Time) (map[string]int, error)
}

// Handler handles HTTP requests for fallback coverage sweeps and stats.
type Handler struct {
	service   fallbackService
	validator *validator.Validate
}

// NewHandler creates a new Handler instance.
func NewHandler(s fallbackService, v *validator.Validate) *Handler {
	return &Handler{service: s, validator: v}
}

// Assign handles HTTP POST requests to run a fallback sweep for a date.
func (h *Handler) Assign(c *ginext.Context) {
	var req dto.AssignFallbackRequest

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

	report, err := h.service.AssignFallbacks(c.Request.Context(), targetDate)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("date", req.Date).Msg("failed to run fallback sweep")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, report)
}

// Stats handles HTTP GET requests for assignment counts per reason. The
// range defaults to the last seven days.
func (h *Handler) Stats(c *ginext.Context) {
	to := time.Now()
	from := to.AddDate(0, 0, -7)

	query := c.Request.URL.Query()

	if s := query.Get("from"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid from date"))
			return
		}
		from = t
	}
	if s := query.Get("to"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid to date"))
			return
		}
		to = t.AddDate(0, 0, 1)
	}

	stats, err := h.service.Stats(c.Request.Context(), from, to)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to get fallback stats")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, stats)
}
