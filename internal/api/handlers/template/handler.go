package template

import (
	"context"
	"fmt"
	"net/http"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/advisorly/courier/internal/api/respond"
	"github.com/advisorly/courier/internal/model"
)

type healthMonitor interface {
	Health(ctx context.Context, name, language string) (model.TemplateHealth, error)
}

// Handler handles HTTP requests for template health lookups.
type Handler struct {
	health healthMonitor
}

// NewHandler creates a new Handler instance.
func NewHandler(h healthMonitor) *Handler {
	return &Handler{health: h}
}

// Health handles HTTP GET requests for one template's health report. The
// language defaults to English.
func (h *Handler) Health(c *ginext.Context) {
	name := c.Param("name")
	if name == "" {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing template name"))
		return
	}

	language := c.Request.URL.Query().Get("language")
	if language == "" {
		language = "en"
	}

	health, err := h.health.Health(c.Request.Context(), name, language)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("template", name).Msg("failed to get template health")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, health)
}
