package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/advisorly/courier/internal/api/respond"
	"github.com/advisorly/courier/internal/model"
	deliveryrepo "github.com/advisorly/courier/internal/repository/delivery"
)

type resultUpdater interface {
	UpdateStatusByMessageID(ctx context.Context, messageID, status string) (string, error)
}

type healthInvalidator interface {
	Invalidate(name, language string)
}

// Handler receives provider callbacks: the subscription handshake, message
// delivery status updates and template quality changes.
type Handler struct {
	repo        resultUpdater
	health      healthInvalidator
	verifyToken string
}

// NewHandler creates a new Handler instance.
func NewHandler(repo resultUpdater, health healthInvalidator, verifyToken string) *Handler {
	return &Handler{repo: repo, health: health, verifyToken: verifyToken}
}

// payload is the callback envelope. Only the fields acted on are decoded.
type payload struct {
	Entry []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Statuses []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"statuses"`
				MessageTemplateName     string `json:"message_template_name"`
				MessageTemplateLanguage string `json:"message_template_language"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// Verify handles the HTTP GET subscription handshake. The challenge is
// echoed back verbatim when the token matches.
func (h *Handler) Verify(c *ginext.Context) {
	query := c.Request.URL.Query()

	if query.Get("hub.mode") != "subscribe" || query.Get("hub.verify_token") != h.verifyToken {
		respond.Fail(c.Writer, http.StatusForbidden, fmt.Errorf("verification failed"))
		return
	}

	c.Writer.WriteHeader(http.StatusOK)
	_, _ = c.Writer.Write([]byte(query.Get("hub.challenge")))
}

// Receive handles HTTP POST status callbacks. Unknown message ids are
// logged and ignored; callbacks may outlive their results.
func (h *Handler) Receive(c *ginext.Context) {
	var p payload
	if err := json.NewDecoder(c.Request.Body).Decode(&p); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode webhook payload")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid payload"))
		return
	}

	ctx := c.Request.Context()

	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			switch change.Field {
			case "messages":
				for _, st := range change.Value.Statuses {
					h.applyStatus(ctx, st.ID, st.Status)
				}
			case "message_template_status_update", "message_template_quality_update":
				name := change.Value.MessageTemplateName
				language := change.Value.MessageTemplateLanguage
				if name != "" {
					h.health.Invalidate(name, language)
					zlog.Logger.Info().
						Str("template", name).
						Str("field", change.Field).
						Msg("template health invalidated by callback")
				}
			}
		}
	}

	respond.OK(c.Writer, "received")
}

func (h *Handler) applyStatus(ctx context.Context, messageID, providerStatus string) {
	var status string
	switch providerStatus {
	case "delivered":
		status = model.StatusDelivered
	case "read":
		status = model.StatusRead
	case "failed":
		status = model.StatusFailed
	default:
		return
	}

	templateName, err := h.repo.UpdateStatusByMessageID(ctx, messageID, status)
	if err != nil {
		if errors.Is(err, deliveryrepo.ErrResultNotFound) {
			zlog.Logger.Warn().Str("message_id", messageID).Msg("status callback for unknown message")
			return
		}

		zlog.Logger.Error().Err(err).Str("message_id", messageID).Msg("failed to apply status callback")
		return
	}

	zlog.Logger.Info().
		Str("message_id", messageID).
		Str("status", status).
		Str("template", templateName).
		Msg("delivery status updated")
}
