package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/advisorly/courier/internal/clock"
	"github.com/advisorly/courier/internal/config"
	"github.com/advisorly/courier/internal/model"
	"github.com/advisorly/courier/pkg/whatsapp"
)

// UseCaseDailyContent is the rotation use case of scheduled daily sends.
const UseCaseDailyContent = "daily_content"

type schedulerService interface {
	JobStatus(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (string, error)
	CompleteJob(ctx context.Context, strategy retry.Strategy, result model.DeliveryResult)
}

type templateRotator interface {
	GetBestTemplate(ctx context.Context, useCase, language string) (model.TemplateHealth, error)
}

type messageSender interface {
	SendTemplate(ctx context.Context, phone, templateName, language string, params map[string]string, mediaURL string) (string, error)
}

type deliveryRepository interface {
	IncrementRetryCount(ctx context.Context, id uuid.UUID) (int, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string) error
	RecordResult(ctx context.Context, result model.DeliveryResult) (uuid.UUID, error)
}

type jobPublisher interface {
	Publish(job model.DeliveryJob, delay time.Duration, strategy retry.Strategy) error
}

// Handler processes ready delivery jobs: it resolves the template through
// rotation, sends, records the outcome and re-queues transient failures
// with backoff.
type Handler struct {
	scheduler schedulerService
	rotation  templateRotator
	sender    messageSender
	repo      deliveryRepository
	queue     jobPublisher
	cfg       config.Scheduler
	clock     clock.Clock
}

// NewHandler creates a new delivery job handler.
func NewHandler(
	scheduler schedulerService,
	rotation templateRotator,
	sender messageSender,
	repo deliveryRepository,
	queue jobPublisher,
	cfg config.Scheduler,
	clk clock.Clock,
) *Handler {
	return &Handler{
		scheduler: scheduler,
		rotation:  rotation,
		sender:    sender,
		repo:      repo,
		queue:     queue,
		cfg:       cfg,
		clock:     clk,
	}
}

// HandleJob processes one ready job.
func (h *Handler) HandleJob(ctx context.Context, job model.DeliveryJob, strategy retry.Strategy) {
	status, err := h.scheduler.JobStatus(ctx, strategy, job.ID)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("id", job.ID.String()).Msg("failed to get job status")
		return
	}
	switch status {
	case model.StatusSent, model.StatusFailed, model.StatusCancelled:
		// Redeliveries and stale wait-queue copies land here; the job has
		// already reached a terminal state and must not send again.
		zlog.Logger.Info().Str("id", job.ID.String()).Str("status", status).Msg("job already terminal, skipping")
		return
	}

	templateName := job.TemplateName
	if templateName == "" {
		health, err := h.rotation.GetBestTemplate(ctx, UseCaseDailyContent, job.Language)
		if err != nil {
			zlog.Logger.Error().Err(err).Str("id", job.ID.String()).Msg("failed to pick template")
			h.fail(ctx, strategy, job, "", err)
			return
		}
		templateName = health.TemplateName
	}

	start := h.clock.Now()
	messageID, err := h.sender.SendTemplate(ctx, job.Phone, templateName, job.Language, job.Parameters, job.MediaURL)
	elapsed := h.clock.Now().Sub(start)

	if err != nil {
		h.handleSendError(ctx, strategy, job, templateName, err)
		return
	}

	result := model.DeliveryResult{
		JobID:          job.ID,
		AdvisorID:      job.AdvisorID,
		ContentID:      job.ContentID,
		TemplateName:   templateName,
		Status:         model.StatusSent,
		MessageID:      messageID,
		Attempts:       job.RetryCount + 1,
		CompletedAt:    h.clock.Now(),
		ProcessingTime: elapsed,
	}
	if _, err := h.repo.RecordResult(ctx, result); err != nil {
		zlog.Logger.Error().Err(err).Str("id", job.ID.String()).Msg("failed to record delivery result")
	}
	if err := h.repo.UpdateJobStatus(ctx, job.ID, model.StatusSent); err != nil {
		zlog.Logger.Error().Err(err).Str("id", job.ID.String()).Msg("failed to update job status")
	}

	h.scheduler.CompleteJob(ctx, strategy, result)

	zlog.Logger.Info().
		Str("id", job.ID.String()).
		Str("template", templateName).
		Str("message_id", messageID).
		Msg("delivery sent")
}

// handleSendError re-queues a transient failure with backoff while retries
// remain; permanent provider errors and exhausted retries go terminal.
func (h *Handler) handleSendError(ctx context.Context, strategy retry.Strategy, job model.DeliveryJob, templateName string, sendErr error) {
	if whatsapp.IsPermanent(sendErr) {
		zlog.Logger.Warn().Err(sendErr).Str("id", job.ID.String()).Msg("permanent send error, not retrying")
		h.fail(ctx, strategy, job, templateName, sendErr)
		return
	}

	attempts, err := h.repo.IncrementRetryCount(ctx, job.ID)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("id", job.ID.String()).Msg("failed to increment retry count")
		h.fail(ctx, strategy, job, templateName, sendErr)
		return
	}

	if attempts > job.MaxRetries {
		h.fail(ctx, strategy, job, templateName, sendErr)
		return
	}

	result := model.DeliveryResult{
		JobID:        job.ID,
		AdvisorID:    job.AdvisorID,
		ContentID:    job.ContentID,
		TemplateName: templateName,
		Status:       model.StatusRetrying,
		Error:        sendErr.Error(),
		Attempts:     attempts,
		CompletedAt:  h.clock.Now(),
	}
	if _, err := h.repo.RecordResult(ctx, result); err != nil {
		zlog.Logger.Error().Err(err).Str("id", job.ID.String()).Msg("failed to record delivery result")
	}
	if err := h.repo.UpdateJobStatus(ctx, job.ID, model.StatusRetrying); err != nil {
		zlog.Logger.Error().Err(err).Str("id", job.ID.String()).Msg("failed to update job status")
	}

	job.RetryCount = attempts
	delay := h.cfg.RetryDelay(attempts)

	zlog.Logger.Warn().Err(sendErr).
		Str("id", job.ID.String()).
		Int("attempt", attempts).
		Dur("delay", delay).
		Msg("transient send error, re-queueing")

	if err := h.queue.Publish(job, delay, strategy); err != nil {
		zlog.Logger.Error().Err(err).Str("id", job.ID.String()).Msg("failed to re-queue job")
		h.fail(ctx, strategy, job, templateName, sendErr)
	}
}

func (h *Handler) fail(ctx context.Context, strategy retry.Strategy, job model.DeliveryJob, templateName string, sendErr error) {
	result := model.DeliveryResult{
		JobID:        job.ID,
		AdvisorID:    job.AdvisorID,
		ContentID:    job.ContentID,
		TemplateName: templateName,
		Status:       model.StatusFailed,
		Error:        sendErr.Error(),
		Attempts:     job.RetryCount + 1,
		CompletedAt:  h.clock.Now(),
	}
	if _, err := h.repo.RecordResult(ctx, result); err != nil {
		zlog.Logger.Error().Err(err).Str("id", job.ID.String()).Msg("failed to record delivery result")
	}
	if err := h.repo.UpdateJobStatus(ctx, job.ID, model.StatusFailed); err != nil {
		zlog.Logger.Error().Err(err).Str("id", job.ID.String()).Msg("failed to update job status")
	}

	h.scheduler.CompleteJob(ctx, strategy, result)

	zlog.Logger.Error().Err(sendErr).
		Str("id", job.ID.String()).
		Str("advisor_id", job.AdvisorID.String()).
		Msg("delivery failed terminally")
}
