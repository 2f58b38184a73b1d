// Package scheduler runs the daily delivery window: it fans approved
// content out over jittered send times, drives immediate sends through the
// same queue, and keeps the rolling SLA aggregate.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/advisorly/courier/internal/clock"
	"github.com/advisorly/courier/internal/config"
	"github.com/advisorly/courier/internal/model"
)

// ErrJobCompleted is returned when cancelling a job that already reached a
// terminal state.
var ErrJobCompleted = errors.New("job already completed")

type jobPublisher interface {
	Publish(job model.DeliveryJob, delay time.Duration, strategy retry.Strategy) error
}

type contentRepository interface {
	ApprovedForDate(ctx context.Context, date time.Time) ([]model.ScheduledItem, error)
	GetScheduledItem(ctx context.Context, contentID uuid.UUID) (model.ScheduledItem, error)
}

type deliveryRepository interface {
	CreateJob(ctx context.Context, job model.DeliveryJob) (uuid.UUID, bool, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string) error
	GetJobStatus(ctx context.Context, id uuid.UUID) (string, error)
	LatestResult(ctx context.Context, jobID uuid.UUID) (model.DeliveryResult, error)
}

type cache interface {
	SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error
	GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error)
}

// Service is the delivery scheduler.
type Service struct {
	content  contentRepository
	delivery deliveryRepository
	queue    jobPublisher
	cache    cache
	metrics  *Metrics
	cfg      config.Scheduler
	clock    clock.Clock
	location *time.Location
	waiters  *waiters
}

// NewService creates a new scheduler. The timezone must resolve; delivery
// windows are meaningless in the wrong zone.
func NewService(
	content contentRepository,
	delivery deliveryRepository,
	queue jobPublisher,
	cache cache,
	metrics *Metrics,
	cfg config.Scheduler,
	clk clock.Clock,
) (*Service, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	return &Service{
		content:  content,
		delivery: delivery,
		queue:    queue,
		cache:    cache,
		metrics:  metrics,
		cfg:      cfg,
		clock:    clk,
		location: loc,
		waiters:  newWaiters(),
	}, nil
}

// Metrics exposes the SLA aggregate.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// WindowStart returns the delivery window start for a date in the configured
// timezone.
func (s *Service) WindowStart(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), s.cfg.DeliveryHour, s.cfg.DeliveryMinute, 0, 0, s.location)
}

// Jitter returns the send offset of item i out of n from the window start.
// Recipients are spread evenly over the jitter window with a small random
// component, so offsets stay within [-spread, window+spread).
func (s *Service) Jitter(i, n int) time.Duration {
	if n <= 0 {
		return 0
	}

	base := time.Duration(int64(s.cfg.JitterWindow) * int64(i) / int64(n))
	spread := s.cfg.JitterSpread
	if spread <= 0 {
		return base
	}

	return base + time.Duration(rand.Int63n(int64(2*spread))) - spread
}

// ScheduleWindow enqueues every approved content item for the target date.
// Higher tiers are enqueued first so they dispatch first under equal delays.
// Failures are collected per item; one bad record never aborts the pass.
func (s *Service) ScheduleWindow(ctx context.Context, strategy retry.Strategy, targetDate time.Time) (model.SchedulingReport, error) {
	items, err := s.content.ApprovedForDate(ctx, targetDate)
	if err != nil {
		return model.SchedulingReport{}, fmt.Errorf("get approved content: %w", err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return model.TierRank(items[i].Advisor.Tier) > model.TierRank(items[j].Advisor.Tier)
	})

	windowStart := s.WindowStart(targetDate)
	now := s.clock.Now()

	var report model.SchedulingReport
	var enqueued int64

	for i, item := range items {
		scheduledFor := windowStart.Add(s.Jitter(i, len(items)))

		created, err := s.enqueue(ctx, strategy, item, scheduledFor, targetDate, now)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("advisor %s: %v", item.Advisor.ID, err))

			zlog.Logger.Error().Err(err).
				Str("advisor_id", item.Advisor.ID.String()).
				Msg("failed to schedule delivery")
			continue
		}

		report.Scheduled++
		if created {
			enqueued++
		}
	}

	s.metrics.AddScheduled(enqueued)

	report.EstimatedCompletion = s.estimatedCompletion(windowStart, len(items))

	zlog.Logger.Info().
		Int("scheduled", report.Scheduled).
		Int("failed", report.Failed).
		Str("date", targetDate.Format("2006-01-02")).
		Time("window_start", windowStart).
		Msg("scheduling pass completed")

	return report, nil
}

func (s *Service) enqueue(ctx context.Context, strategy retry.Strategy, item model.ScheduledItem, scheduledFor, targetDate, now time.Time) (bool, error) {
	job := model.DeliveryJob{
		AdvisorID:     item.Advisor.ID,
		ContentID:     item.Content.ID,
		Phone:         item.Advisor.Phone,
		Language:      item.Advisor.Language,
		Parameters:    buildParameters(item, targetDate),
		MediaURL:      item.Content.MediaURL,
		Priority:      model.PriorityForTier(item.Advisor.Tier),
		Tier:          item.Advisor.Tier,
		ScheduledFor:  scheduledFor,
		ScheduledDate: targetDate,
		MaxRetries:    s.cfg.MaxRetries,
	}

	id, created, err := s.delivery.CreateJob(ctx, job)
	if err != nil {
		return false, err
	}
	if !created {
		// Re-run of the pass: the job already exists, nothing to publish.
		return false, nil
	}
	job.ID = id

	if err := s.cache.SetWithRetry(ctx, strategy, id.String(), model.StatusPending); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cache job status")
	}

	delay := scheduledFor.Sub(now)
	if delay < 0 {
		delay = 0
	}
	if err := s.queue.Publish(job, delay, strategy); err != nil {
		return false, fmt.Errorf("publish job: %w", err)
	}

	return true, nil
}

// estimatedCompletion is the window start plus the jitter window plus queue
// drain time at the configured send rate.
func (s *Service) estimatedCompletion(windowStart time.Time, n int) time.Time {
	est := windowStart.Add(s.cfg.JitterWindow)
	if s.cfg.RatePerSecond > 0 {
		est = est.Add(time.Duration(n/s.cfg.RatePerSecond) * time.Second)
	}

	return est
}

// SendImmediate pushes one content item through the delivery queue at
// urgent priority and waits for its terminal result.
func (s *Service) SendImmediate(ctx context.Context, strategy retry.Strategy, advisorID, contentID uuid.UUID) (model.DeliveryResult, error) {
	item, err := s.content.GetScheduledItem(ctx, contentID)
	if err != nil {
		return model.DeliveryResult{}, fmt.Errorf("get content: %w", err)
	}
	if item.Advisor.ID != advisorID {
		return model.DeliveryResult{}, fmt.Errorf("content %s does not belong to advisor %s", contentID, advisorID)
	}

	now := s.clock.Now()
	job := model.DeliveryJob{
		AdvisorID:     advisorID,
		ContentID:     contentID,
		Phone:         item.Advisor.Phone,
		Language:      item.Advisor.Language,
		Parameters:    buildParameters(item, item.Content.ScheduledDate),
		MediaURL:      item.Content.MediaURL,
		Priority:      model.PriorityUrgent,
		Tier:          item.Advisor.Tier,
		ScheduledFor:  now,
		ScheduledDate: item.Content.ScheduledDate,
		MaxRetries:    s.cfg.MaxRetries,
	}

	id, created, err := s.delivery.CreateJob(ctx, job)
	if err != nil {
		return model.DeliveryResult{}, fmt.Errorf("create job: %w", err)
	}
	job.ID = id

	if !created {
		// The identity already exists; if it finished, return its result
		// instead of sending twice.
		res, err := s.delivery.LatestResult(ctx, id)
		if err == nil && (res.Status == model.StatusSent || res.Status == model.StatusDelivered || res.Status == model.StatusRead) {
			return res, nil
		}
	}

	ch := s.waiters.register(id)
	defer s.waiters.unregister(id)

	if created {
		// Only a fresh job is published. An existing pending or retrying
		// copy is already live in the queue; publishing again would send
		// the same identity twice.
		s.metrics.AddScheduled(1)
		if err := s.queue.Publish(job, 0, strategy); err != nil {
			return model.DeliveryResult{}, fmt.Errorf("publish job: %w", err)
		}
	}

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return model.DeliveryResult{}, ctx.Err()
	}
}

// Cancel marks a pending job cancelled. Workers check the status before
// sending and drop cancelled jobs.
func (s *Service) Cancel(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error {
	status, err := s.delivery.GetJobStatus(ctx, id)
	if err != nil {
		return err
	}
	if status == model.StatusSent || status == model.StatusFailed || status == model.StatusCancelled {
		return ErrJobCompleted
	}

	if err := s.delivery.UpdateJobStatus(ctx, id, model.StatusCancelled); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	if err := s.cache.SetWithRetry(ctx, strategy, id.String(), model.StatusCancelled); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cache job status")
	}

	return nil
}

// JobStatus returns the current status of a job, cache first.
func (s *Service) JobStatus(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (string, error) {
	status, err := s.cache.GetWithRetry(ctx, strategy, id.String())
	if err != nil && !errors.Is(err, redis.Nil) {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to get job status from cache")
	}

	if errors.Is(err, redis.Nil) || status == "" {
		status, err = s.delivery.GetJobStatus(ctx, id)
		if err != nil {
			return "", err
		}

		if err := s.cache.SetWithRetry(ctx, strategy, id.String(), status); err != nil {
			zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cache job status")
		}
	}

	return status, nil
}

// LatestResult returns the most recent recorded attempt for a job.
func (s *Service) LatestResult(ctx context.Context, id uuid.UUID) (model.DeliveryResult, error) {
	return s.delivery.LatestResult(ctx, id)
}

// CompleteJob folds a terminal job outcome into the SLA aggregate, updates
// the status cache and wakes any immediate-send waiter. Called by the queue
// handler.
func (s *Service) CompleteJob(ctx context.Context, strategy retry.Strategy, result model.DeliveryResult) {
	switch result.Status {
	case model.StatusSent:
		s.metrics.RecordDelivered(result.ProcessingTime)
	case model.StatusFailed:
		s.metrics.RecordFailed()
	}

	if err := s.cache.SetWithRetry(ctx, strategy, result.JobID.String(), result.Status); err != nil {
		zlog.Logger.Error().Err(err).Str("id", result.JobID.String()).Msg("failed to cache job status")
	}

	s.waiters.notify(result)
}

// buildParameters fills the template placeholders: business name, delivery
// date, body text and the SEBI registration line required on every message.
func buildParameters(item model.ScheduledItem, date time.Time) map[string]string {
	return map[string]string{
		"1": item.Advisor.BusinessName,
		"2": date.Format("2 January 2006"),
		"3": item.Content.Body(item.Advisor.Language),
		"4": fmt.Sprintf("SEBI Reg: %s", item.Advisor.SEBIRegistration),
	}
}
