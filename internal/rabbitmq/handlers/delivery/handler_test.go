package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"

	"github.com/advisorly/courier/internal/clock"
	"github.com/advisorly/courier/internal/config"
	"github.com/advisorly/courier/internal/model"
	"github.com/advisorly/courier/pkg/whatsapp"
)

type fakeScheduler struct {
	status    string
	completed []model.DeliveryResult
}

func (f *fakeScheduler) JobStatus(_ context.Context, _ retry.Strategy, _ uuid.UUID) (string, error) {
	return f.status, nil
}

func (f *fakeScheduler) CompleteJob(_ context.Context, _ retry.Strategy, result model.DeliveryResult) {
	f.completed = append(f.completed, result)
}

type fakeRotator struct {
	name string
}

func (f *fakeRotator) GetBestTemplate(_ context.Context, _, _ string) (model.TemplateHealth, error) {
	return model.TemplateHealth{TemplateName: f.name}, nil
}

type fakeSender struct {
	err   error
	calls int
}

func (f *fakeSender) SendTemplate(_ context.Context, _, _, _ string, _ map[string]string, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "wamid.ok", nil
}

type fakeRepo struct {
	retryCount int
	results    []model.DeliveryResult
	statuses   []string
}

func (f *fakeRepo) IncrementRetryCount(_ context.Context, _ uuid.UUID) (int, error) {
	f.retryCount++
	return f.retryCount, nil
}

func (f *fakeRepo) UpdateJobStatus(_ context.Context, _ uuid.UUID, status string) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeRepo) RecordResult(_ context.Context, result model.DeliveryResult) (uuid.UUID, error) {
	f.results = append(f.results, result)
	return uuid.New(), nil
}

type fakeQueue struct {
	jobs   []model.DeliveryJob
	delays []time.Duration
}

func (f *fakeQueue) Publish(job model.DeliveryJob, delay time.Duration, _ retry.Strategy) error {
	f.jobs = append(f.jobs, job)
	f.delays = append(f.delays, delay)
	return nil
}

func testConfig() config.Scheduler {
	return config.Scheduler{
		MaxRetries:  3,
		RetryDelays: []time.Duration{5 * time.Second, 30 * time.Second, time.Minute},
	}
}

func job() model.DeliveryJob {
	return model.DeliveryJob{
		ID:         uuid.New(),
		AdvisorID:  uuid.New(),
		ContentID:  uuid.New(),
		Phone:      "919876543210",
		Language:   "en",
		Parameters: map[string]string{"1": "Test Wealth"},
		Priority:   model.PriorityNormal,
		MaxRetries: 3,
	}
}

func strategy() retry.Strategy {
	return retry.Strategy{Attempts: 1}
}

func newTestHandler(sched *fakeScheduler, sender *fakeSender, repo *fakeRepo, queue *fakeQueue) *Handler {
	clk := clock.Fixed{T: time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)}
	return NewHandler(sched, &fakeRotator{name: "daily_update_v1"}, sender, repo, queue, testConfig(), clk)
}

func TestHandleJob_Success(t *testing.T) {
	sched := &fakeScheduler{status: model.StatusPending}
	sender := &fakeSender{}
	repo := &fakeRepo{}
	queue := &fakeQueue{}

	h := newTestHandler(sched, sender, repo, queue)
	h.HandleJob(context.Background(), job(), strategy())

	require.Len(t, repo.results, 1)
	assert.Equal(t, model.StatusSent, repo.results[0].Status)
	assert.Equal(t, "wamid.ok", repo.results[0].MessageID)
	assert.Equal(t, "daily_update_v1", repo.results[0].TemplateName)
	assert.Equal(t, []string{model.StatusSent}, repo.statuses)

	require.Len(t, sched.completed, 1)
	assert.Empty(t, queue.jobs)
}

func TestHandleJob_CancelledSkipped(t *testing.T) {
	sched := &fakeScheduler{status: model.StatusCancelled}
	sender := &fakeSender{}
	repo := &fakeRepo{}

	h := newTestHandler(sched, sender, repo, &fakeQueue{})
	h.HandleJob(context.Background(), job(), strategy())

	assert.Zero(t, sender.calls)
	assert.Empty(t, repo.results)
	assert.Empty(t, sched.completed)
}

func TestHandleJob_AlreadySentNotResent(t *testing.T) {
	// A stale wait-queue copy or a broker redelivery of a job that already
	// went out must not produce a second send or a second result.
	sched := &fakeScheduler{status: model.StatusSent}
	sender := &fakeSender{}
	repo := &fakeRepo{}

	h := newTestHandler(sched, sender, repo, &fakeQueue{})
	h.HandleJob(context.Background(), job(), strategy())

	assert.Zero(t, sender.calls)
	assert.Empty(t, repo.results)
	assert.Empty(t, sched.completed)
}

func TestHandleJob_AlreadyFailedNotResent(t *testing.T) {
	sched := &fakeScheduler{status: model.StatusFailed}
	sender := &fakeSender{}
	repo := &fakeRepo{}

	h := newTestHandler(sched, sender, repo, &fakeQueue{})
	h.HandleJob(context.Background(), job(), strategy())

	assert.Zero(t, sender.calls)
	assert.Empty(t, repo.results)
	assert.Empty(t, sched.completed)
}

func TestHandleJob_PermanentErrorFailsImmediately(t *testing.T) {
	sched := &fakeScheduler{status: model.StatusPending}
	sender := &fakeSender{err: &whatsapp.APIError{Code: 131052, Message: "not on whatsapp"}}
	repo := &fakeRepo{}
	queue := &fakeQueue{}

	h := newTestHandler(sched, sender, repo, queue)
	h.HandleJob(context.Background(), job(), strategy())

	require.Len(t, repo.results, 1)
	assert.Equal(t, model.StatusFailed, repo.results[0].Status)
	assert.Empty(t, queue.jobs)
	assert.Zero(t, repo.retryCount)

	require.Len(t, sched.completed, 1)
	assert.Equal(t, model.StatusFailed, sched.completed[0].Status)
}

func TestHandleJob_TransientErrorRequeued(t *testing.T) {
	sched := &fakeScheduler{status: model.StatusPending}
	sender := &fakeSender{err: errors.New("connection reset")}
	repo := &fakeRepo{}
	queue := &fakeQueue{}

	h := newTestHandler(sched, sender, repo, queue)
	h.HandleJob(context.Background(), job(), strategy())

	require.Len(t, repo.results, 1)
	assert.Equal(t, model.StatusRetrying, repo.results[0].Status)

	require.Len(t, queue.jobs, 1)
	assert.Equal(t, 1, queue.jobs[0].RetryCount)
	assert.Equal(t, 5*time.Second, queue.delays[0])

	// Not terminal yet: the SLA aggregate is untouched.
	assert.Empty(t, sched.completed)
}

func TestHandleJob_RetriesExhausted(t *testing.T) {
	sched := &fakeScheduler{status: model.StatusRetrying}
	sender := &fakeSender{err: errors.New("connection reset")}
	repo := &fakeRepo{retryCount: 3}
	queue := &fakeQueue{}

	h := newTestHandler(sched, sender, repo, queue)

	j := job()
	j.RetryCount = 3
	h.HandleJob(context.Background(), j, strategy())

	require.Len(t, repo.results, 1)
	assert.Equal(t, model.StatusFailed, repo.results[0].Status)
	assert.Empty(t, queue.jobs)

	require.Len(t, sched.completed, 1)
	assert.Equal(t, model.StatusFailed, sched.completed[0].Status)
}
