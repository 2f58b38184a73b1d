package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"

	"github.com/advisorly/courier/internal/model"
)

type fakeQueue struct {
	jobs []model.DeliveryJob
}

func (f *fakeQueue) Consume(out chan<- model.DeliveryJob, _ retry.Strategy) error {
	for _, j := range f.jobs {
		out <- j
	}
	return nil
}

type fakeHandler struct {
	mu      sync.Mutex
	handled []model.DeliveryJob
	done    chan struct{}
	want    int
}

func (f *fakeHandler) HandleJob(_ context.Context, job model.DeliveryJob, _ retry.Strategy) {
	f.mu.Lock()
	f.handled = append(f.handled, job)
	if len(f.handled) == f.want {
		close(f.done)
	}
	f.mu.Unlock()
}

func jobWithPriority(p model.Priority) model.DeliveryJob {
	return model.DeliveryJob{ID: uuid.New(), Priority: p}
}

func TestNext_PrefersHigherPriority(t *testing.T) {
	d := NewDispatcher(&fakeQueue{}, &fakeHandler{}, 10)

	d.buckets[bucketIndex(model.PriorityLow)] <- jobWithPriority(model.PriorityLow)
	d.buckets[bucketIndex(model.PriorityNormal)] <- jobWithPriority(model.PriorityNormal)
	d.buckets[bucketIndex(model.PriorityUrgent)] <- jobWithPriority(model.PriorityUrgent)

	ctx := context.Background()

	job, ok := d.next(ctx)
	require.True(t, ok)
	assert.Equal(t, model.PriorityUrgent, job.Priority)

	job, ok = d.next(ctx)
	require.True(t, ok)
	assert.Equal(t, model.PriorityNormal, job.Priority)

	job, ok = d.next(ctx)
	require.True(t, ok)
	assert.Equal(t, model.PriorityLow, job.Priority)
}

func TestNext_StopsOnCancel(t *testing.T) {
	d := NewDispatcher(&fakeQueue{}, &fakeHandler{}, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := d.next(ctx)
	assert.False(t, ok)
}

func TestRun_ProcessesAllJobs(t *testing.T) {
	jobs := []model.DeliveryJob{
		jobWithPriority(model.PriorityLow),
		jobWithPriority(model.PriorityUrgent),
		jobWithPriority(model.PriorityHigh),
		jobWithPriority(model.PriorityNormal),
	}
	handler := &fakeHandler{done: make(chan struct{}), want: len(jobs)}
	d := NewDispatcher(&fakeQueue{jobs: jobs}, handler, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go d.Run(ctx, retry.Strategy{Attempts: 1}, 2)

	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs not processed in time")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Len(t, handler.handled, len(jobs))
}
