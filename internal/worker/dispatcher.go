package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/advisorly/courier/internal/model"
)

type deliveryQueue interface {
	Consume(out chan<- model.DeliveryJob, strategy retry.Strategy) error
}

type jobHandler interface {
	HandleJob(ctx context.Context, job model.DeliveryJob, strategy retry.Strategy)
}

// Dispatcher drains the ready queue into per-priority buckets and runs a
// bounded worker pool over them. Workers always prefer the highest
// non-empty bucket, so urgent sends overtake the daily batch.
type Dispatcher struct {
	queue   deliveryQueue
	handler jobHandler
	buckets [4]chan model.DeliveryJob
	active  atomic.Int64
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(q deliveryQueue, h jobHandler, bufferSize int) *Dispatcher {
	d := &Dispatcher{queue: q, handler: h}
	for i := range d.buckets {
		d.buckets[i] = make(chan model.DeliveryJob, bufferSize)
	}

	return d
}

// Active returns the number of jobs currently being processed.
func (d *Dispatcher) Active() int64 {
	return d.active.Load()
}

// Run consumes jobs and processes them with workerCount workers until the
// context is cancelled.
func (d *Dispatcher) Run(ctx context.Context, strategy retry.Strategy, workerCount int) {
	var wg sync.WaitGroup
	msgChan := make(chan model.DeliveryJob, workerCount*10)

	go func() {
		if err := d.queue.Consume(msgChan, strategy); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to consume jobs")
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-msgChan:
				if !ok {
					return
				}
				d.buckets[bucketIndex(job.Priority)] <- job
			}
		}
	}()

	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func(id int) {
			defer wg.Done()

			zlog.Logger.Printf("worker-%d started", id)

			for {
				job, ok := d.next(ctx)
				if !ok {
					zlog.Logger.Printf("worker-%d shutting down", id)
					return
				}

				d.active.Add(1)
				d.handler.HandleJob(ctx, job, strategy)
				d.active.Add(-1)
			}
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	zlog.Logger.Print("dispatcher stopped")
}

// next returns the next job, draining higher-priority buckets first and
// blocking across all of them when everything is empty.
func (d *Dispatcher) next(ctx context.Context) (model.DeliveryJob, bool) {
	for _, ch := range d.buckets {
		select {
		case job := <-ch:
			return job, true
		default:
		}
	}

	select {
	case <-ctx.Done():
		return model.DeliveryJob{}, false
	case job := <-d.buckets[0]:
		return job, true
	case job := <-d.buckets[1]:
		return job, true
	case job := <-d.buckets[2]:
		return job, true
	case job := <-d.buckets[3]:
		return job, true
	}
}

func bucketIndex(p model.Priority) int {
	return p.Rank() - 1
}
