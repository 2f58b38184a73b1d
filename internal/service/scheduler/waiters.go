package scheduler

import (
	"sync"

	"github.com/google/uuid"

	"github.com/advisorly/courier/internal/model"
)

// waiters lets an immediate send block until the worker that processed its
// job reports a terminal result.
type waiters struct {
	mu sync.Mutex
	m  map[uuid.UUID]chan model.DeliveryResult
}

func newWaiters() *waiters {
	return &waiters{m: make(map[uuid.UUID]chan model.DeliveryResult)}
}

func (w *waiters) register(id uuid.UUID) <-chan model.DeliveryResult {
	ch := make(chan model.DeliveryResult, 1)

	w.mu.Lock()
	w.m[id] = ch
	w.mu.Unlock()

	return ch
}

func (w *waiters) unregister(id uuid.UUID) {
	w.mu.Lock()
	delete(w.m, id)
	w.mu.Unlock()
}

func (w *waiters) notify(result model.DeliveryResult) {
	w.mu.Lock()
	ch, ok := w.m[result.JobID]
	w.mu.Unlock()

	if ok {
		select {
		case ch <- result:
		default:
		}
	}
}
