package scheduler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tupyy/log-collector-agent/internal/models"
)

// WorkFn is a unit of background work. It must honor ctx cancellation.
type WorkFn func(ctx context.Context) (any, error)

type work struct {
	ctx    context.Context
	fn     WorkFn
	future *models.Future[models.Result[any]]
}

// Scheduler runs background work on a fixed pool of workers. The collection
// orchestrator schedules exactly one job at a time but the pool size is
// configurable for status updates and other periodic work.
type Scheduler struct {
	workCh    chan work
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewScheduler(numWorkers int) *Scheduler {
	if numWorkers < 1 {
		numWorkers = 1
	}
	s := &Scheduler{
		workCh: make(chan work, 16),
	}
	s.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go s.worker(i)
	}
	return s
}

// AddWork schedules fn and returns a future that resolves with its result.
// Stopping the future cancels the context fn runs under.
func (s *Scheduler) AddWork(fn WorkFn) *models.Future[models.Result[any]] {
	ctx, cancel := context.WithCancel(context.Background())
	f := models.NewFuture[models.Result[any]](cancel)

	w := work{ctx: ctx, fn: fn, future: f}
	select {
	case s.workCh <- w:
	case <-ctx.Done():
		f.Resolve(models.Result[any]{Err: ctx.Err()})
	}
	return f
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for w := range s.workCh {
		if err := w.ctx.Err(); err != nil {
			w.future.Resolve(models.Result[any]{Err: err})
			continue
		}
		value, err := w.fn(w.ctx)
		if err != nil {
			zap.S().Debugw("scheduled work finished with error", "worker", id, "error", err)
		}
		w.future.Resolve(models.Result[any]{Value: value, Err: err})
	}
}

// Close stops accepting work and waits for in-flight work to finish.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.workCh)
	})
	s.wg.Wait()
}
