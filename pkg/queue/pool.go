package queue

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/logger"
)

// pool runs the jobs of one queue, bounded by the queue's concurrency
type pool struct {
	queue  *Queue
	sem    chan struct{}
	wake   chan struct{}
	paused atomic.Bool
}

func newPool(q *Queue) *pool {
	return &pool{
		queue: q,
		sem:   make(chan struct{}, q.Concurrency()),
		wake:  make(chan struct{}, 1),
	}
}

// signal asks the pool loop to look for work without waiting for the next tick
func (p *pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// loop fills free slots on every tick or wake-up until the worker stops
func (w *Worker) loop(p *pool) {
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	w.fill(p)
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.fill(p)
		case <-p.wake:
			w.fill(p)
		}
	}
}

// fill claims jobs until the pool is saturated or nothing is due
func (w *Worker) fill(p *pool) {
	for {
		if p.paused.Load() || w.ctx.Err() != nil {
			return
		}

		// Try to acquire a slot
		select {
		case p.sem <- struct{}{}:
		default:
			w.logger.Debug("all pool slots busy",
				logger.WorkerID(w.workerID.String()),
				logger.Queue(p.queue.Name()))
			return
		}

		// Use stopMu to ensure we don't add to WaitGroup after Stop() starts
		w.stopMu.Lock()
		if w.stopping.Load() {
			w.stopMu.Unlock()
			<-p.sem
			return
		}
		w.wg.Add(1)
		w.stopMu.Unlock()

		token := uuid.New()
		job, err := w.repo.ClaimJob(w.ctx, p.queue.Name(), token, w.lockTimeout)
		if err != nil {
			<-p.sem
			w.wg.Done()
			if !errors.Is(err, ErrNoJobToClaim) && w.ctx.Err() == nil {
				w.logger.Error("failed to claim job",
					logger.WorkerID(w.workerID.String()),
					logger.Queue(p.queue.Name()),
					logger.Error(errors.Join(ErrFailedToGetNextJob, err)))
			}
			return
		}

		go func() {
			defer w.wg.Done()
			defer func() {
				<-p.sem
				p.signal()
			}()

			if err := w.processJob(p, job, token); err != nil {
				w.logger.Error("failed to process job",
					logger.WorkerID(w.workerID.String()),
					logger.JobID(job.ID.String()),
					logger.JobType(job.Type),
					logger.Queue(job.Queue),
					slog.String("error", err.Error()))
			}
		}()
	}
}
