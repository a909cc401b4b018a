package queue

import (
	"context"
	"time"

	"cardops/internal/apperr"
	"cardops/internal/models"
	"cardops/internal/util"

	"go.uber.org/zap"
)

// Handler processes one job. Returning a retryable error reschedules the job
// with backoff; anything else fails it terminally.
type Handler func(ctx context.Context, job *models.ImportJob) error

// Worker pulls jobs from one queue and runs them one at a time.
type Worker struct {
	queue   *Queue
	handler Handler
	logger  *zap.Logger
	stop    chan struct{}
}

// NewWorker creates a worker for a queue
func NewWorker(q *Queue, handler Handler) *Worker {
	return &Worker{
		queue:   q,
		handler: handler,
		logger:  util.GetLogger(),
		stop:    make(chan struct{}),
	}
}

// Start runs the worker loop until the context is cancelled. It also drives
// the delayed-job mover and the stalled-job reaper for its queue.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting queue worker", zap.String("queue", w.queue.name))

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case <-ticker.C:
				w.queue.promoteDue(ctx)
				w.queue.reapStalled(ctx)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker context cancelled, stopping...")
			return ctx.Err()
		case <-w.stop:
			return nil
		default:
			job, raw, err := w.queue.dequeue(ctx, 5*time.Second)
			if err != nil {
				w.logger.Error("Error dequeuing job", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}
			if job == nil {
				continue
			}
			w.process(ctx, job, raw)
		}
	}
}

// Stop stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping queue worker", zap.String("queue", w.queue.name))
	close(w.stop)
}

func (w *Worker) process(ctx context.Context, job *models.ImportJob, raw string) {
	job.Attempt++
	start := time.Now()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeat(hbCtx, job.ID)

	event := &models.JobActiveEvent{
		BaseEvent: newBaseEvent(models.EventTypeJobActive),
		JobID:     job.ID,
		Kind:      job.Kind,
		Attempt:   job.Attempt,
	}
	if err := w.queue.sink.JobActive(ctx, event); err != nil {
		w.logger.Error("Failed to publish JobActive event", zap.Error(err))
	}

	w.logger.Info("Processing job",
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Int("attempt", job.Attempt))

	err := w.handler(ctx, job)
	util.ImportJobDuration.WithLabelValues(job.Kind).Observe(time.Since(start).Seconds())

	stopHeartbeat()

	if err == nil {
		w.queue.ack(ctx, raw, job.ID)
		w.succeed(ctx, job)
		return
	}

	if apperr.Retryable(err) && job.Attempt < w.queue.opts.MaxAttempts {
		w.retry(ctx, job, raw, err)
		return
	}

	w.queue.ack(ctx, raw, job.ID)
	w.fail(ctx, job, err)
}

// heartbeat keeps the liveness key refreshed while the handler runs.
func (w *Worker) heartbeat(ctx context.Context, jobID string) {
	ttl := w.queue.opts.HeartbeatTTL
	key := w.queue.heartbeatKey(jobID)

	w.queue.redis.GetClient().Set(ctx, key, "1", ttl)

	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.queue.redis.GetClient().Expire(ctx, key, ttl)
		}
	}
}

func (w *Worker) succeed(ctx context.Context, job *models.ImportJob) {
	util.ImportJobsSucceededTotal.WithLabelValues(job.Kind).Inc()

	event := &models.JobSucceededEvent{
		BaseEvent:  newBaseEvent(models.EventTypeJobSucceeded),
		JobID:      job.ID,
		Kind:       job.Kind,
		ExternalID: job.ExternalID,
	}
	if err := w.queue.sink.JobSucceeded(ctx, event); err != nil {
		w.logger.Error("Failed to publish JobSucceeded event", zap.Error(err))
	}

	w.logger.Info("Job succeeded", zap.String("job_id", job.ID))
}

// retry places the job on the delayed zset before acking the processing
// entry. A crash between the two leaves the job in both places, and the
// reaper's requeue produces a duplicate rather than a loss.
func (w *Worker) retry(ctx context.Context, job *models.ImportJob, raw string, cause error) {
	delay := w.queue.Backoff(job.Attempt)
	readyAt := time.Now().Add(delay)

	if err := w.queue.scheduleRetry(ctx, job, readyAt); err != nil {
		w.logger.Error("Failed to schedule retry, failing job",
			zap.String("job_id", job.ID), zap.Error(err))
		w.queue.ack(ctx, raw, job.ID)
		w.fail(ctx, job, cause)
		return
	}
	w.queue.ack(ctx, raw, job.ID)

	util.ImportJobsRetriedTotal.WithLabelValues(job.Kind).Inc()

	event := &models.JobRetryingEvent{
		BaseEvent:   newBaseEvent(models.EventTypeJobRetrying),
		JobID:       job.ID,
		Kind:        job.Kind,
		ExternalID:  job.ExternalID,
		Attempt:     job.Attempt,
		NextRetryAt: readyAt.Format(time.RFC3339),
		Reason:      cause.Error(),
	}
	if err := w.queue.sink.JobRetrying(ctx, event); err != nil {
		w.logger.Error("Failed to publish JobRetrying event", zap.Error(err))
	}

	w.logger.Warn("Job scheduled for retry",
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", delay),
		zap.Error(cause))
}

func (w *Worker) fail(ctx context.Context, job *models.ImportJob, cause error) {
	kind := string(apperr.KindOf(cause))
	util.ImportJobsFailedTotal.WithLabelValues(job.Kind, kind).Inc()

	event := &models.JobFailedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeJobFailed),
		JobID:      job.ID,
		Kind:       job.Kind,
		ExternalID: job.ExternalID,
		Attempt:    job.Attempt,
		Reason:     cause.Error(),
		ErrorKind:  kind,
	}
	if err := w.queue.sink.JobFailed(ctx, event); err != nil {
		w.logger.Error("Failed to publish JobFailed event", zap.Error(err))
	}

	w.logger.Error("Job failed terminally",
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
		zap.Error(cause))
}
