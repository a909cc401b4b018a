// Package queue implements a durable, at-least-once job queue on Redis.
// Jobs wait on a pending list, move to a per-queue processing list while a
// worker holds them, and sit in a delayed zset between retries. A worker
// renews a heartbeat key for its active job; jobs whose heartbeat lapses are
// requeued by the reaper.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"cardops/internal/models"
	"cardops/internal/redisclient"
	"cardops/internal/util"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LifecycleSink receives job lifecycle events. The Kafka publisher implements
// it in production; tests supply a recorder.
type LifecycleSink interface {
	JobQueued(ctx context.Context, event *models.JobQueuedEvent) error
	JobActive(ctx context.Context, event *models.JobActiveEvent) error
	JobSucceeded(ctx context.Context, event *models.JobSucceededEvent) error
	JobRetrying(ctx context.Context, event *models.JobRetryingEvent) error
	JobFailed(ctx context.Context, event *models.JobFailedEvent) error
	JobStalled(ctx context.Context, event *models.JobStalledEvent) error
}

// Options tune retry and liveness behavior.
type Options struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	HeartbeatTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 30 * time.Second
	}
	if o.HeartbeatTTL <= 0 {
		o.HeartbeatTTL = 30 * time.Second
	}
	return o
}

// Queue is one named job type. Workers run with concurrency 1 per queue,
// which serializes external-API quota consumption.
type Queue struct {
	redis  *redisclient.Client
	name   string
	opts   Options
	sink   LifecycleSink
	logger *zap.Logger
}

// NewQueue creates a queue for one job type
func NewQueue(rc *redisclient.Client, name string, opts Options, sink LifecycleSink) *Queue {
	return &Queue{
		redis:  rc,
		name:   name,
		opts:   opts.withDefaults(),
		sink:   sink,
		logger: util.GetLogger(),
	}
}

func (q *Queue) pendingKey() string    { return fmt.Sprintf("queue:%s:pending", q.name) }
func (q *Queue) processingKey() string { return fmt.Sprintf("queue:%s:processing", q.name) }
func (q *Queue) delayedKey() string    { return fmt.Sprintf("queue:%s:delayed", q.name) }
func (q *Queue) heartbeatKey(jobID string) string {
	return fmt.Sprintf("queue:%s:heartbeat:%s", q.name, jobID)
}

// Enqueue pushes a job onto the pending list and emits a queued event.
func (q *Queue) Enqueue(ctx context.Context, job *models.ImportJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Attempt = 0
	job.EnqueuedAt = time.Now()

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.redis.GetClient().LPush(ctx, q.pendingKey(), payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	util.ImportJobsEnqueuedTotal.WithLabelValues(job.Kind).Inc()

	event := &models.JobQueuedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeJobQueued),
		JobID:      job.ID,
		Kind:       job.Kind,
		ExternalID: job.ExternalID,
	}
	if err := q.sink.JobQueued(ctx, event); err != nil {
		q.logger.Error("Failed to publish JobQueued event", zap.Error(err))
	}

	q.logger.Info("Job enqueued",
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.String("external_id", job.ExternalID))
	return nil
}

// Backoff returns the delay before the given retry attempt: base*2^(attempt-1).
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return q.opts.BackoffBase * time.Duration(math.Pow(2, float64(attempt-1)))
}

// dequeue blocks until a job is available, moving it onto the processing list.
func (q *Queue) dequeue(ctx context.Context, timeout time.Duration) (*models.ImportJob, string, error) {
	raw, err := q.redis.GetClient().BRPopLPush(ctx, q.pendingKey(), q.processingKey(), timeout).Result()
	if err == redis.Nil {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	var job models.ImportJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Unparseable payload: drop it from processing so it cannot wedge
		// the queue.
		q.redis.GetClient().LRem(ctx, q.processingKey(), 1, raw)
		return nil, "", fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	return &job, raw, nil
}

// ack removes a finished job from the processing list and its heartbeat.
func (q *Queue) ack(ctx context.Context, rawPayload, jobID string) {
	q.redis.GetClient().LRem(ctx, q.processingKey(), 1, rawPayload)
	q.redis.GetClient().Del(ctx, q.heartbeatKey(jobID))
}

// scheduleRetry places the job on the delayed zset with its next attempt
// already stamped.
func (q *Queue) scheduleRetry(ctx context.Context, job *models.ImportJob, readyAt time.Time) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal retry payload: %w", err)
	}
	return q.redis.GetClient().ZAdd(ctx, q.delayedKey(), &redis.Z{
		Score:  float64(readyAt.Unix()),
		Member: payload,
	}).Err()
}

// promoteDue moves due delayed jobs back onto the pending list.
func (q *Queue) promoteDue(ctx context.Context) {
	n, err := q.redis.PromoteDue(ctx, q.delayedKey(), q.pendingKey(), time.Now())
	if err != nil {
		q.logger.Error("Failed to promote delayed jobs", zap.Error(err))
		return
	}
	if n > 0 {
		q.logger.Info("Promoted delayed jobs", zap.Int64("count", n))
	}
}

// reapStalled requeues processing-list jobs whose heartbeat has expired,
// which happens when a worker dies mid-job.
func (q *Queue) reapStalled(ctx context.Context) {
	entries, err := q.redis.GetClient().LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		q.logger.Error("Failed to scan processing list", zap.Error(err))
		return
	}

	for _, raw := range entries {
		var job models.ImportJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.redis.GetClient().LRem(ctx, q.processingKey(), 1, raw)
			continue
		}

		alive, err := q.redis.GetClient().Exists(ctx, q.heartbeatKey(job.ID)).Result()
		if err != nil || alive > 0 {
			continue
		}

		q.redis.GetClient().LRem(ctx, q.processingKey(), 1, raw)
		if err := q.redis.GetClient().LPush(ctx, q.pendingKey(), raw).Err(); err != nil {
			q.logger.Error("Failed to requeue stalled job",
				zap.String("job_id", job.ID), zap.Error(err))
			continue
		}

		util.ImportJobsStalledTotal.Inc()
		event := &models.JobStalledEvent{
			BaseEvent: newBaseEvent(models.EventTypeJobStalled),
			JobID:     job.ID,
			Kind:      job.Kind,
		}
		if err := q.sink.JobStalled(ctx, event); err != nil {
			q.logger.Error("Failed to publish JobStalled event", zap.Error(err))
		}

		q.logger.Warn("Requeued stalled job", zap.String("job_id", job.ID))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
