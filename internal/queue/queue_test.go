package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardops/internal/apperr"
	"cardops/internal/models"
	"cardops/internal/redisclient"
)

func TestBackoffSchedule(t *testing.T) {
	q := &Queue{opts: Options{BackoffBase: 30 * time.Second}.withDefaults()}

	assert.Equal(t, 30*time.Second, q.Backoff(1))
	assert.Equal(t, 60*time.Second, q.Backoff(2))
	assert.Equal(t, 120*time.Second, q.Backoff(3))
	assert.Equal(t, 240*time.Second, q.Backoff(4))
}

func TestBackoffClampsLowAttempts(t *testing.T) {
	q := &Queue{opts: Options{BackoffBase: 10 * time.Second}.withDefaults()}

	assert.Equal(t, 10*time.Second, q.Backoff(0))
	assert.Equal(t, 10*time.Second, q.Backoff(-3))
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()

	assert.Equal(t, 4, opts.MaxAttempts)
	assert.Equal(t, 30*time.Second, opts.BackoffBase)
	assert.Equal(t, 30*time.Second, opts.HeartbeatTTL)

	custom := Options{MaxAttempts: 7, BackoffBase: time.Minute}.withDefaults()
	assert.Equal(t, 7, custom.MaxAttempts)
	assert.Equal(t, time.Minute, custom.BackoffBase)
}

type recordSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordSink) record(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
	return nil
}

func (r *recordSink) JobQueued(context.Context, *models.JobQueuedEvent) error {
	return r.record(models.EventTypeJobQueued)
}

func (r *recordSink) JobActive(context.Context, *models.JobActiveEvent) error {
	return r.record(models.EventTypeJobActive)
}

func (r *recordSink) JobSucceeded(context.Context, *models.JobSucceededEvent) error {
	return r.record(models.EventTypeJobSucceeded)
}

func (r *recordSink) JobRetrying(context.Context, *models.JobRetryingEvent) error {
	return r.record(models.EventTypeJobRetrying)
}

func (r *recordSink) JobFailed(context.Context, *models.JobFailedEvent) error {
	return r.record(models.EventTypeJobFailed)
}

func (r *recordSink) JobStalled(context.Context, *models.JobStalledEvent) error {
	return r.record(models.EventTypeJobStalled)
}

func (r *recordSink) has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == name {
			return true
		}
	}
	return false
}

func newRedisQueue(t *testing.T) (*Queue, *recordSink, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rc, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	sink := &recordSink{}
	q := NewQueue(rc, "test-jobs", Options{
		MaxAttempts:  3,
		BackoffBase:  time.Second,
		HeartbeatTTL: 5 * time.Second,
	}, sink)
	return q, sink, mr
}

func dequeueOne(t *testing.T, q *Queue) (*models.ImportJob, string) {
	t.Helper()
	job, raw, err := q.dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job, raw
}

func TestWorkerAcksSuccessfulJob(t *testing.T) {
	q, sink, _ := newRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.ImportJob{Kind: models.JobKindPSACert, ExternalID: "1"}))
	job, raw := dequeueOne(t, q)

	w := NewWorker(q, func(context.Context, *models.ImportJob) error { return nil })
	w.process(ctx, job, raw)

	client := q.redis.GetClient()
	assert.Zero(t, client.LLen(ctx, q.processingKey()).Val())
	assert.Zero(t, client.ZCard(ctx, q.delayedKey()).Val())
	assert.True(t, sink.has(models.EventTypeJobSucceeded))
}

func TestWorkerKeepsRetryableJobDurable(t *testing.T) {
	q, sink, _ := newRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.ImportJob{Kind: models.JobKindPSACert, ExternalID: "2"}))
	job, raw := dequeueOne(t, q)

	w := NewWorker(q, func(context.Context, *models.ImportJob) error {
		return apperr.Newf(apperr.KindNetwork, "test", "upstream down")
	})
	w.process(ctx, job, raw)

	// The job must land on the delayed zset and leave the processing list,
	// never sit in neither.
	client := q.redis.GetClient()
	assert.Zero(t, client.LLen(ctx, q.processingKey()).Val())

	members, err := client.ZRange(ctx, q.delayedKey(), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, members, 1)

	var delayed models.ImportJob
	require.NoError(t, json.Unmarshal([]byte(members[0]), &delayed))
	assert.Equal(t, job.ID, delayed.ID)
	assert.Equal(t, 1, delayed.Attempt)

	assert.True(t, sink.has(models.EventTypeJobRetrying))
	assert.False(t, sink.has(models.EventTypeJobFailed))
}

func TestWorkerFailsTerminalJob(t *testing.T) {
	q, sink, _ := newRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.ImportJob{Kind: models.JobKindPSACert, ExternalID: "3"}))
	job, raw := dequeueOne(t, q)

	w := NewWorker(q, func(context.Context, *models.ImportJob) error {
		return apperr.Newf(apperr.KindValidation, "test", "bad cert")
	})
	w.process(ctx, job, raw)

	client := q.redis.GetClient()
	assert.Zero(t, client.LLen(ctx, q.processingKey()).Val())
	assert.Zero(t, client.ZCard(ctx, q.delayedKey()).Val())
	assert.True(t, sink.has(models.EventTypeJobFailed))
}

func TestWorkerAcksWhenRetryScheduleFails(t *testing.T) {
	q, sink, mr := newRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.ImportJob{Kind: models.JobKindPSACert, ExternalID: "4"}))
	job, raw := dequeueOne(t, q)

	// Wedge the delayed zset with the wrong type so ZADD fails.
	require.NoError(t, mr.Set(q.delayedKey(), "not-a-zset"))

	w := NewWorker(q, func(context.Context, *models.ImportJob) error {
		return apperr.Newf(apperr.KindNetwork, "test", "upstream down")
	})
	w.process(ctx, job, raw)

	// The job fails terminally but is still removed from processing.
	client := q.redis.GetClient()
	assert.Zero(t, client.LLen(ctx, q.processingKey()).Val())
	assert.True(t, sink.has(models.EventTypeJobFailed))
}
