// Package worker hosts the background consumers.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cardops/internal/broker"
	"cardops/internal/models"
	"cardops/internal/store"
	"cardops/internal/util"
)

// pruneInterval is how often the retention sweep runs.
const pruneInterval = 6 * time.Hour

// NotificationStore persists admin notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	PruneNotifications(ctx context.Context, olderThan time.Duration) (int64, error)
}

// FailureMailer emails the operator about terminal failures.
type FailureMailer interface {
	Send(subject, body string) error
}

// NotificationWorker consumes job lifecycle events and turns them into admin
// notifications. Terminal failures also go out by email.
type NotificationWorker struct {
	consumer  *broker.Consumer
	store     NotificationStore
	mailer    FailureMailer
	handler   *broker.EventHandler
	retention time.Duration
	logger    *zap.Logger
	stop      chan struct{}
}

// NewNotificationWorker creates the lifecycle-event consumer. mailer may be
// nil, which disables failure email. Notifications older than retention are
// swept periodically while the worker runs.
func NewNotificationWorker(consumer *broker.Consumer, st *store.Store, mailer FailureMailer, retention time.Duration) *NotificationWorker {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	w := &NotificationWorker{
		consumer:  consumer,
		store:     st,
		mailer:    mailer,
		handler:   broker.NewEventHandler(),
		retention: retention,
		logger:    util.GetLogger(),
		stop:      make(chan struct{}),
	}

	w.handler.OnJobSucceeded(w.onSucceeded)
	w.handler.OnJobRetrying(w.onRetrying)
	w.handler.OnJobFailed(w.onFailed)
	w.handler.OnJobStalled(w.onStalled)
	return w
}

// Start runs the consumer loop until the context is cancelled.
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-w.stop
		cancel()
	}()

	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		w.pruneExpired(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.pruneExpired(ctx)
			}
		}
	}()

	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// pruneExpired drops notifications past the retention window.
func (w *NotificationWorker) pruneExpired(ctx context.Context) {
	removed, err := w.store.PruneNotifications(ctx, w.retention)
	if err != nil {
		w.logger.Error("Failed to prune notifications", zap.Error(err))
		return
	}
	if removed > 0 {
		w.logger.Info("Pruned expired notifications", zap.Int64("removed", removed))
	}
}

// Stop stops the worker
func (w *NotificationWorker) Stop() {
	w.logger.Info("Stopping notification worker")
	close(w.stop)
}

func (w *NotificationWorker) onSucceeded(ctx context.Context, event *models.JobSucceededEvent) error {
	return w.store.CreateNotification(ctx, &models.Notification{
		Title:    "Import complete",
		Body:     fmt.Sprintf("%s %s imported successfully", event.Kind, event.ExternalID),
		LengthMS: 6000,
		Type:     models.NotificationSuccess,
	})
}

func (w *NotificationWorker) onRetrying(ctx context.Context, event *models.JobRetryingEvent) error {
	return w.store.CreateNotification(ctx, &models.Notification{
		Title: "Import retrying",
		Body: fmt.Sprintf("%s %s failed attempt %d, retrying at %s: %s",
			event.Kind, event.ExternalID, event.Attempt, event.NextRetryAt, event.Reason),
		LengthMS: 8000,
		Type:     models.NotificationInfo,
	})
}

func (w *NotificationWorker) onFailed(ctx context.Context, event *models.JobFailedEvent) error {
	if w.mailer != nil {
		subject := fmt.Sprintf("Import failed: %s %s", event.Kind, event.ExternalID)
		body := fmt.Sprintf("Job %s failed terminally after %d attempts.\n\nError kind: %s\nReason: %s\n",
			event.JobID, event.Attempt, event.ErrorKind, event.Reason)
		if err := w.mailer.Send(subject, body); err != nil {
			w.logger.Error("Failed to send failure email",
				zap.String("job_id", event.JobID), zap.Error(err))
		}
	}

	return w.store.CreateNotification(ctx, &models.Notification{
		Title: "Import failed",
		Body: fmt.Sprintf("%s %s failed after %d attempts: %s",
			event.Kind, event.ExternalID, event.Attempt, event.Reason),
		LengthMS: 12000,
		Type:     models.NotificationError,
	})
}

func (w *NotificationWorker) onStalled(ctx context.Context, event *models.JobStalledEvent) error {
	return w.store.CreateNotification(ctx, &models.Notification{
		Title:    "Import stalled",
		Body:     fmt.Sprintf("%s job %s missed its heartbeat and was requeued", event.Kind, event.JobID),
		LengthMS: 8000,
		Type:     models.NotificationInfo,
	})
}
