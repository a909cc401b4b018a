package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"cardops/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher publishes job lifecycle events. It satisfies
// queue.LifecycleSink.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// JobQueued publishes a JobQueued event
func (ep *EventPublisher) JobQueued(ctx context.Context, event *models.JobQueuedEvent) error {
	return ep.producer.PublishEvent(ctx, jobKey(event.JobID), event)
}

// JobActive publishes a JobActive event
func (ep *EventPublisher) JobActive(ctx context.Context, event *models.JobActiveEvent) error {
	return ep.producer.PublishEvent(ctx, jobKey(event.JobID), event)
}

// JobSucceeded publishes a JobSucceeded event
func (ep *EventPublisher) JobSucceeded(ctx context.Context, event *models.JobSucceededEvent) error {
	return ep.producer.PublishEvent(ctx, jobKey(event.JobID), event)
}

// JobRetrying publishes a JobRetrying event
func (ep *EventPublisher) JobRetrying(ctx context.Context, event *models.JobRetryingEvent) error {
	return ep.producer.PublishEvent(ctx, jobKey(event.JobID), event)
}

// JobFailed publishes a JobFailed event
func (ep *EventPublisher) JobFailed(ctx context.Context, event *models.JobFailedEvent) error {
	return ep.producer.PublishEvent(ctx, jobKey(event.JobID), event)
}

// JobStalled publishes a JobStalled event
func (ep *EventPublisher) JobStalled(ctx context.Context, event *models.JobStalledEvent) error {
	return ep.producer.PublishEvent(ctx, jobKey(event.JobID), event)
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job-%s", jobID)
}

// EventHandler routes incoming lifecycle events to registered callbacks.
type EventHandler struct {
	onSucceeded func(context.Context, *models.JobSucceededEvent) error
	onRetrying  func(context.Context, *models.JobRetryingEvent) error
	onFailed    func(context.Context, *models.JobFailedEvent) error
	onStalled   func(context.Context, *models.JobStalledEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnJobSucceeded registers a handler for JobSucceeded events
func (eh *EventHandler) OnJobSucceeded(handler func(context.Context, *models.JobSucceededEvent) error) {
	eh.onSucceeded = handler
}

// OnJobRetrying registers a handler for JobRetrying events
func (eh *EventHandler) OnJobRetrying(handler func(context.Context, *models.JobRetryingEvent) error) {
	eh.onRetrying = handler
}

// OnJobFailed registers a handler for JobFailed events
func (eh *EventHandler) OnJobFailed(handler func(context.Context, *models.JobFailedEvent) error) {
	eh.onFailed = handler
}

// OnJobStalled registers a handler for JobStalled events
func (eh *EventHandler) OnJobStalled(handler func(context.Context, *models.JobStalledEvent) error) {
	eh.onStalled = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeJobSucceeded:
		if eh.onSucceeded != nil {
			var event models.JobSucceededEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal JobSucceeded event: %w", err)
			}
			return eh.onSucceeded(ctx, &event)
		}

	case models.EventTypeJobRetrying:
		if eh.onRetrying != nil {
			var event models.JobRetryingEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal JobRetrying event: %w", err)
			}
			return eh.onRetrying(ctx, &event)
		}

	case models.EventTypeJobFailed:
		if eh.onFailed != nil {
			var event models.JobFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal JobFailed event: %w", err)
			}
			return eh.onFailed(ctx, &event)
		}

	case models.EventTypeJobStalled:
		if eh.onStalled != nil {
			var event models.JobStalledEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal JobStalled event: %w", err)
			}
			return eh.onStalled(ctx, &event)
		}

	case models.EventTypeJobQueued, models.EventTypeJobActive:
		// Display-only transitions; nothing to record.

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
