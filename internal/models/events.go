package models

import "time"

// Job lifecycle event types
const (
	EventTypeJobQueued    = "JOB_QUEUED"
	EventTypeJobActive    = "JOB_ACTIVE"
	EventTypeJobSucceeded = "JOB_SUCCEEDED"
	EventTypeJobRetrying  = "JOB_RETRYING"
	EventTypeJobFailed    = "JOB_FAILED"
	EventTypeJobStalled   = "JOB_STALLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// JobQueuedEvent published when a job enters the queue
type JobQueuedEvent struct {
	BaseEvent
	JobID      string `json:"job_id"`
	Kind       string `json:"kind"`
	ExternalID string `json:"external_id"`
}

// JobActiveEvent published when a worker picks a job up
type JobActiveEvent struct {
	BaseEvent
	JobID   string `json:"job_id"`
	Kind    string `json:"kind"`
	Attempt int    `json:"attempt"`
}

// JobSucceededEvent published on successful completion
type JobSucceededEvent struct {
	BaseEvent
	JobID      string `json:"job_id"`
	Kind       string `json:"kind"`
	ExternalID string `json:"external_id"`
	ProductID  string `json:"product_id,omitempty"`
}

// JobRetryingEvent published when a retryable failure is rescheduled
type JobRetryingEvent struct {
	BaseEvent
	JobID       string `json:"job_id"`
	Kind        string `json:"kind"`
	ExternalID  string `json:"external_id"`
	Attempt     int    `json:"attempt"`
	NextRetryAt string `json:"next_retry_at"`
	Reason      string `json:"reason"`
}

// JobFailedEvent published on terminal failure
type JobFailedEvent struct {
	BaseEvent
	JobID      string `json:"job_id"`
	Kind       string `json:"kind"`
	ExternalID string `json:"external_id"`
	Attempt    int    `json:"attempt"`
	Reason     string `json:"reason"`
	ErrorKind  string `json:"error_kind"`
}

// JobStalledEvent published when a job is requeued after missed heartbeats
type JobStalledEvent struct {
	BaseEvent
	JobID string `json:"job_id"`
	Kind  string `json:"kind"`
}
