package dto

import (
	"encoding/json"
	"time"

	"github.com/souffle-edu/souffle-api/internal/queue"
)

// QueueJobResponse describes a retained queue job.
type QueueJobResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	State       string          `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Retries     int             `json:"retries"`
	LastError   string          `json:"last_error,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	FailedAt    *time.Time      `json:"failed_at,omitempty"`
}

// QueueOverviewResponse reports queue depth along with the failed jobs.
type QueueOverviewResponse struct {
	Queue  string             `json:"queue"`
	Stats  queue.Stats        `json:"stats"`
	Failed []QueueJobResponse `json:"failed"`
}

// NewQueueJobResponse converts a queue job.
func NewQueueJobResponse(job queue.Job) QueueJobResponse {
	return QueueJobResponse{
		ID:          job.ID,
		Name:        job.Name,
		State:       job.State,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Retries:     job.Retries,
		LastError:   job.LastError,
		Payload:     job.Payload,
		CreatedAt:   job.CreatedAt,
		FailedAt:    job.FailedAt,
	}
}
