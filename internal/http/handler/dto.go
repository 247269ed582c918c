package handler

import (
	"encoding/json"
	"time"

	"github.com/imrahulmane/job-queue/internal/queue"
)

// JobCreate is the POST /jobs and POST /jobs/bulk request body shape.
type JobCreate struct {
	JobType     string          `json:"job_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	QueueName   string          `json:"queue_name,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	MaxTries    int             `json:"max_tries,omitempty"`
}

func (c JobCreate) toSpec() queue.EnqueueSpec {
	return queue.EnqueueSpec{
		JobType:     c.JobType,
		Payload:     c.Payload,
		QueueName:   c.QueueName,
		ScheduledAt: c.ScheduledAt,
		MaxTries:    c.MaxTries,
	}
}

// BulkJobCreate is the POST /jobs/bulk request body shape.
type BulkJobCreate struct {
	Jobs []JobCreate `json:"jobs"`
}

// BulkJobResponse is the POST /jobs/bulk response body shape.
type BulkJobResponse struct {
	CreatedJobs  []JobResponse `json:"created_jobs"`
	TotalCreated int           `json:"total_created"`
}

// JobUpdate is the PUT /jobs/{id} request body shape. status is
// deliberately absent: the producer facade never accepts it.
type JobUpdate struct {
	Payload     *json.RawMessage `json:"payload,omitempty"`
	ScheduledAt *time.Time       `json:"scheduled_at,omitempty"`
	MaxTries    *int             `json:"max_tries,omitempty"`
}

func (u JobUpdate) toUpdate() queue.Update {
	return queue.Update{
		Payload:     u.Payload,
		ScheduledAt: u.ScheduledAt,
		MaxTries:    u.MaxTries,
	}
}

// RetryRequest is the POST /jobs/{id}/retry request body shape.
type RetryRequest struct {
	ResetAttempts bool `json:"reset_attempts"`
}

// JobResponse is the wire shape returned for a single job.
type JobResponse struct {
	ID          int64           `json:"id"`
	QueueName   string          `json:"queue_name"`
	JobType     string          `json:"job_type"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	Attempts    int             `json:"attempts"`
	MaxTries    int             `json:"max_tries"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func toJobResponse(j queue.Job) JobResponse {
	return JobResponse{
		ID:          j.ID,
		QueueName:   j.QueueName,
		JobType:     j.JobType,
		Payload:     j.Payload,
		Status:      string(j.Status),
		ScheduledAt: j.ScheduledAt,
		Attempts:    j.Attempts,
		MaxTries:    j.MaxTries,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

func toJobResponses(jobs []queue.Job) []JobResponse {
	out := make([]JobResponse, len(jobs))
	for i, j := range jobs {
		out[i] = toJobResponse(j)
	}
	return out
}

// JobStatsResponse is the GET /jobs/stats/overview response body shape.
type JobStatsResponse struct {
	PerStatus map[string]int64 `json:"per_status_count"`
	PerQueue  map[string]int64 `json:"per_queue_count"`
}

func toStatsResponse(s queue.Stats) JobStatsResponse {
	perStatus := make(map[string]int64, len(s.PerStatus))
	for k, v := range s.PerStatus {
		perStatus[string(k)] = v
	}
	return JobStatsResponse{PerStatus: perStatus, PerQueue: s.PerQueue}
}
