package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/imrahulmane/job-queue/internal/http/response"
	"github.com/imrahulmane/job-queue/internal/queue"
)

// CreateJob implements POST /jobs.
func (s *Server) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req JobCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}
	if req.JobType == "" {
		response.BadRequest(w, "job_type is required")
		return
	}

	job, err := s.producer.Create(r.Context(), req.toSpec())
	if err != nil {
		response.FromStoreError(w, r, err)
		return
	}
	response.Created(w, toJobResponse(job))
}

// CreateJobsBulk implements POST /jobs/bulk.
func (s *Server) CreateJobsBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkJobCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	specs := make([]queue.EnqueueSpec, len(req.Jobs))
	for i, j := range req.Jobs {
		if j.JobType == "" {
			response.BadRequest(w, "job_type is required for every job in the batch")
			return
		}
		specs[i] = j.toSpec()
	}

	jobs, err := s.producer.CreateBulk(r.Context(), specs)
	if err != nil {
		response.FromStoreError(w, r, err)
		return
	}
	response.Created(w, BulkJobResponse{
		CreatedJobs:  toJobResponses(jobs),
		TotalCreated: len(jobs),
	})
}

// ListJobs implements GET /jobs.
func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter, skip, limit, err := parseListQuery(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	jobs, err := s.producer.List(r.Context(), filter, skip, limit)
	if err != nil {
		response.FromStoreError(w, r, err)
		return
	}
	response.OK(w, toJobResponses(jobs))
}

// GetJob implements GET /jobs/{id}.
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	job, err := s.producer.Get(r.Context(), id)
	if err != nil {
		response.FromStoreError(w, r, err)
		return
	}
	response.OK(w, toJobResponse(job))
}

// UpdateJob implements PUT /jobs/{id}.
func (s *Server) UpdateJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	var req JobUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	job, err := s.producer.Update(r.Context(), id, req.toUpdate())
	if err != nil {
		response.FromStoreError(w, r, err)
		return
	}
	response.OK(w, toJobResponse(job))
}

// CancelJob implements DELETE /jobs/{id}.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if err := s.producer.Cancel(r.Context(), id); err != nil {
		response.FromStoreError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"id": id, "status": "cancelled"})
}

// RetryJob implements POST /jobs/{id}/retry.
func (s *Server) RetryJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	var req RetryRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
	}

	job, err := s.producer.Retry(r.Context(), id, req.ResetAttempts)
	if err != nil {
		response.FromStoreError(w, r, err)
		return
	}
	response.OK(w, toJobResponse(job))
}

// JobStats implements GET /jobs/stats/overview.
func (s *Server) JobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.producer.Stats(r.Context())
	if err != nil {
		response.FromStoreError(w, r, err)
		return
	}
	response.OK(w, toStatsResponse(stats))
}

// QueueJobs implements GET /jobs/queue/{name}.
func (s *Server) QueueJobs(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		response.BadRequest(w, "queue name is required")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			response.BadRequest(w, "limit must be an integer")
			return
		}
		limit = n
	}

	filter := queue.Filter{QueueName: name}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = queue.Status(status)
	}

	jobs, err := s.producer.List(r.Context(), filter, 0, limit)
	if err != nil {
		response.FromStoreError(w, r, err)
		return
	}
	response.OK(w, toJobResponses(jobs))
}

// PendingCount implements GET /jobs/health/pending-count.
func (s *Server) PendingCount(w http.ResponseWriter, r *http.Request) {
	s.statusCount(w, r, queue.StatusPending, "pending_jobs")
}

// RunningCount implements GET /jobs/health/running-count.
func (s *Server) RunningCount(w http.ResponseWriter, r *http.Request) {
	s.statusCount(w, r, queue.StatusRunning, "running_jobs")
}

func (s *Server) statusCount(w http.ResponseWriter, r *http.Request, status queue.Status, key string) {
	queueName := r.URL.Query().Get("queue_name")
	filter := queue.Filter{Status: status, QueueName: queueName}

	n, err := s.producer.Count(r.Context(), filter)
	if err != nil {
		response.FromStoreError(w, r, err)
		return
	}

	body := map[string]any{key: n}
	if queueName != "" {
		body["queue"] = queueName
	} else {
		body["queue"] = nil
	}
	response.OK(w, body)
}

func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errInvalidID
	}
	return id, nil
}

func parseListQuery(r *http.Request) (queue.Filter, int, int, error) {
	q := r.URL.Query()

	filter := queue.Filter{
		QueueName: q.Get("queue_name"),
		JobType:   q.Get("job_type"),
	}
	if status := q.Get("status"); status != "" {
		filter.Status = queue.Status(status)
	}

	skip := 0
	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, 0, 0, errInvalidSkip
		}
		skip = n
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, 0, 0, errInvalidLimitParam
		}
		limit = n
	}

	return filter, skip, limit, nil
}
