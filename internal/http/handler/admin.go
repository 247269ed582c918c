package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/imrahulmane/job-queue/internal/http/response"
)

// lockTTL bounds how long an admin sweep may hold its distributed lock
// before another process is allowed to assume it died mid-sweep.
const lockTTL = 2 * time.Minute

type resetStaleRequest struct {
	TimeoutMinutes int `json:"timeout_minutes"`
}

// ResetStale implements POST /admin/jobs/reset-stale.
func (s *Server) ResetStale(w http.ResponseWriter, r *http.Request) {
	req := resetStaleRequest{TimeoutMinutes: 30}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
	}
	if req.TimeoutMinutes < 1 {
		response.BadRequest(w, "timeout_minutes must be >= 1")
		return
	}

	token, acquired, err := s.lock.TryAcquire(r.Context(), "reset-stale", lockTTL)
	if err != nil {
		response.InternalError(w, r, err)
		return
	}
	if !acquired {
		response.OK(w, map[string]any{"reset": 0, "note": "sweep already in progress on another process"})
		return
	}
	defer s.lock.Release(r.Context(), "reset-stale", token)

	n, err := s.producer.ResetStale(r.Context(), time.Duration(req.TimeoutMinutes)*time.Minute)
	if err != nil {
		response.FromStoreError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"reset": n})
}

type cleanupRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

// Cleanup implements DELETE /admin/jobs/cleanup.
func (s *Server) Cleanup(w http.ResponseWriter, r *http.Request) {
	req := cleanupRequest{OlderThanDays: 7}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
	}
	if req.OlderThanDays < 1 {
		response.BadRequest(w, "older_than_days must be >= 1")
		return
	}

	token, acquired, err := s.lock.TryAcquire(r.Context(), "cleanup", lockTTL)
	if err != nil {
		response.InternalError(w, r, err)
		return
	}
	if !acquired {
		response.OK(w, map[string]any{"deleted": 0, "note": "sweep already in progress on another process"})
		return
	}
	defer s.lock.Release(r.Context(), "cleanup", token)

	n, err := s.producer.CleanupCompleted(r.Context(), time.Duration(req.OlderThanDays)*24*time.Hour)
	if err != nil {
		response.FromStoreError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"deleted": n})
}
