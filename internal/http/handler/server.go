// Package handler implements the producer HTTP surface: job CRUD,
// administrative sweeps, and health-count probes, all backed by
// queue.Producer. Adapted from a generated-OpenAPI ServerInterface shape
// to plain net/http handler methods since this surface has no
// schema-driven client generation step.
package handler

import (
	"github.com/imrahulmane/job-queue/internal/queue/adminlock"

	"github.com/imrahulmane/job-queue/internal/queue"
)

// Server implements the HTTP handlers for the producer API, backed by a
// Producer facade over the job store.
type Server struct {
	producer *queue.Producer
	lock     *adminlock.Locker
}

// NewServer builds a Server. lock may be nil, in which case admin sweeps
// run unlocked (adminlock.Locker's nil receiver already handles this).
func NewServer(producer *queue.Producer, lock *adminlock.Locker) *Server {
	return &Server{producer: producer, lock: lock}
}
