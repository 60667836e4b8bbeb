package models

import (
	"time"
)

// Job lifecycle states persisted in Postgres. PENDING jobs are created by
// the ingest API; every later transition is owned by the worker that
// leased the job.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// Job is one ingestion request, keyed by its caller-supplied idempotency
// key. The key is immutable once set and unique across all jobs.
type Job struct {
	ID             string     `json:"id"`
	IdempotencyKey string     `json:"idempotency_key"`
	ImageURI       string     `json:"image_uri"`
	Status         string     `json:"status"`
	ReceiptID      *string    `json:"receipt_id,omitempty"`
	Error          *string    `json:"error,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Terminal reports whether no further status transition is legal.
func Terminal(status string) bool {
	return status == StatusSucceeded || status == StatusFailed
}
