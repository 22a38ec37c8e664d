// Package queue implements the durable job-queue substrate: the job
// lifecycle, the retry/backoff policy, and the two dequeue modes (flag-based
// and transaction-held) that operate against a PostgreSQL job_queue table.
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a job row. Values outside the set below
// are a schema violation (see ParseStatus).
type Status string

const (
	StatusAvailable Status = "available"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDiscarded Status = "discarded"
	StatusCancelled Status = "cancelled"
)

// ParseStatus validates a raw status string read back from the database.
// StatusDiscarded and StatusCancelled are valid values but are never
// produced by this package; they are reserved for an administrative
// surface that isn't part of the core engine.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusAvailable, StatusRunning, StatusCompleted, StatusFailed, StatusDiscarded, StatusCancelled:
		return Status(s), nil
	default:
		return "", &ParseJobStatusError{Value: s}
	}
}

func (s Status) String() string { return string(s) }

// Job is a typed view of one job_queue row.
type Job struct {
	ID                    int64
	Queue                 string
	Target                string
	Status                Status
	Attempt               int
	MaxAttempts           int
	AttemptedBy           []string
	AttemptedAt           *time.Time
	LastAttemptFinishedAt *time.Time
	CreatedAt             time.Time
	ScheduledAt           time.Time
	Errors                []json.RawMessage
	Parameters            json.RawMessage
	Metadata              json.RawMessage
}

// NewJob describes a job to be enqueued. Enqueue takes it by value: once
// passed to Enqueue there is no pointer left behind for a caller to mutate
// and re-submit, which is this package's stand-in for the single-enqueue
// ownership rule described in the design (Go has no affine types).
type NewJob struct {
	Target      string
	MaxAttempts int
	Parameters  json.RawMessage
	Metadata    json.RawMessage
}

func (j NewJob) validate() error {
	if j.Target == "" {
		return fmt.Errorf("queue: NewJob.Target must not be empty")
	}
	if j.MaxAttempts <= 0 {
		return fmt.Errorf("queue: NewJob.MaxAttempts must be positive")
	}
	return nil
}
