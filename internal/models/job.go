package models

import (
	"fmt"
	"time"
)

type JobState string

const (
	JobStateFinished  JobState = "finished"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

func ParseJobState(s string) (JobState, error) {
	switch s {
	case "finished":
		return JobStateFinished, nil
	case "failed":
		return JobStateFailed, nil
	case "cancelled":
		return JobStateCancelled, nil
	default:
		return "", fmt.Errorf("invalid job state: %s", s)
	}
}

// JobRecord is the history entry of a job that reached a terminal state.
type JobRecord struct {
	ID          string
	Kind        string
	State       JobState
	Error       string
	DocumentURI string
	Priority    string
	StartedAt   time.Time
	FinishedAt  time.Time
	CreatedAt   time.Time
}

// Duration is zero for jobs that never started.
func (r JobRecord) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
