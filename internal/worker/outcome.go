package worker

import (
	"context"
	"time"

	"github.com/JakeFAU/snapshotter/internal/sink"
)

// OutcomeStatus is the terminal state of one external task.
type OutcomeStatus string

// Outcome statuses.
const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// Outcome describes how one external task ended.
type Outcome struct {
	ID                string          `json:"id"`
	EngineTaskID      string          `json:"engine_task_id"`
	ProcessInstanceID string          `json:"process_instance_id,omitempty"`
	JobID             string          `json:"job_id,omitempty"`
	TargetURL         string          `json:"target_url,omitempty"`
	Status            OutcomeStatus   `json:"status"`
	Error             string          `json:"error,omitempty"`
	Artifacts         []sink.Artifact `json:"artifacts,omitempty"`
	StartedAt         time.Time       `json:"started_at"`
	FinishedAt        time.Time       `json:"finished_at"`
}

// OutcomeRecorder persists task outcomes for audit.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome Outcome) error
}

// Publisher announces task outcomes to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator creates outcome IDs.
type IDGenerator interface {
	NewID() (string, error)
}
