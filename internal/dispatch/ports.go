// Package dispatch holds the job dispatch protocol: agent authentication,
// exclusive job assignment and result ingestion.
//
// All job state lives in the store collaborator. Assignment and the
// assigned -> terminal transition are conditional updates executed by the
// store, so any number of dispatcher processes can share one store without
// in-process locking.
package dispatch

import (
	"context"

	"scan-dispatcher/internal/models"
)

// Credentials resolves agent tokens.
type Credentials interface {
	// Authorize returns the agent owning token; ok is false for unknown tokens.
	Authorize(ctx context.Context, token string) (agent models.AgentID, ok bool, err error)
}

// JobQueue lists and claims jobs.
type JobQueue interface {
	// ListAvailable returns every job in state new, ordered by id.
	ListAvailable(ctx context.Context) ([]models.AvailableJob, error)

	// AssignExclusive moves jobID from new to assigned for agent as one atomic
	// conditional update. It returns nil when the job is unknown or was not new.
	AssignExclusive(ctx context.Context, agent models.AgentID, jobID int64) (*models.JobDetail, error)
}

// ResultStore persists results and exposes notification details.
type ResultStore interface {
	// SaveResult stores res and moves the job from assigned to status in one
	// transaction. It returns models.ErrJobNotAssigned when the job is not
	// currently assigned.
	SaveResult(ctx context.Context, agent models.AgentID, res models.Result, status models.JobStatus) error

	JobNotifyDetails(ctx context.Context, jobID int64) (models.NotifyDetails, error)
}

// Store is the full collaborator a dispatcher runs against.
type Store interface {
	Credentials
	JobQueue
	ResultStore
}

// Archiver keeps a copy of accepted raw submissions.
type Archiver interface {
	Archive(ctx context.Context, jobID int64, raw []byte) error
}
