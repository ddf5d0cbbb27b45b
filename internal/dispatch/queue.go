package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"scan-dispatcher/internal/logger"
	"scan-dispatcher/internal/models"
	"scan-dispatcher/internal/telemetry"
)

// Coordinator hands out work.
type Coordinator struct {
	jobs JobQueue
}

func NewCoordinator(jobs JobQueue) *Coordinator {
	return &Coordinator{jobs: jobs}
}

// ListAvailable returns the jobs still in state new. The result is never nil.
func (c *Coordinator) ListAvailable(ctx context.Context) ([]models.AvailableJob, error) {
	jobs, err := c.jobs.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list available jobs: %w", err)
	}
	if jobs == nil {
		jobs = []models.AvailableJob{}
	}
	return jobs, nil
}

// Assign claims the job named by rawJobID for agent. A nil detail with a nil
// error means there was nothing to assign.
func (c *Coordinator) Assign(ctx context.Context, agent models.AgentID, rawJobID string) (*models.JobDetail, error) {
	jobID, err := ParseJobID(rawJobID)
	if err != nil {
		return nil, err
	}
	detail, err := c.jobs.AssignExclusive(ctx, agent, jobID)
	if err != nil {
		return nil, fmt.Errorf("assign job %d: %w", jobID, err)
	}
	entry := logger.WithFields(logrus.Fields{"agent_id": agent, "job_id": jobID})
	if detail == nil {
		telemetry.AssignMisses.Inc()
		entry.Info("job not assignable")
		return nil, nil
	}
	telemetry.JobsAssigned.Inc()
	entry.Info("job assigned")
	return detail, nil
}

// ParseJobID accepts non-negative base 10 integers only.
func ParseJobID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw[0] == '+' || raw[0] == '-' {
		return 0, ErrInvalidJobID
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrInvalidJobID
	}
	return id, nil
}
