package dispatch

import (
	"context"
	"errors"
	"sync"

	"scan-dispatcher/internal/models"
	"scan-dispatcher/internal/notify"
)

type fakeCreds struct {
	tokens map[string]models.AgentID
	err    error
	calls  int
}

func (f *fakeCreds) Authorize(_ context.Context, token string) (models.AgentID, bool, error) {
	f.calls++
	if f.err != nil {
		return 0, false, f.err
	}
	id, ok := f.tokens[token]
	return id, ok, nil
}

type fakeQueue struct {
	available []models.AvailableJob
	detail    *models.JobDetail
	err       error
	assigned  []int64
}

func (f *fakeQueue) ListAvailable(context.Context) ([]models.AvailableJob, error) {
	return f.available, f.err
}

func (f *fakeQueue) AssignExclusive(_ context.Context, _ models.AgentID, jobID int64) (*models.JobDetail, error) {
	f.assigned = append(f.assigned, jobID)
	return f.detail, f.err
}

type savedResult struct {
	agent  models.AgentID
	result models.Result
	status models.JobStatus
}

type fakeResults struct {
	saveErr    error
	details    models.NotifyDetails
	detailsErr error
	saved      []savedResult
}

func (f *fakeResults) SaveResult(_ context.Context, agent models.AgentID, res models.Result, status models.JobStatus) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, savedResult{agent: agent, result: res, status: status})
	return nil
}

func (f *fakeResults) JobNotifyDetails(context.Context, int64) (models.NotifyDetails, error) {
	return f.details, f.detailsErr
}

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []notify.Email
}

func (f *fakeSender) Send(_ context.Context, e notify.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, e)
	return f.err
}

type fakeArchiver struct {
	err  error
	jobs []int64
}

func (f *fakeArchiver) Archive(_ context.Context, jobID int64, _ []byte) error {
	f.jobs = append(f.jobs, jobID)
	return f.err
}

var errBoom = errors.New("boom")
