package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"scan-dispatcher/internal/models"
)

type memoryResult struct {
	agent  models.AgentID
	result models.Result
}

// Memory is an in-process Backend. Its mutex provides the same conditional
// update guarantees the shared backends get from the database, but only
// within one dispatcher process.
type Memory struct {
	mu        sync.Mutex
	opts      Options
	agents    map[string]models.AgentID
	nextAgent models.AgentID
	jobs      map[int64]*models.Job
	nextJob   int64
	results   map[int64][]memoryResult
}

func NewMemory(opts Options) *Memory {
	return &Memory{
		opts:    opts,
		agents:  make(map[string]models.AgentID),
		jobs:    make(map[int64]*models.Job),
		results: make(map[int64][]memoryResult),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Authorize(_ context.Context, token string) (models.AgentID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.agents[token]
	return id, ok, nil
}

func (m *Memory) CreateAgent(_ context.Context, token string) (models.AgentID, error) {
	if token == "" {
		return 0, errors.New("token is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[token]; ok {
		return 0, errors.New("token already registered")
	}
	m.nextAgent++
	m.agents[token] = m.nextAgent
	return m.nextAgent, nil
}

func (m *Memory) CreateJob(_ context.Context, p NewJobParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextJob++
	now := time.Now().UTC()
	m.jobs[m.nextJob] = &models.Job{
		ID:          m.nextJob,
		FilesetScan: p.FilesetScan,
		Rules:       p.Rules,
		Status:      models.StatusNew,
		NotifyEmail: emptyToNil(p.NotifyEmail),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return m.nextJob, nil
}

func (m *Memory) GetJob(_ context.Context, id int64) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, models.ErrJobNotFound
	}
	return *job, nil
}

func (m *Memory) ListAvailable(_ context.Context) ([]models.AvailableJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AvailableJob, 0)
	for _, job := range m.jobs {
		if job.Status == models.StatusNew {
			out = append(out, models.AvailableJob{ID: job.ID, FilesetScan: job.FilesetScan})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AssignExclusive(_ context.Context, agent models.AgentID, jobID int64) (*models.JobDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != models.StatusNew {
		return nil, nil
	}
	job.Status = models.StatusAssigned
	job.AssignedAgent = &agent
	job.UpdatedAt = time.Now().UTC()
	return &models.JobDetail{ID: job.ID, FilesetScan: job.FilesetScan, Rules: job.Rules}, nil
}

func (m *Memory) SaveResult(_ context.Context, agent models.AgentID, res models.Result, status models.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[res.JobID]
	if !ok || job.Status != models.StatusAssigned {
		return models.ErrJobNotAssigned
	}
	if m.opts.VerifyAssignee && (job.AssignedAgent == nil || *job.AssignedAgent != agent) {
		return models.ErrJobNotAssigned
	}
	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	m.results[res.JobID] = append(m.results[res.JobID], memoryResult{agent: agent, result: res})
	return nil
}

func (m *Memory) JobNotifyDetails(_ context.Context, jobID int64) (models.NotifyDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return models.NotifyDetails{}, models.ErrJobNotFound
	}
	return models.NotifyDetails{Email: job.NotifyEmail, Rules: job.Rules, FilesetScan: job.FilesetScan}, nil
}
