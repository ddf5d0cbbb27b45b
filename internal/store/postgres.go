package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"scan-dispatcher/internal/models"
)

// Postgres wraps pgxpool for Postgres persistence.
type Postgres struct {
	pool *pgxpool.Pool
	opts Options
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string, opts Options) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool, opts: opts}, nil
}

func (s *Postgres) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Postgres) Authorize(ctx context.Context, token string) (models.AgentID, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM agents WHERE token = $1`, token).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query agent: %w", err)
	}
	return models.AgentID(id), true, nil
}

func (s *Postgres) CreateAgent(ctx context.Context, token string) (models.AgentID, error) {
	if token == "" {
		return 0, errors.New("token is required")
	}
	var id int64
	if err := s.pool.QueryRow(ctx, `
		INSERT INTO agents (token) VALUES ($1) RETURNING id
	`, token).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert agent: %w", err)
	}
	return models.AgentID(id), nil
}

func (s *Postgres) CreateJob(ctx context.Context, p NewJobParams) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (fileset_scan, rules, status, notify_email)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, p.FilesetScan, p.Rules, models.StatusNew, emptyToNil(p.NotifyEmail)).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

// GetJob fetches a job by id.
func (s *Postgres) GetJob(ctx context.Context, id int64) (models.Job, error) {
	var job models.Job
	var status string
	var assigned *int64
	err := s.pool.QueryRow(ctx, `
		SELECT id, fileset_scan, rules, status, notify_email, assigned_agent, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id).Scan(&job.ID, &job.FilesetScan, &job.Rules, &status, &job.NotifyEmail, &assigned, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, models.ErrJobNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.Status = models.JobStatus(status)
	if assigned != nil {
		agent := models.AgentID(*assigned)
		job.AssignedAgent = &agent
	}
	return job, nil
}

func (s *Postgres) ListAvailable(ctx context.Context) ([]models.AvailableJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, fileset_scan FROM jobs WHERE status = $1 ORDER BY id
	`, models.StatusNew)
	if err != nil {
		return nil, fmt.Errorf("query available jobs: %w", err)
	}
	defer rows.Close()

	out := make([]models.AvailableJob, 0)
	for rows.Next() {
		var j models.AvailableJob
		if err := rows.Scan(&j.ID, &j.FilesetScan); err != nil {
			return nil, fmt.Errorf("scan available job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// AssignExclusive claims the job with a single conditional UPDATE; concurrent
// callers racing on the same row see zero rows once the first one commits.
func (s *Postgres) AssignExclusive(ctx context.Context, agent models.AgentID, jobID int64) (*models.JobDetail, error) {
	var d models.JobDetail
	err := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = $3, assigned_agent = $2, updated_at = NOW()
		WHERE id = $1 AND status = $4
		RETURNING id, fileset_scan, rules
	`, jobID, int64(agent), models.StatusAssigned, models.StatusNew).Scan(&d.ID, &d.FilesetScan, &d.Rules)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("assign job: %w", err)
	}
	return &d, nil
}

// SaveResult records the result and moves the job to its terminal status atomically.
func (s *Postgres) SaveResult(ctx context.Context, agent models.AgentID, res models.Result, status models.JobStatus) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var owner *int64
	if s.opts.VerifyAssignee {
		a := int64(agent)
		owner = &a
	}
	tag, err := tx.Exec(ctx, `
		UPDATE jobs
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3 AND ($4::bigint IS NULL OR assigned_agent = $4)
	`, res.JobID, status, models.StatusAssigned, owner)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrJobNotAssigned
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO results (job_id, agent_id, execution_time, yara_results, md5_results, yara_errors)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, res.JobID, int64(agent), string(res.ExecutionTime), res.YaraResults, res.MD5Results, res.YaraErrors); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Postgres) JobNotifyDetails(ctx context.Context, jobID int64) (models.NotifyDetails, error) {
	var d models.NotifyDetails
	err := s.pool.QueryRow(ctx, `
		SELECT notify_email, rules, fileset_scan FROM jobs WHERE id = $1
	`, jobID).Scan(&d.Email, &d.Rules, &d.FilesetScan)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NotifyDetails{}, models.ErrJobNotFound
	}
	if err != nil {
		return models.NotifyDetails{}, fmt.Errorf("query notify details: %w", err)
	}
	return d, nil
}
