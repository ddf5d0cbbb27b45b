package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"scan-dispatcher/internal/models"
)

// Redis keeps agents, jobs and results in Redis. Every state transition runs
// as a Lua script, which Redis executes atomically.
type Redis struct {
	client       *redis.Client
	opts         Options
	newJobsKey   string
	jobPrefix    string
	resultPrefix string
	tokenPrefix  string
	agentSeqKey  string
	jobSeqKey    string
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, opts Options) *Redis {
	return &Redis{
		client:       client,
		opts:         opts,
		newJobsKey:   "jobs:new",
		jobPrefix:    "job:",
		resultPrefix: "result:",
		tokenPrefix:  "agent:token:",
		agentSeqKey:  "seq:agent",
		jobSeqKey:    "seq:job",
	}
}

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) jobKey(id int64) string {
	return r.jobPrefix + strconv.FormatInt(id, 10)
}

func (r *Redis) resultKey(id int64) string {
	return r.resultPrefix + strconv.FormatInt(id, 10)
}

func (r *Redis) Authorize(ctx context.Context, token string) (models.AgentID, bool, error) {
	v, err := r.client.Get(ctx, r.tokenPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup token: %w", err)
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt agent id %q: %w", v, err)
	}
	return models.AgentID(id), true, nil
}

func (r *Redis) CreateAgent(ctx context.Context, token string) (models.AgentID, error) {
	if token == "" {
		return 0, errors.New("token is required")
	}
	id, err := r.client.Incr(ctx, r.agentSeqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate agent id: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.tokenPrefix+token, id, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("store token: %w", err)
	}
	if !ok {
		return 0, errors.New("token already registered")
	}
	return models.AgentID(id), nil
}

func (r *Redis) CreateJob(ctx context.Context, p NewJobParams) (int64, error) {
	id, err := r.client.Incr(ctx, r.jobSeqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate job id: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	fields := map[string]any{
		"fileset_scan": p.FilesetScan,
		"rules":        p.Rules,
		"status":       string(models.StatusNew),
		"created_at":   now,
		"updated_at":   now,
	}
	if email := emptyToNil(p.NotifyEmail); email != nil {
		fields["notify_email"] = *email
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.jobKey(id), fields)
	pipe.ZAdd(ctx, r.newJobsKey, redis.Z{Score: float64(id), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

func (r *Redis) GetJob(ctx context.Context, id int64) (models.Job, error) {
	h, err := r.client.HGetAll(ctx, r.jobKey(id)).Result()
	if err != nil {
		return models.Job{}, fmt.Errorf("read job: %w", err)
	}
	if len(h) == 0 {
		return models.Job{}, models.ErrJobNotFound
	}
	job := models.Job{
		ID:          id,
		FilesetScan: h["fileset_scan"],
		Rules:       h["rules"],
		Status:      models.JobStatus(h["status"]),
	}
	if v, ok := h["notify_email"]; ok && v != "" {
		job.NotifyEmail = &v
	}
	if v, ok := h["assigned_agent"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			agent := models.AgentID(n)
			job.AssignedAgent = &agent
		}
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, h["created_at"])
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, h["updated_at"])
	return job, nil
}

// ListAvailable reads the new-jobs set. The set is only an index; the job hash
// status is checked again so a half-applied write never leaks a claimed job.
func (r *Redis) ListAvailable(ctx context.Context) ([]models.AvailableJob, error) {
	ids, err := r.client.ZRange(ctx, r.newJobsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list new jobs: %w", err)
	}
	out := make([]models.AvailableJob, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.SliceCmd, 0, len(ids))
	parsed := make([]int64, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		parsed = append(parsed, id)
		cmds = append(cmds, pipe.HMGet(ctx, r.jobKey(id), "fileset_scan", "status"))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read new jobs: %w", err)
	}
	for i, c := range cmds {
		vals := c.Val()
		if len(vals) != 2 {
			continue
		}
		status, _ := vals[1].(string)
		if status != string(models.StatusNew) {
			continue
		}
		fileset, _ := vals[0].(string)
		out = append(out, models.AvailableJob{ID: parsed[i], FilesetScan: fileset})
	}
	return out, nil
}

func (r *Redis) AssignExclusive(ctx context.Context, agent models.AgentID, jobID int64) (*models.JobDetail, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := assignScript.Run(ctx, r.client, []string{r.jobKey(jobID), r.newJobsKey}, int64(agent), now, jobID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("assign job: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return nil, fmt.Errorf("unexpected type from assign script: %T", res)
	}
	fileset, _ := arr[0].(string)
	rules, _ := arr[1].(string)
	return &models.JobDetail{ID: jobID, FilesetScan: fileset, Rules: rules}, nil
}

func (r *Redis) SaveResult(ctx context.Context, agent models.AgentID, res models.Result, status models.JobStatus) error {
	verify := "0"
	if r.opts.VerifyAssignee {
		verify = "1"
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	n, err := saveScript.Run(ctx, r.client,
		[]string{r.jobKey(res.JobID), r.resultKey(res.JobID)},
		string(status), int64(agent), verify, now,
		string(res.ExecutionTime), res.YaraResults, res.MD5Results, strconv.FormatBool(res.YaraErrors),
	).Int()
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	if n == 0 {
		return models.ErrJobNotAssigned
	}
	return nil
}

func (r *Redis) JobNotifyDetails(ctx context.Context, jobID int64) (models.NotifyDetails, error) {
	job, err := r.GetJob(ctx, jobID)
	if err != nil {
		return models.NotifyDetails{}, err
	}
	return models.NotifyDetails{Email: job.NotifyEmail, Rules: job.Rules, FilesetScan: job.FilesetScan}, nil
}

var assignScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'new' then
  return nil
end
redis.call('HSET', KEYS[1], 'status', 'assigned', 'assigned_agent', ARGV[1], 'updated_at', ARGV[2])
redis.call('ZREM', KEYS[2], ARGV[3])
return redis.call('HMGET', KEYS[1], 'fileset_scan', 'rules')
`)

var saveScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'assigned' then
  return 0
end
if ARGV[3] == '1' and redis.call('HGET', KEYS[1], 'assigned_agent') ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'updated_at', ARGV[4])
redis.call('HSET', KEYS[2], 'agent_id', ARGV[2], 'execution_time', ARGV[5], 'yara_results', ARGV[6],
  'md5_results', ARGV[7], 'yara_errors', ARGV[8], 'created_at', ARGV[4])
return 1
`)
