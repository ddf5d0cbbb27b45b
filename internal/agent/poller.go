package agent

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"scan-dispatcher/internal/config"
	"scan-dispatcher/internal/logger"
	"scan-dispatcher/internal/models"
)

// Executor runs one claimed job. JobID and an empty ExecutionTime on the
// returned result are filled in by the poller.
type Executor interface {
	Execute(ctx context.Context, job models.JobDetail) (models.Result, error)
}

// Poller drives the agent loop: fetch, claim, execute, submit.
type Poller struct {
	client         *Client
	exec           Executor
	interval       time.Duration
	backoffInitial time.Duration
	backoffMax     time.Duration
	failures       int
}

func NewPoller(client *Client, exec Executor, cfg config.Config) *Poller {
	return &Poller{
		client:         client,
		exec:           exec,
		interval:       cfg.AgentPollInterval,
		backoffInitial: cfg.BackoffInitial,
		backoffMax:     cfg.BackoffMax,
	}
}

// Run loops until ctx is canceled or the dispatcher rejects the token.
// Other dispatcher errors back off exponentially; an idle round waits one
// poll interval.
func (p *Poller) Run(ctx context.Context) error {
	for {
		worked, err := p.RunOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if IsUnauthorized(err) {
			logger.Errorf("dispatcher rejected agent token, stopping: %v", err)
			return err
		}

		wait := p.interval
		switch {
		case err != nil:
			p.failures++
			wait = backoffWithJitter(p.backoffInitial, p.backoffMax, p.failures)
			logger.WithFields(logrus.Fields{"failures": p.failures, "retry_in": wait.String()}).
				WithError(err).Warn("poll round failed")
		case worked:
			p.failures = 0
			wait = 0
		default:
			p.failures = 0
		}
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce claims the first job it can win and runs it. It reports whether a
// job was processed.
func (p *Poller) RunOnce(ctx context.Context) (bool, error) {
	jobs, err := p.client.FetchAvailable(ctx)
	if err != nil {
		return false, err
	}
	for _, j := range jobs {
		detail, err := p.client.Assign(ctx, j.ID)
		if err != nil {
			return false, err
		}
		if detail == nil {
			continue
		}
		return true, p.process(ctx, *detail)
	}
	return false, nil
}

func (p *Poller) process(ctx context.Context, job models.JobDetail) error {
	entry := logger.WithFields(logrus.Fields{"job_id": job.ID, "fileset_scan": job.FilesetScan})
	entry.Info("running job")

	start := time.Now()
	res, err := p.exec.Execute(ctx, job)
	if err != nil {
		// The job stays assigned forever unless something is submitted.
		entry.WithError(err).Warn("executor failed, reporting yara errors")
		res = models.Result{YaraResults: err.Error(), YaraErrors: true}
	}
	res.JobID = job.ID
	if res.ExecutionTime == "" {
		res.ExecutionTime = models.ExecutionTime(time.Since(start).Round(time.Millisecond).String())
	}
	if err := p.client.SaveResults(ctx, res); err != nil {
		return err
	}
	entry.WithField("yara_errors", res.YaraErrors).Info("job results submitted")
	return nil
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := max
	if exp < float64(max) {
		wait = time.Duration(exp)
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
