package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"scan-dispatcher/internal/models"
)

type backendFactory func(t *testing.T, opts Options) Backend

func strPtr(s string) *string { return &s }

// runBackendSuite exercises the behavior every backend must share.
func runBackendSuite(t *testing.T, newBackend backendFactory) {
	t.Run("authorize", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t, Options{})

		id, err := b.CreateAgent(ctx, "tok-a")
		require.NoError(t, err)

		got, ok, err := b.Authorize(ctx, "tok-a")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, id, got)

		_, ok, err = b.Authorize(ctx, "nope")
		require.NoError(t, err)
		require.False(t, ok)

		_, err = b.CreateAgent(ctx, "tok-a")
		require.Error(t, err)
	})

	t.Run("list available", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t, Options{})
		agent, err := b.CreateAgent(ctx, "tok")
		require.NoError(t, err)

		first, err := b.CreateJob(ctx, NewJobParams{FilesetScan: "/a", Rules: "rule A {}"})
		require.NoError(t, err)
		second, err := b.CreateJob(ctx, NewJobParams{FilesetScan: "/b", Rules: "rule B {}"})
		require.NoError(t, err)

		jobs, err := b.ListAvailable(ctx)
		require.NoError(t, err)
		require.Equal(t, []models.AvailableJob{{ID: first, FilesetScan: "/a"}, {ID: second, FilesetScan: "/b"}}, jobs)

		again, err := b.ListAvailable(ctx)
		require.NoError(t, err)
		require.Equal(t, jobs, again)

		_, err = b.AssignExclusive(ctx, agent, first)
		require.NoError(t, err)
		jobs, err = b.ListAvailable(ctx)
		require.NoError(t, err)
		require.Equal(t, []models.AvailableJob{{ID: second, FilesetScan: "/b"}}, jobs)
	})

	t.Run("list available empty", func(t *testing.T) {
		b := newBackend(t, Options{})
		jobs, err := b.ListAvailable(context.Background())
		require.NoError(t, err)
		require.NotNil(t, jobs)
		require.Empty(t, jobs)
	})

	t.Run("assign exclusive", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t, Options{})
		a1, err := b.CreateAgent(ctx, "one")
		require.NoError(t, err)
		a2, err := b.CreateAgent(ctx, "two")
		require.NoError(t, err)
		jobID, err := b.CreateJob(ctx, NewJobParams{FilesetScan: "/repo", Rules: "rule R1 {}"})
		require.NoError(t, err)

		detail, err := b.AssignExclusive(ctx, a1, jobID)
		require.NoError(t, err)
		require.Equal(t, &models.JobDetail{ID: jobID, FilesetScan: "/repo", Rules: "rule R1 {}"}, detail)

		detail, err = b.AssignExclusive(ctx, a2, jobID)
		require.NoError(t, err)
		require.Nil(t, detail)

		job, err := b.GetJob(ctx, jobID)
		require.NoError(t, err)
		require.Equal(t, models.StatusAssigned, job.Status)
		require.NotNil(t, job.AssignedAgent)
		require.Equal(t, a1, *job.AssignedAgent)

		detail, err = b.AssignExclusive(ctx, a1, jobID+1000)
		require.NoError(t, err)
		require.Nil(t, detail)
	})

	t.Run("concurrent assign has one winner", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t, Options{})
		jobID, err := b.CreateJob(ctx, NewJobParams{FilesetScan: "/race", Rules: "rule X {}"})
		require.NoError(t, err)

		const agents = 16
		ids := make([]models.AgentID, agents)
		for i := range ids {
			ids[i], err = b.CreateAgent(ctx, "racer-"+string(rune('a'+i)))
			require.NoError(t, err)
		}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []models.AgentID
			errs    []error
		)
		for _, agent := range ids {
			wg.Add(1)
			go func(agent models.AgentID) {
				defer wg.Done()
				detail, err := b.AssignExclusive(ctx, agent, jobID)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				if detail != nil {
					winners = append(winners, agent)
				}
			}(agent)
		}
		wg.Wait()

		require.Empty(t, errs)
		require.Len(t, winners, 1)
		job, err := b.GetJob(ctx, jobID)
		require.NoError(t, err)
		require.Equal(t, winners[0], *job.AssignedAgent)
	})

	t.Run("save result transitions once", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t, Options{})
		agent, err := b.CreateAgent(ctx, "tok")
		require.NoError(t, err)
		finished, err := b.CreateJob(ctx, NewJobParams{FilesetScan: "/f", Rules: "rule F {}"})
		require.NoError(t, err)
		failed, err := b.CreateJob(ctx, NewJobParams{FilesetScan: "/e", Rules: "rule E {}"})
		require.NoError(t, err)

		res := models.Result{JobID: finished, ExecutionTime: "3s", YaraResults: "match F", MD5Results: `["abc"]`}
		err = b.SaveResult(ctx, agent, res, models.StatusFinished)
		require.ErrorIs(t, err, models.ErrJobNotAssigned)
		job, err := b.GetJob(ctx, finished)
		require.NoError(t, err)
		require.Equal(t, models.StatusNew, job.Status)

		_, err = b.AssignExclusive(ctx, agent, finished)
		require.NoError(t, err)
		_, err = b.AssignExclusive(ctx, agent, failed)
		require.NoError(t, err)

		require.NoError(t, b.SaveResult(ctx, agent, res, res.Status()))
		job, err = b.GetJob(ctx, finished)
		require.NoError(t, err)
		require.Equal(t, models.StatusFinished, job.Status)

		err = b.SaveResult(ctx, agent, res, res.Status())
		require.ErrorIs(t, err, models.ErrJobNotAssigned)

		bad := models.Result{JobID: failed, ExecutionTime: "1s", YaraErrors: true}
		require.NoError(t, b.SaveResult(ctx, agent, bad, bad.Status()))
		job, err = b.GetJob(ctx, failed)
		require.NoError(t, err)
		require.Equal(t, models.StatusYaraErrors, job.Status)
	})

	t.Run("verify assignee", func(t *testing.T) {
		ctx := context.Background()
		for _, verify := range []bool{false, true} {
			b := newBackend(t, Options{VerifyAssignee: verify})
			owner, err := b.CreateAgent(ctx, "owner")
			require.NoError(t, err)
			other, err := b.CreateAgent(ctx, "other")
			require.NoError(t, err)
			jobID, err := b.CreateJob(ctx, NewJobParams{FilesetScan: "/v", Rules: "rule V {}"})
			require.NoError(t, err)
			_, err = b.AssignExclusive(ctx, owner, jobID)
			require.NoError(t, err)

			res := models.Result{JobID: jobID, ExecutionTime: "2s", YaraResults: "x"}
			err = b.SaveResult(ctx, other, res, res.Status())
			if verify {
				require.ErrorIs(t, err, models.ErrJobNotAssigned)
				require.NoError(t, b.SaveResult(ctx, owner, res, res.Status()))
			} else {
				require.NoError(t, err)
			}
		}
	})

	t.Run("notify details", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t, Options{})
		withMail, err := b.CreateJob(ctx, NewJobParams{FilesetScan: "/m", Rules: "rule M {}", NotifyEmail: strPtr("ops@example.com")})
		require.NoError(t, err)
		blank, err := b.CreateJob(ctx, NewJobParams{FilesetScan: "/n", Rules: "rule N {}", NotifyEmail: strPtr("")})
		require.NoError(t, err)

		d, err := b.JobNotifyDetails(ctx, withMail)
		require.NoError(t, err)
		require.NotNil(t, d.Email)
		require.Equal(t, "ops@example.com", *d.Email)
		require.Equal(t, "rule M {}", d.Rules)
		require.Equal(t, "/m", d.FilesetScan)

		d, err = b.JobNotifyDetails(ctx, blank)
		require.NoError(t, err)
		require.Nil(t, d.Email)

		_, err = b.JobNotifyDetails(ctx, blank+1000)
		require.ErrorIs(t, err, models.ErrJobNotFound)
		_, err = b.GetJob(ctx, blank+1000)
		require.ErrorIs(t, err, models.ErrJobNotFound)
	})
}

func TestMemoryBackend(t *testing.T) {
	runBackendSuite(t, func(t *testing.T, opts Options) Backend {
		b := NewMemory(opts)
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}
