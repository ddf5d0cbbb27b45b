package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"scan-dispatcher/internal/config"
	"scan-dispatcher/internal/dispatch"
	"scan-dispatcher/internal/models"
)

// BackendMemory keeps state in process; only useful for development and tests.
const BackendMemory = "memory"

// Options tune behavior shared by every backend.
type Options struct {
	// VerifyAssignee makes SaveResult require the submitting agent to be the
	// one the job was assigned to.
	VerifyAssignee bool
}

// NewJobParams collects inputs required to insert a job.
type NewJobParams struct {
	FilesetScan string
	Rules       string
	NotifyEmail *string
}

// Backend is a dispatch store plus the administrative operations used to seed it.
type Backend interface {
	dispatch.Store
	CreateAgent(ctx context.Context, token string) (models.AgentID, error)
	CreateJob(ctx context.Context, p NewJobParams) (int64, error)
	GetJob(ctx context.Context, id int64) (models.Job, error)
	Close() error
}

// Open connects the backend selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg config.Config) (Backend, error) {
	opts := Options{VerifyAssignee: cfg.VerifyAssignee}
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pg, err := NewPostgres(ctx, cfg.PostgresDSN, opts)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return NewRedis(client, opts), nil
	case BackendMemory:
		return NewMemory(opts), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func emptyToNil(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}
	return v
}
