package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs a throwaway Postgres container and returns its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "dispatcher",
				"POSTGRES_PASSWORD": "dispatcher",
				"POSTGRES_DB":       "dispatcher",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://dispatcher:dispatcher@%s:%s/dispatcher?sslmode=disable", host, port.Port())
}

func TestPostgresBackend(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	// Migrations must be re-runnable against an up-to-date schema.
	pg, err := NewPostgres(ctx, dsn, Options{})
	require.NoError(t, err)
	require.NoError(t, pg.RunMigrations(ctx))
	require.NoError(t, pg.RunMigrations(ctx))
	require.NoError(t, pg.Close())

	runBackendSuite(t, func(t *testing.T, opts Options) Backend {
		b, err := NewPostgres(ctx, dsn, opts)
		require.NoError(t, err)
		_, err = b.pool.Exec(ctx, `TRUNCATE results, jobs, agents RESTART IDENTITY CASCADE`)
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}
