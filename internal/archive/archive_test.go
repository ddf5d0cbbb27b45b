package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scan-dispatcher/internal/config"
)

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
}

func TestLocalArchive(t *testing.T) {
	dir := t.TempDir()
	a := NewLocal(dir)
	a.now = fixedClock

	raw := []byte(`{"job_id":7,"execution_time":"3s"}`)
	require.NoError(t, a.Archive(context.Background(), 7, raw))

	got, err := os.ReadFile(filepath.Join(dir, "results", "7", "20240301T123000.000000000Z.json"))
	require.NoError(t, err)
	require.Equal(t, raw, got)
}

func TestLocalArchiveUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	a := NewLocal(blocker)
	err := a.Archive(context.Background(), 1, []byte(`{}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "archive job 1")
}

func TestNewRequiresDestination(t *testing.T) {
	require.False(t, Enabled(config.Config{}))
	_, err := New(context.Background(), config.Config{})
	require.Error(t, err)

	cfg := config.Config{ArchiveDir: t.TempDir()}
	require.True(t, Enabled(cfg))
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.IsType(t, &localUploader{}, a.up)
}

func TestS3Archive(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a, err := New(context.Background(), config.Config{
		ArchiveS3Bucket:    "scans",
		ArchiveS3Region:    "us-east-1",
		ArchiveS3Endpoint:  ts.URL,
		ArchiveS3PathStyle: true,
	})
	require.NoError(t, err)
	a.now = fixedClock

	raw := `{"job_id":9,"execution_time":"1s"}`
	require.NoError(t, a.Archive(context.Background(), 9, []byte(raw)))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, http.MethodPut, method)
	require.True(t, strings.HasPrefix(path, "/scans/results/9/"), path)
	require.Contains(t, body, raw)
}
