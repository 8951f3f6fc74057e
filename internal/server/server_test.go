// file: internal/server/server_test.go
// version: 2.1.0
// guid: c72911bf-08ed-4282-86ca-807434444bbd

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/video-autoprocessor/internal/catalog"
	"github.com/jdfalk/video-autoprocessor/internal/processor"
)

type fakeEngine struct{ status processor.Status }

func (f fakeEngine) Status() processor.Status { return f.status }

type fakeCatalog struct {
	records []catalog.Record
	err     error
}

func (f fakeCatalog) List() ([]catalog.Record, error) { return f.records, f.err }

func init() {
	gin.SetMode(gin.TestMode)
}

func runningStatus() processor.Status {
	return processor.Status{
		Running:      true,
		WatchDir:     "videos",
		WatcherAlive: true,
		Outstanding:  1,
		Limit:        2,
		Stats:        processor.Stats{Total: 4, Succeeded: 3, Failed: 1},
	}
}

func serve(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:5000"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	s := NewServer(fakeEngine{status: runningStatus()}, nil, nil, "1.0.0", zerolog.Nop())

	rec := serve(t, s, http.MethodGet, "/api/v1/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.0.0", body["version"])
}

func TestHealthCheckDegradedWhenWatcherDead(t *testing.T) {
	st := runningStatus()
	st.WatcherAlive = false
	s := NewServer(fakeEngine{status: st}, nil, nil, "1.0.0", zerolog.Nop())

	rec := serve(t, s, http.MethodGet, "/api/v1/health")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestStatus(t *testing.T) {
	s := NewServer(fakeEngine{status: runningStatus()}, nil, nil, "1.0.0", zerolog.Nop())

	rec := serve(t, s, http.MethodGet, "/api/v1/status")

	require.Equal(t, http.StatusOK, rec.Code)
	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Status.Stats.Succeeded)
	assert.Equal(t, 2, body.Status.Limit)
	assert.Equal(t, "videos", body.Status.WatchDir)
}

func TestListVideos(t *testing.T) {
	cat := fakeCatalog{records: []catalog.Record{{ID: "lecture_01", Title: "Lecture - Video 01"}}}
	s := NewServer(fakeEngine{status: runningStatus()}, cat, nil, "1.0.0", zerolog.Nop())

	rec := serve(t, s, http.MethodGet, "/api/v1/videos")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
	assert.Contains(t, rec.Body.String(), "lecture_01")
}

func TestListVideosErrors(t *testing.T) {
	s := NewServer(fakeEngine{}, nil, nil, "1.0.0", zerolog.Nop())
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, http.MethodGet, "/api/v1/videos").Code)

	s = NewServer(fakeEngine{}, fakeCatalog{err: errors.New("disk gone")}, nil, "1.0.0", zerolog.Nop())
	rec := serve(t, s, http.MethodGet, "/api/v1/videos")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "CATALOG_READ_FAILED")
}

func TestListVideosCorruptCatalogUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "videos.json")
	require.NoError(t, os.WriteFile(path, []byte("[{broken"), 0o644))
	store := catalog.New(path, catalog.MergePolicy{}, zerolog.Nop())
	s := NewServer(fakeEngine{status: runningStatus()}, store, nil, "1.0.0", zerolog.Nop())

	rec := serve(t, s, http.MethodGet, "/api/v1/videos")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "CATALOG_CORRUPT")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[{broken", string(data))
	_, err = os.Stat(store.BackupPath())
	assert.True(t, os.IsNotExist(err))
}

func TestStopInvokesCallback(t *testing.T) {
	var stopped atomic.Int32
	s := NewServer(fakeEngine{status: runningStatus()}, nil, func() { stopped.Add(1) }, "1.0.0", zerolog.Nop())

	rec := serve(t, s, http.MethodPost, "/api/v1/stop")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return stopped.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStopUnavailable(t *testing.T) {
	s := NewServer(fakeEngine{}, nil, nil, "1.0.0", zerolog.Nop())
	assert.Equal(t, http.StatusNotImplemented, serve(t, s, http.MethodPost, "/api/v1/stop").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := NewServer(fakeEngine{}, nil, nil, "1.0.0", zerolog.Nop())

	rec := serve(t, s, http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "video_autoprocessor_")
}

func TestClientAgainstServer(t *testing.T) {
	var stopped atomic.Int32
	s := NewServer(fakeEngine{status: runningStatus()}, nil, func() { stopped.Add(1) }, "1.2.3", zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	client := NewClient(strings.TrimPrefix(ts.URL, "http://"))
	st, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", st.Version)
	assert.True(t, st.Status.Running)

	msg, err := client.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "shutdown initiated", msg)
	require.Eventually(t, func() bool { return stopped.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestClientReportsAPIError(t *testing.T) {
	s := NewServer(fakeEngine{}, nil, nil, "1.0.0", zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	_, err := NewClient(ts.URL).Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop is not available")
}

func TestClientUnreachable(t *testing.T) {
	_, err := NewClient("127.0.0.1:1").Status(context.Background())
	assert.Error(t, err)
}

func TestStartAndShutdown(t *testing.T) {
	s := NewServer(fakeEngine{status: runningStatus()}, nil, nil, "1.0.0", zerolog.Nop())
	require.NoError(t, s.Start(DefaultServerConfig("127.0.0.1:0")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}

func TestStartBindError(t *testing.T) {
	s := NewServer(fakeEngine{}, nil, nil, "1.0.0", zerolog.Nop())
	assert.Error(t, s.Start(DefaultServerConfig("256.0.0.1:80")))
}

type fakeEvents struct{}

func (fakeEvents) HandleSSE(c *gin.Context) { c.String(http.StatusOK, "stream") }

func TestEventsRouteOnlyWhenEnabled(t *testing.T) {
	s := NewServer(fakeEngine{}, nil, nil, "1.0.0", zerolog.Nop())
	assert.Equal(t, http.StatusNotFound, serve(t, s, http.MethodGet, "/api/v1/events").Code)

	s.EnableEvents(fakeEvents{})
	rec := serve(t, s, http.MethodGet, "/api/v1/events")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stream", rec.Body.String())
}
