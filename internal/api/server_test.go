package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/beadtrack/internal/results"
	"github.com/banshee-data/beadtrack/internal/results/sqlite"
	"github.com/banshee-data/beadtrack/internal/testutil"
	"github.com/banshee-data/beadtrack/internal/timeutil"
	"github.com/banshee-data/beadtrack/internal/track"
)

func storeFrames(t *testing.T, m *results.Manager, frames, beads int) {
	t.Helper()
	for f := 0; f < frames; f++ {
		for b := 0; b < beads; b++ {
			ok := m.StoreResult(track.LocalizationResult{
				Job: track.LocalizationJob{Frame: f, Bead: b, Timestamp: float64(f) / 10},
				Pos: track.Point3{X: float64(b), Y: float64(f), Z: 0.5},
			})
			require.True(t, ok)
		}
	}
}

func liveServer(t *testing.T) (*Server, *results.Manager) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.txt")
	m, err := results.Open(path, results.Config{NumBeads: 2, WriteInterval: 1000},
		results.WithClock(timeutil.NewManualClock(time.Unix(0, 0))))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return NewServer(m, nil, ""), m
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := testutil.NewTestRecorder()
	h.ServeHTTP(rec, testutil.NewTestRequest(method, target))
	return rec
}

func TestCounters(t *testing.T) {
	t.Parallel()

	s, m := liveServer(t)
	storeFrames(t, m, 3, 2)
	mux := s.ServeMux()

	rec := do(t, mux, http.MethodGet, "/api/counters")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var resp CountersResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "running", resp.State)
	assert.Equal(t, 6, resp.Counters.LocalizationsDone)
	assert.Equal(t, 3, resp.Counters.CapturedFrames)
	assert.Equal(t, 3, resp.BufferedFrames)
	assert.Nil(t, resp.QueueLength)

	rec = do(t, mux, http.MethodPost, "/api/counters")
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestBeads_Live(t *testing.T) {
	t.Parallel()

	s, m := liveServer(t)
	storeFrames(t, m, 5, 2)
	mux := s.ServeMux()

	rec := do(t, mux, http.MethodGet, "/api/beads?bead=1&start=1&end=4")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var points []BeadPoint
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&points))
	require.Len(t, points, 3)
	assert.Equal(t, 1, points[0].Frame)
	assert.Equal(t, 1.0, float64(points[0].X))
	assert.Equal(t, 3.0, float64(points[2].Y))

	rec = do(t, mux, http.MethodGet, "/api/beads?bead=9")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	rec = do(t, mux, http.MethodGet, "/api/beads?bead=x")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestRemoveAndFlush(t *testing.T) {
	t.Parallel()

	s, m := liveServer(t)
	storeFrames(t, m, 2, 2)
	mux := s.ServeMux()

	rec := do(t, mux, http.MethodGet, "/api/beads/remove?bead=1")
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
	rec = do(t, mux, http.MethodPost, "/api/beads/remove?bead=1")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.True(t, m.IsBeadRemoved(1))
	rec = do(t, mux, http.MethodPost, "/api/beads/remove?bead=5")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = do(t, mux, http.MethodPost, "/api/flush")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var c results.FrameCounters
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&c))
	assert.Equal(t, 2, c.LastSaveFrame)
}

func TestRuns_FromDatabase(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "r.db")
	m, store, err := sqlite.OpenManager(path, results.Config{NumBeads: 2},
		results.WithClock(timeutil.NewManualClock(time.Unix(0, 0))))
	require.NoError(t, err)
	storeFrames(t, m, 4, 2)
	require.NoError(t, m.Flush())
	runID := store.RunID()
	require.NoError(t, m.Close())

	db, err := sqlite.NewDB(path)
	require.NoError(t, err)
	defer db.Close()
	mux := NewServer(nil, db, "").ServeMux()

	rec := do(t, mux, http.MethodGet, "/api/runs")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var runs []sqlite.Run
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, 4, runs[0].Frames)

	rec = do(t, mux, http.MethodGet, "/api/beads?bead=0&start=2")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var points []BeadPoint
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&points))
	require.Len(t, points, 2)
	assert.Equal(t, 2, points[0].Frame)
	assert.Equal(t, 0.3, points[1].Timestamp)

	rec = do(t, mux, http.MethodGet, "/api/counters")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	rec = do(t, NewServer(nil, db, "missing").ServeMux(), http.MethodGet, "/api/beads")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestNoSource(t *testing.T) {
	t.Parallel()

	mux := NewServer(nil, nil, "").ServeMux()
	for _, target := range []string{"/api/beads", "/api/runs", "/api/counters"} {
		rec := do(t, mux, http.MethodGet, target)
		testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := do(t, h, http.MethodGet, "/x")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, statusCodeColor(404), "404")
}

func TestStart_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, "127.0.0.1:0", http.NewServeMux()) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
