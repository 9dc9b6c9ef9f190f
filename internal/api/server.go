// Package api serves live aggregator state and stored runs over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/beadtrack/internal/httputil"
	"github.com/banshee-data/beadtrack/internal/monitoring"
	"github.com/banshee-data/beadtrack/internal/results"
	"github.com/banshee-data/beadtrack/internal/results/sqlite"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server exposes a live Manager, a results database, or both. Endpoints
// whose source is missing answer 404.
type Server struct {
	mgr   *results.Manager
	db    *sqlite.DB
	runID string
}

// NewServer creates a server. runID selects the stored run served by
// /api/beads when there is no live manager; empty means the latest run.
func NewServer(mgr *results.Manager, db *sqlite.DB, runID string) *Server {
	return &Server{mgr: mgr, db: db, runID: runID}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/counters", s.showCounters)
	mux.HandleFunc("/api/beads", s.listBeadPositions)
	mux.HandleFunc("/api/beads/remove", s.removeBead)
	mux.HandleFunc("/api/flush", s.flush)
	mux.HandleFunc("/api/runs", s.listRuns)
	return mux
}

// AttachAdminRoutes mounts the tsweb debug page on mux, with tailsql when
// a database is present.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	if s.mgr != nil {
		debug.HandleFunc("counters", "Aggregator frame counters", s.showCounters)
	}
	if s.db != nil {
		return s.db.AttachAdminRoutes(mux)
	}
	return nil
}

// CountersResponse is the body of /api/counters.
type CountersResponse struct {
	State          string                `json:"state"`
	Counters       results.FrameCounters `json:"counters"`
	BufferedFrames int                   `json:"buffered_frames"`
	QueueLength    *int                  `json:"queue_length,omitempty"`
	QueueMax       *int                  `json:"queue_max,omitempty"`
	QueueIdle      *bool                 `json:"queue_idle,omitempty"`
}

func (s *Server) showCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.mgr == nil {
		httputil.NotFound(w, "no live aggregator")
		return
	}
	resp := CountersResponse{
		State:          s.mgr.State().String(),
		Counters:       s.mgr.GetFrameCounters(),
		BufferedFrames: s.mgr.GetFrameCount(),
	}
	if q, ok := s.mgr.JobQueue(); ok {
		n, limit := q.QueueLength()
		idle := q.IsIdle()
		resp.QueueLength, resp.QueueMax, resp.QueueIdle = &n, &limit, &idle
	}
	httputil.WriteJSONOK(w, resp)
}

// BeadPoint is one entry of /api/beads. Missing coordinates are null.
type BeadPoint struct {
	Frame     int                `json:"frame"`
	Timestamp float64            `json:"timestamp"`
	X         httputil.JSONFloat `json:"x"`
	Y         httputil.JSONFloat `json:"y"`
	Z         httputil.JSONFloat `json:"z"`
	Clamped   bool               `json:"clamped,omitempty"`
}

func (s *Server) listBeadPositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	bead, err := httputil.QueryInt(r, "bead", 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	start, err := httputil.QueryInt(r, "start", 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	end, err := httputil.QueryInt(r, "end", int(^uint(0)>>1))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var points []BeadPoint
	switch {
	case s.mgr != nil:
		positions, err := s.mgr.GetBeadPositions(start, end, bead)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		points = make([]BeadPoint, 0, len(positions))
		for _, p := range positions {
			points = append(points, BeadPoint{
				Frame:     p.Frame,
				Timestamp: p.Timestamp,
				X:         httputil.JSONFloat(p.Pos.X),
				Y:         httputil.JSONFloat(p.Pos.Y),
				Z:         httputil.JSONFloat(p.Pos.Z),
				Clamped:   p.BoundaryHit,
			})
		}
	case s.db != nil:
		runID, err := s.resolveRun()
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		rows, err := s.db.BeadTrace(runID, bead, start, end)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to read bead %d: %v", bead, err))
			return
		}
		points = make([]BeadPoint, 0, len(rows))
		for _, row := range rows {
			p := row.Positions[0]
			points = append(points, BeadPoint{
				Frame:     row.Frame,
				Timestamp: row.Timestamp,
				X:         httputil.JSONFloat(p.X),
				Y:         httputil.JSONFloat(p.Y),
				Z:         httputil.JSONFloat(p.Z),
			})
		}
	default:
		httputil.NotFound(w, "no result source")
		return
	}
	httputil.WriteJSONOK(w, points)
}

func (s *Server) resolveRun() (string, error) {
	if s.runID != "" {
		return s.runID, nil
	}
	run, err := s.db.LatestRun()
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

func (s *Server) removeBead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.mgr == nil {
		httputil.NotFound(w, "no live aggregator")
		return
	}
	bead, err := httputil.QueryInt(r, "bead", -1)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if !s.mgr.RemoveBeadResults(bead) {
		httputil.BadRequest(w, fmt.Sprintf("bead %d out of range", bead))
		return
	}
	httputil.WriteJSONOK(w, map[string]int{"removed": bead})
}

func (s *Server) flush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.mgr == nil {
		httputil.NotFound(w, "no live aggregator")
		return
	}
	if err := s.mgr.Flush(); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("flush failed: %v", err))
		return
	}
	httputil.WriteJSONOK(w, s.mgr.GetFrameCounters())
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "no results database")
		return
	}
	runs, err := s.db.Runs()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []sqlite.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

// Start serves mux on addr until ctx is cancelled.
func Start(ctx context.Context, addr string, h http.Handler) error {
	server := &http.Server{
		Addr:    addr,
		Handler: h,
	}
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("HTTP server routine stopped")
	return nil
}
