// Package queue schedules localization jobs onto a pool of workers, each
// of which owns a private track.Engine.
package queue

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/banshee-data/beadtrack/internal/monitoring"
	"github.com/banshee-data/beadtrack/internal/track"
)

// ErrQueueClosed is returned by Schedule after Close.
var ErrQueueClosed = errors.New("job queue closed")

// JobQueue is the boundary between the localization workers and the
// result aggregator.
type JobQueue interface {
	// Schedule queues one ROI image for localization. The pixel buffer is
	// copied before Schedule returns.
	Schedule(pix []byte, pitch int, format track.PixelFormat, job track.LocalizationJob) error
	// PollFinished removes and returns up to max finished results in
	// completion order.
	PollFinished(max int) []track.LocalizationResult
	// QueueLength returns the number of unfinished jobs and the queue bound.
	QueueLength() (current, max int)
	// IsIdle reports whether every scheduled job has finished.
	IsIdle() bool
	// Flush blocks until every job scheduled so far has finished.
	Flush()
}

// Config configures a CPUQueue.
type Config struct {
	Tracker      track.Settings `json:"tracker" toml:"tracker"`
	NumThreads   int            `json:"num_threads" toml:"num_threads"`       // 0 = one per CPU
	MaxQueueSize int            `json:"max_queue_size" toml:"max_queue_size"` // 0 = 64 per thread
}

// WithDefaults fills in the worker count, queue bound and tracker defaults.
func (c Config) WithDefaults() Config {
	if c.NumThreads <= 0 {
		c.NumThreads = runtime.NumCPU()
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 64 * c.NumThreads
	}
	c.Tracker = c.Tracker.WithDefaults()
	return c
}

type queuedJob struct {
	pix    []byte
	pitch  int
	format track.PixelFormat
	job    track.LocalizationJob
}

type worker struct {
	mu     sync.Mutex // guards engine between jobs and ZLUT swaps
	engine *track.Engine
}

// CPUQueue is a JobQueue backed by goroutines.
type CPUQueue struct {
	cfg     Config
	jobs    chan queuedJob
	workers []*worker
	wg      sync.WaitGroup

	sendMu sync.RWMutex // held for reading while sending on jobs
	closed bool

	mu       sync.Mutex
	idle     *sync.Cond
	pending  int
	finished []track.LocalizationResult
	zlut     *track.ZLUT
}

var _ JobQueue = (*CPUQueue)(nil)

// NewCPUQueue validates cfg and starts the workers.
func NewCPUQueue(cfg Config) (*CPUQueue, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Tracker.Validate(); err != nil {
		return nil, fmt.Errorf("tracker settings: %w", err)
	}

	q := &CPUQueue{
		cfg:  cfg,
		jobs: make(chan queuedJob, cfg.MaxQueueSize),
	}
	q.idle = sync.NewCond(&q.mu)

	for i := 0; i < cfg.NumThreads; i++ {
		e, err := track.NewEngine(cfg.Tracker.Width, cfg.Tracker.Height, cfg.Tracker.XCor1DProfileLength)
		if err != nil {
			return nil, fmt.Errorf("worker %d engine: %w", i, err)
		}
		q.workers = append(q.workers, &worker{engine: e})
	}
	for _, w := range q.workers {
		q.wg.Add(1)
		go q.run(w)
	}
	monitoring.Logf("[queue] started %d workers for %dx%d ROIs, queue bound %d",
		cfg.NumThreads, cfg.Tracker.Width, cfg.Tracker.Height, cfg.MaxQueueSize)
	return q, nil
}

// Config returns the effective configuration.
func (q *CPUQueue) Config() Config { return q.cfg }

func (q *CPUQueue) run(w *worker) {
	defer q.wg.Done()
	for j := range q.jobs {
		w.mu.Lock()
		res, err := q.process(w.engine, j)
		w.mu.Unlock()
		if err != nil {
			// buffers are checked in Schedule, so this is unreachable in practice
			monitoring.Logf("[queue] frame %d bead %d: %v", j.job.Frame, j.job.Bead, err)
		}

		q.mu.Lock()
		if err == nil {
			q.finished = append(q.finished, res)
		}
		q.pending--
		if q.pending == 0 {
			q.idle.Broadcast()
		}
		q.mu.Unlock()
	}
}

func (q *CPUQueue) process(e *track.Engine, j queuedJob) (track.LocalizationResult, error) {
	if err := e.SetImage(j.pix, j.pitch, j.format); err != nil {
		return track.LocalizationResult{}, err
	}
	res := e.Localize(j.job, q.cfg.Tracker)
	monitoring.Debugf("[queue] frame %d bead %d -> (%.3f, %.3f, %.3f)",
		j.job.Frame, j.job.Bead, res.Pos.X, res.Pos.Y, res.Pos.Z)
	return res, nil
}

// Schedule implements JobQueue. It blocks while the queue is full.
func (q *CPUQueue) Schedule(pix []byte, pitch int, format track.PixelFormat, job track.LocalizationJob) error {
	if err := track.CheckRawImage(q.cfg.Tracker.Width, q.cfg.Tracker.Height, pix, pitch, format); err != nil {
		return err
	}
	if job.Mode&track.LocalizeZ != 0 {
		q.mu.Lock()
		z := q.zlut
		q.mu.Unlock()
		if z != nil && (job.Bead < 0 || job.Bead >= z.Count) {
			return fmt.Errorf("%w: bead %d has no ZLUT (%d beads)", track.ErrInvalidArgument, job.Bead, z.Count)
		}
	}

	q.sendMu.RLock()
	defer q.sendMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	q.mu.Lock()
	q.pending++
	q.mu.Unlock()

	q.jobs <- queuedJob{
		pix:    append([]byte(nil), pix...),
		pitch:  pitch,
		format: format,
		job:    job,
	}
	return nil
}

// ScheduleFloat queues a float64 image, stored as float32 pixels.
func (q *CPUQueue) ScheduleFloat(pix []float64, job track.LocalizationJob) error {
	return q.Schedule(track.EncodeFloat32(pix), 0, track.PixelFloat32, job)
}

// PollFinished implements JobQueue.
func (q *CPUQueue) PollFinished(max int) []track.LocalizationResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.finished)
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]track.LocalizationResult, n)
	copy(out, q.finished)
	q.finished = append(q.finished[:0], q.finished[n:]...)
	return out
}

// ResultCount returns the number of finished results waiting to be polled.
func (q *CPUQueue) ResultCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.finished)
}

// QueueLength implements JobQueue.
func (q *CPUQueue) QueueLength() (current, max int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending, q.cfg.MaxQueueSize
}

// IsIdle implements JobQueue.
func (q *CPUQueue) IsIdle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending == 0
}

// Flush implements JobQueue.
func (q *CPUQueue) Flush() {
	q.mu.Lock()
	for q.pending > 0 {
		q.idle.Wait()
	}
	q.mu.Unlock()
}

// SetZLUT installs a calibration stack on every worker engine. Jobs already
// running finish with the previous table.
func (q *CPUQueue) SetZLUT(z *track.ZLUT) {
	q.mu.Lock()
	q.zlut = z
	q.mu.Unlock()
	for _, w := range q.workers {
		w.mu.Lock()
		w.engine.SetZLUT(z)
		w.mu.Unlock()
	}
}

// ZLUT returns the installed calibration stack, if any.
func (q *CPUQueue) ZLUT() (*track.ZLUT, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.zlut, q.zlut != nil
}

// Close stops accepting jobs, lets the workers drain the queue and waits
// for them. Finished results remain available to PollFinished.
func (q *CPUQueue) Close() {
	q.sendMu.Lock()
	if q.closed {
		q.sendMu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.sendMu.Unlock()
	q.wg.Wait()
	monitoring.Logf("[queue] stopped")
}
