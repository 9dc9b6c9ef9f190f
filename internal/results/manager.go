package results

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/beadtrack/internal/monitoring"
	"github.com/banshee-data/beadtrack/internal/queue"
	"github.com/banshee-data/beadtrack/internal/timeutil"
	"github.com/banshee-data/beadtrack/internal/track"
)

// State is the lifecycle state of a Manager.
type State int32

const (
	StateRunning State = iota
	StateFlushing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFlushing:
		return "flushing"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// pollBatch is the number of finished jobs taken from the queue per poll.
const pollBatch = 40

// DefaultPollInterval is the background loop period.
const DefaultPollInterval = 10 * time.Millisecond

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock driving the background loop.
func WithClock(c timeutil.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithPollInterval sets the background loop period.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithJobQueue attaches a job queue whose finished results are polled by
// the background loop.
func WithJobQueue(q queue.JobQueue) Option {
	return func(m *Manager) { m.jobQueue = q }
}

// frameSpan is an evicted frame waiting to be written. When skip is
// positive it stands for skip frames from row.Frame on that never held
// data; they are expanded to empty rows outside mu.
type frameSpan struct {
	row  Row
	skip int
}

// Manager collects localization results into frame buckets, bounds the
// number of buckets held in memory and writes finished frames in order.
//
// A background goroutine polls the attached job queue and writes rows;
// Store* calls only touch memory.
type Manager struct {
	cfg          Config
	w            Writer
	clock        timeutil.Clock
	pollInterval time.Duration

	mu       sync.Mutex
	buckets  []*FrameResult // frames StartFrame .. CapturedFrames-1
	pending  []frameSpan    // evicted frames LastSaveFrame .. StartFrame-1, not yet written
	removed  []bool
	counters FrameCounters
	state    State

	writeMu sync.Mutex // serialises writer calls, never held with mu during I/O

	queueMu  sync.Mutex
	jobQueue queue.JobQueue

	flushReq chan chan error
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// Open creates the output file for cfg.Format at path and starts a
// Manager writing to it.
func Open(path string, cfg Config, opts ...Option) (*Manager, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w, err := OpenWriter(path, cfg)
	if err != nil {
		return nil, err
	}
	m, err := NewManager(cfg, w, opts...)
	if err != nil {
		w.Close()
		return nil, err
	}
	return m, nil
}

// NewManager starts a Manager writing to w. The Manager owns w and closes
// it in Close.
func NewManager(cfg Config, w Writer, opts ...Option) (*Manager, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("%w: nil writer", ErrInvalidArgument)
	}
	m := &Manager{
		cfg:          cfg,
		w:            w,
		clock:        timeutil.RealClock{},
		pollInterval: DefaultPollInterval,
		removed:      make([]bool, cfg.NumBeads),
		flushReq:     make(chan chan error),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.run()
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) run() {
	defer close(m.done)
	ticker := m.clock.NewTicker(m.pollInterval)
	defer ticker.Stop()

	monitoring.Logf("[results] manager started: %d beads, format %v, write interval %d, memory bound %d",
		m.cfg.NumBeads, m.cfg.Format, m.cfg.WriteInterval, m.cfg.MaxFramesInMemory)

	for {
		select {
		case <-m.quit:
			m.update()
			m.setState(StateStopped)
			return
		case reply := <-m.flushReq:
			m.setState(StateFlushing)
			reply <- m.flushAll()
			m.setState(StateRunning)
		case <-ticker.C():
			m.update()
		}
	}
}

// update pulls finished jobs from the queue and writes whatever the write
// interval allows.
func (m *Manager) update() {
	m.pollQueue()
	if err := m.writeFrames(false); err != nil {
		monitoring.Logf("[results] write failed: %v", err)
	}
}

func (m *Manager) pollQueue() {
	m.queueMu.Lock()
	q := m.jobQueue
	m.queueMu.Unlock()
	if q == nil {
		return
	}
	for {
		batch := q.PollFinished(pollBatch)
		for _, r := range batch {
			m.StoreResult(r)
		}
		if len(batch) < pollBatch {
			return
		}
	}
}

func (m *Manager) flushAll() error {
	m.pollQueue()
	if err := m.writeFrames(true); err != nil {
		monitoring.Logf("[results] flush failed: %v", err)
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := m.w.Sync(); err != nil {
		m.setFileError()
		monitoring.Logf("[results] sync failed: %v", err)
		return fmt.Errorf("sync results: %w", err)
	}
	return nil
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) setFileError() {
	m.mu.Lock()
	m.counters.FileError = true
	m.mu.Unlock()
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetJobQueue attaches q, replacing any previous queue. nil detaches.
func (m *Manager) SetJobQueue(q queue.JobQueue) {
	m.queueMu.Lock()
	m.jobQueue = q
	m.queueMu.Unlock()
}

// JobQueue returns the attached job queue, if any.
func (m *Manager) JobQueue() (queue.JobQueue, bool) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	return m.jobQueue, m.jobQueue != nil
}

// StoreResult puts r into the bucket of its frame. Results for frames
// that were already written, and second results for a filled slot, are
// dropped and counted. It reports whether the result was kept.
func (m *Manager) StoreResult(r track.LocalizationResult) bool {
	bead := r.Bead()
	if bead < 0 || bead >= m.cfg.NumBeads || r.Frame() < 0 {
		monitoring.Logf("[results] dropping result for bead %d frame %d: out of range", bead, r.Frame())
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.LocalizationsDone++

	fr := m.bucketLocked(r.Frame())
	if fr == nil || fr.saved || fr.Filled[bead] {
		m.counters.DroppedResults++
		monitoring.Debugf("[results] late or duplicate result for bead %d frame %d", bead, r.Frame())
		return false
	}
	fr.Results[bead] = r
	fr.Filled[bead] = true
	if !fr.HasFrameInfo && fr.Count == 0 {
		fr.Timestamp = r.Timestamp()
	}
	if !m.removed[bead] {
		fr.Count++
	}
	m.advanceLocked()
	return true
}

// StoreFrameInfo attaches the timestamp and auxiliary columns of a frame.
func (m *Manager) StoreFrameInfo(frame int, timestamp float64, columns []float32) error {
	if frame < 0 {
		return fmt.Errorf("%w: frame %d", ErrInvalidArgument, frame)
	}
	if len(columns) != m.cfg.NumFrameInfoColumns {
		return fmt.Errorf("%w: got %d frame info columns, want %d", ErrInvalidArgument, len(columns), m.cfg.NumFrameInfoColumns)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	fr := m.bucketLocked(frame)
	if fr == nil || fr.saved {
		m.counters.DroppedResults++
		return nil
	}
	fr.Timestamp = timestamp
	copy(fr.FrameInfo, columns)
	fr.HasFrameInfo = true
	m.advanceLocked()
	return nil
}

// bucketLocked returns the bucket for frame, creating it and any missing
// predecessors. Creating buckets past the memory bound evicts the oldest
// ones. It returns nil for frames already evicted.
func (m *Manager) bucketLocked(frame int) *FrameResult {
	c := &m.counters
	if frame < c.StartFrame {
		return nil
	}
	bound := int(m.cfg.MaxFramesInMemory)
	if bound > 0 && frame-c.CapturedFrames >= bound {
		m.skipToLocked(frame - bound + 1)
	}
	for c.CapturedFrames <= frame {
		if bound > 0 && len(m.buckets) >= bound {
			m.evictOldestLocked()
		}
		m.buckets = append(m.buckets, newFrameResult(c.CapturedFrames, m.cfg.NumBeads, m.cfg.NumFrameInfoColumns))
		c.CapturedFrames++
	}
	return m.buckets[frame-c.StartFrame]
}

// skipToLocked evicts every bucket and moves CapturedFrames to first in
// one step. The frames in between never held data and are counted as
// lost without allocating buckets for them.
func (m *Manager) skipToLocked(first int) {
	for len(m.buckets) > 0 {
		m.evictOldestLocked()
	}
	c := &m.counters
	n := first - c.CapturedFrames
	if n <= 0 {
		return
	}
	m.pending = append(m.pending, frameSpan{
		row:  Row{Frame: c.CapturedFrames, Removed: append([]bool(nil), m.removed...)},
		skip: n,
	})
	if !m.completeLocked(&FrameResult{}) {
		c.LostFrames += n
	}
	c.CapturedFrames = first
	c.StartFrame = first
	if c.ProcessedFrames < first {
		c.ProcessedFrames = first
	}
}

// evictOldestLocked drops the oldest bucket. An unwritten bucket is
// queued for writing as is, and counted as lost if incomplete.
func (m *Manager) evictOldestLocked() {
	c := &m.counters
	fr := m.buckets[0]
	m.buckets[0] = nil
	m.buckets = m.buckets[1:]
	c.StartFrame++

	if !fr.saved {
		if !m.completeLocked(fr) && !fr.lost {
			fr.lost = true
			c.LostFrames++
		}
		m.pending = append(m.pending, frameSpan{row: m.rowLocked(fr)})
	}
	if c.ProcessedFrames < c.StartFrame {
		c.ProcessedFrames = c.StartFrame
		m.advanceLocked()
	}
}

func (m *Manager) completeLocked(fr *FrameResult) bool {
	active := 0
	for _, rm := range m.removed {
		if !rm {
			active++
		}
	}
	if fr.Count < active {
		return false
	}
	return m.cfg.NumFrameInfoColumns == 0 || fr.HasFrameInfo
}

// advanceLocked moves ProcessedFrames past every complete bucket.
func (m *Manager) advanceLocked() {
	c := &m.counters
	for c.ProcessedFrames < c.CapturedFrames {
		fr := m.buckets[c.ProcessedFrames-c.StartFrame]
		if !fr.saved && !m.completeLocked(fr) {
			return
		}
		c.ProcessedFrames++
	}
}

func (m *Manager) rowLocked(fr *FrameResult) Row {
	row := Row{
		Frame:     fr.Frame,
		Timestamp: fr.Timestamp,
		Positions: make([]Vector3f, len(fr.Results)),
		Removed:   append([]bool(nil), m.removed...),
		FrameInfo: append([]float32(nil), fr.FrameInfo...),
	}
	for b, r := range fr.Results {
		if !fr.Filled[b] {
			row.Positions[b] = nanVector()
			continue
		}
		row.Positions[b] = m.cfg.Transform(r.Pos.X, r.Pos.Y, r.Pos.Z)
	}
	return row
}

// writeFrames hands eligible frames to the writer. Without force, frames
// are written once WriteInterval complete frames are waiting or evicted
// frames are pending. With force, every buffered frame is written and the
// incomplete ones are counted as lost.
func (m *Manager) writeFrames(force bool) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	c := &m.counters
	end := c.ProcessedFrames
	if force {
		end = c.CapturedFrames
	}
	if !force && len(m.pending) == 0 && end-c.LastSaveFrame < m.cfg.WriteInterval {
		m.mu.Unlock()
		return nil
	}

	spans := m.pending
	m.pending = nil
	var buffered []Row
	for f := max(c.LastSaveFrame, c.StartFrame); f < end; f++ {
		fr := m.buckets[f-c.StartFrame]
		if !m.completeLocked(fr) && !fr.lost {
			fr.lost = true
			c.LostFrames++
		}
		buffered = append(buffered, m.rowLocked(fr))
		fr.saved = true
	}
	if end > c.LastSaveFrame {
		c.LastSaveFrame = end
	}
	if c.ProcessedFrames < end {
		c.ProcessedFrames = end
	}
	m.mu.Unlock()

	rows := append(m.expandSpans(spans), buffered...)
	if len(rows) == 0 {
		return nil
	}
	if err := m.w.WriteRows(rows); err != nil {
		m.setFileError()
		return fmt.Errorf("write frames %d-%d: %w", rows[0].Frame, rows[len(rows)-1].Frame, err)
	}
	monitoring.Debugf("[results] wrote frames %d-%d", rows[0].Frame, rows[len(rows)-1].Frame)
	return nil
}

func (m *Manager) expandSpans(spans []frameSpan) []Row {
	var rows []Row
	for _, sp := range spans {
		if sp.skip == 0 {
			rows = append(rows, sp.row)
			continue
		}
		for i := 0; i < sp.skip; i++ {
			row := Row{
				Frame:     sp.row.Frame + i,
				Positions: make([]Vector3f, m.cfg.NumBeads),
				Removed:   sp.row.Removed,
				FrameInfo: make([]float32, m.cfg.NumFrameInfoColumns),
			}
			for b := range row.Positions {
				row.Positions[b] = nanVector()
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// Write writes the frames that the write interval allows, as the
// background loop does on every tick.
func (m *Manager) Write() error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	return m.writeFrames(false)
}

// Flush writes every buffered frame, complete or not, and syncs the
// output. When it returns without error, every result stored before the
// call is durable.
func (m *Manager) Flush() error {
	reply := make(chan error, 1)
	select {
	case m.flushReq <- reply:
	case <-m.done:
		return ErrClosed
	}
	return <-reply
}

// RemoveBeadResults excludes bead from completeness checks and from rows
// written from now on. It returns false if bead is out of range.
func (m *Manager) RemoveBeadResults(bead int) bool {
	if bead < 0 || bead >= m.cfg.NumBeads {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removed[bead] {
		return true
	}
	m.removed[bead] = true
	for _, fr := range m.buckets {
		if fr.Filled[bead] {
			fr.Count--
		}
	}
	m.advanceLocked()
	monitoring.Logf("[results] bead %d removed from output", bead)
	return true
}

// IsBeadRemoved reports whether RemoveBeadResults was called for bead.
func (m *Manager) IsBeadRemoved(bead int) bool {
	if bead < 0 || bead >= m.cfg.NumBeads {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removed[bead]
}

// GetFrameCounters returns a snapshot of the counters.
func (m *Manager) GetFrameCounters() FrameCounters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// GetFrameCount returns the number of buckets held in memory.
func (m *Manager) GetFrameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// GetResults returns copies of the buffered frames in
// [startFrame, startFrame+numFrames). Frames no longer in memory are
// skipped.
func (m *Manager) GetResults(startFrame, numFrames int) []FrameResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters
	from := max(startFrame, c.StartFrame)
	to := min(startFrame+numFrames, c.CapturedFrames)
	var out []FrameResult
	for f := from; f < to; f++ {
		out = append(out, m.buckets[f-c.StartFrame].clone())
	}
	return out
}

// GetBeadPositions returns the raw positions of bead in the buffered frames
// of [startFrame, endFrame). Frames where the bead has no result are
// skipped.
func (m *Manager) GetBeadPositions(startFrame, endFrame, bead int) ([]BeadPosition, error) {
	if bead < 0 || bead >= m.cfg.NumBeads {
		return nil, fmt.Errorf("%w: bead %d of %d", ErrInvalidArgument, bead, m.cfg.NumBeads)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters
	from := max(startFrame, c.StartFrame)
	to := min(endFrame, c.CapturedFrames)
	var out []BeadPosition
	for f := from; f < to; f++ {
		fr := m.buckets[f-c.StartFrame]
		if !fr.Filled[bead] {
			continue
		}
		r := fr.Results[bead]
		out = append(out, BeadPosition{
			Frame:       f,
			Timestamp:   fr.Timestamp,
			Pos:         r.Pos,
			BoundaryHit: r.Clamped(),
		})
	}
	return out, nil
}

// SaveSection writes the buffered frames in [startFrame, endFrame) to a
// separate file, regardless of what has been written to the main output.
func (m *Manager) SaveSection(startFrame, endFrame int, path string, format Format) error {
	m.mu.Lock()
	c := m.counters
	from := max(startFrame, c.StartFrame)
	to := min(endFrame, c.CapturedFrames)
	var rows []Row
	for f := from; f < to; f++ {
		rows = append(rows, m.rowLocked(m.buckets[f-c.StartFrame]))
	}
	m.mu.Unlock()

	if len(rows) == 0 {
		return fmt.Errorf("%w: frames [%d, %d) are not in memory", ErrInvalidArgument, startFrame, endFrame)
	}
	cfg := m.cfg
	cfg.Format = format
	w, err := OpenWriter(path, cfg)
	if err != nil {
		return err
	}
	if err := w.WriteRows(rows); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Close stops the background loop, which writes what the write interval
// allows, then closes the writer. Unwritten incomplete frames are left
// unwritten; call Flush first to keep them.
func (m *Manager) Close() error {
	var err error
	m.once.Do(func() {
		close(m.quit)
		<-m.done
		m.writeMu.Lock()
		err = m.w.Close()
		m.writeMu.Unlock()
		monitoring.Logf("[results] manager stopped")
	})
	return err
}
