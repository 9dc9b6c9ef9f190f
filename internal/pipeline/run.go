// Package pipeline runs the tracker offline over a directory of frames:
// it cuts one ROI per bead out of every frame, localizes them on the job
// queue and aggregates the results into an output file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/beadtrack/internal/config"
	"github.com/banshee-data/beadtrack/internal/imageio"
	"github.com/banshee-data/beadtrack/internal/monitoring"
	"github.com/banshee-data/beadtrack/internal/queue"
	"github.com/banshee-data/beadtrack/internal/results"
	"github.com/banshee-data/beadtrack/internal/results/sqlite"
	"github.com/banshee-data/beadtrack/internal/timeutil"
	"github.com/banshee-data/beadtrack/internal/track"
)

// prefetch is how many decoded frames may wait for scheduling.
const prefetch = 4

// Config describes one offline run.
type Config struct {
	Settings *config.Settings
	Frames   []string // image paths in frame order
	Output   string
	ZLUT     *track.ZLUT
	// FrameInterval spaces the frame timestamps. Zero uses one second.
	FrameInterval time.Duration
	// Progress, when set, is called after every scheduled frame.
	Progress func(frame int, c results.FrameCounters)
	// Attach, when set, receives the live aggregator before the first
	// frame is scheduled. It must not close it.
	Attach func(mgr *results.Manager)
	// Clock paces result forwarding and the aggregator. Nil uses the
	// real clock.
	Clock timeutil.Clock
}

// Summary is the outcome of Run.
type Summary struct {
	Counters results.FrameCounters
	RunID    string // sqlite output only
	Elapsed  time.Duration
}

type jobKey struct{ frame, bead int }

// tracker keeps the latest position of every bead in frame coordinates
// and the ROI origin of every job still in flight.
type tracker struct {
	mu      sync.Mutex
	pos     []track.Point2
	origins map[jobKey]image.Point
}

func newTracker(beads []config.BeadStart) *tracker {
	t := &tracker{pos: make([]track.Point2, len(beads)), origins: make(map[jobKey]image.Point)}
	for i, b := range beads {
		t.pos[i] = track.Point2{X: b.X, Y: b.Y}
	}
	return t
}

func (t *tracker) position(bead int) track.Point2 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos[bead]
}

func (t *tracker) scheduled(frame, bead int, origin image.Point) {
	t.mu.Lock()
	t.origins[jobKey{frame, bead}] = origin
	t.mu.Unlock()
}

// unschedule forgets a job that never reached the queue.
func (t *tracker) unschedule(frame, bead int) {
	t.mu.Lock()
	delete(t.origins, jobKey{frame, bead})
	t.mu.Unlock()
}

// translate moves a result into frame coordinates and follows the bead
// unless the estimate is unusable.
func (t *tracker) translate(r track.LocalizationResult) track.LocalizationResult {
	k := jobKey{r.Frame(), r.Bead()}
	t.mu.Lock()
	defer t.mu.Unlock()
	o := t.origins[k]
	delete(t.origins, k)

	r.Pos.X += float64(o.X)
	r.Pos.Y += float64(o.Y)
	r.FirstGuess.X += float64(o.X)
	r.FirstGuess.Y += float64(o.Y)
	if !r.Clamped() && !math.IsNaN(r.Pos.X) && !math.IsNaN(r.Pos.Y) {
		t.pos[r.Bead()] = r.Pos.XY()
	}
	return r
}

// Run tracks every frame of cfg and blocks until the output is written.
// Configured frame info columns are filled from frame statistics, see
// frameStats. Cancelling ctx stops scheduling; frames already queued are still
// aggregated and written before Run returns ctx's error.
func Run(ctx context.Context, cfg Config) (Summary, error) {
	start := time.Now()
	s := cfg.Settings
	if s == nil {
		return Summary{}, fmt.Errorf("%w: no settings", track.ErrInvalidArgument)
	}
	if err := s.Validate(); err != nil {
		return Summary{}, err
	}
	if len(s.Run.Beads) == 0 {
		return Summary{}, fmt.Errorf("%w: no bead start positions", track.ErrInvalidArgument)
	}
	mode := s.GetMode()
	if mode&track.LocalizeZ != 0 && cfg.ZLUT == nil {
		return Summary{}, fmt.Errorf("%w: z localization needs a ZLUT", track.ErrInvalidArgument)
	}
	if cfg.ZLUT != nil && cfg.ZLUT.Count < len(s.Run.Beads) {
		return Summary{}, fmt.Errorf("%w: ZLUT has %d beads, run has %d", track.ErrInvalidArgument,
			cfg.ZLUT.Count, len(s.Run.Beads))
	}
	info, err := newFrameInfo(s.ResultsConfig())
	if err != nil {
		return Summary{}, err
	}
	interval := cfg.FrameInterval
	if interval <= 0 {
		interval = time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	q, err := queue.NewCPUQueue(s.QueueConfig())
	if err != nil {
		return Summary{}, err
	}
	defer q.Close()
	if cfg.ZLUT != nil {
		q.SetZLUT(cfg.ZLUT)
	}

	var sum Summary
	mgr, err := openManager(cfg.Output, s, clock, &sum)
	if err != nil {
		return Summary{}, err
	}

	if cfg.Attach != nil {
		cfg.Attach(mgr)
	}
	trk := newTracker(s.Run.Beads)
	fwd := startForwarder(q, mgr, trk, clock, s.GetPollInterval())

	runErr := schedule(ctx, cfg, q, mgr, trk, info, mode, interval)

	q.Flush()
	fwd.stop()
	if err := mgr.Flush(); err != nil && runErr == nil {
		runErr = err
	}
	sum.Counters = mgr.GetFrameCounters()
	if err := mgr.Close(); err != nil && runErr == nil {
		runErr = err
	}
	sum.Elapsed = time.Since(start)
	monitoring.Logf("[pipeline] %d frames, %d localizations, %d lost in %v",
		sum.Counters.CapturedFrames, sum.Counters.LocalizationsDone, sum.Counters.LostFrames, sum.Elapsed.Round(time.Millisecond))
	return sum, runErr
}

func openManager(path string, s *config.Settings, clock timeutil.Clock, sum *Summary) (*results.Manager, error) {
	rcfg := s.ResultsConfig()
	opts := []results.Option{results.WithPollInterval(s.GetPollInterval()), results.WithClock(clock)}
	if rcfg.Format == results.FormatSQLite {
		mgr, store, err := sqlite.OpenManager(path, rcfg, opts...)
		if err != nil {
			return nil, err
		}
		sum.RunID = store.RunID()
		return mgr, nil
	}
	return results.Open(path, rcfg, opts...)
}

type loadedFrame struct {
	index int
	frame imageio.Frame
}

// schedule decodes frames ahead of the queue and submits one job per bead.
func schedule(ctx context.Context, cfg Config, q *queue.CPUQueue, mgr *results.Manager, trk *tracker,
	info frameInfo, mode track.LocalizeMode, interval time.Duration) error {
	s := cfg.Settings
	w, h := s.Tracker.Width, s.Tracker.Height

	g, gctx := errgroup.WithContext(ctx)
	frames := make(chan loadedFrame, prefetch)
	g.Go(func() error {
		defer close(frames)
		for i, path := range cfg.Frames {
			fr, err := imageio.LoadFrame(path)
			if err != nil {
				return err
			}
			select {
			case frames <- loadedFrame{index: i, frame: fr}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	g.Go(func() error {
		for lf := range frames {
			if err := gctx.Err(); err != nil {
				return err
			}
			ts := float64(lf.index) * interval.Seconds()
			if err := mgr.StoreFrameInfo(lf.index, ts, info.columns(lf.frame)); err != nil {
				return err
			}
			for b := range s.Run.Beads {
				if mgr.IsBeadRemoved(b) {
					continue
				}
				c := trk.position(b)
				roi, origin, err := lf.frame.ROICentered(c.X, c.Y, w, h)
				if err != nil {
					return fmt.Errorf("frame %d bead %d: %w", lf.index, b, err)
				}
				trk.scheduled(lf.index, b, origin)
				job := track.LocalizationJob{Frame: lf.index, Timestamp: ts, Mode: mode, Bead: b}
				if err := q.ScheduleFloat(roi, job); err != nil {
					trk.unschedule(lf.index, b)
					return err
				}
			}
			if cfg.Progress != nil {
				cfg.Progress(lf.index, mgr.GetFrameCounters())
			}
		}
		return nil
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ctx.Err()
	}
	return err
}

// forwarder moves finished results from the queue into the manager,
// translated into frame coordinates.
type forwarder struct {
	quit chan struct{}
	done chan struct{}
}

func startForwarder(q queue.JobQueue, mgr *results.Manager, trk *tracker, clock timeutil.Clock, every time.Duration) *forwarder {
	f := &forwarder{quit: make(chan struct{}), done: make(chan struct{})}
	t := clock.NewTicker(every)
	drain := func() {
		for _, r := range q.PollFinished(0) {
			mgr.StoreResult(trk.translate(r))
		}
	}
	go func() {
		defer close(f.done)
		defer t.Stop()
		for {
			select {
			case <-t.C():
				drain()
			case <-f.quit:
				drain()
				return
			}
		}
	}()
	return f
}

// stop performs a final drain and waits for the forwarder to exit.
func (f *forwarder) stop() {
	close(f.quit)
	<-f.done
}
